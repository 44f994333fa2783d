package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// CommandHandler runs command through the shell for each event, with the
// JSON payload on stdin and the event name in SMSFORMS_EVENT.
func CommandHandler(command string, timeout time.Duration) Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(os.Environ(), "SMSFORMS_EVENT="+p.Event)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("hook command %q: %w: %s", command, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil
	}
}
