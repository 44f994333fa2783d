// Package answer turns free-text SMS answers into values the form engine
// accepts for a question's datatype.
package answer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/soyeahso/smsforms/internal/formplayer"
)

// ErrMissingContext is returned when there is no question to validate against.
var ErrMissingContext = errors.New("must provide a question for answer validation")

// ValidationError describes why an answer was rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Format validates raw against q and returns the text to submit.
//
// Integer questions must parse as a whole number. Select questions accept
// whitespace-separated tokens, each either a 1-based choice number or a
// choice label (case-insensitive); tokens are normalized to numbers.
// Anything else passes through unchanged.
func Format(raw string, q *formplayer.Question) (string, error) {
	if q == nil {
		return "", ErrMissingContext
	}

	switch {
	case q.IsInteger():
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return "", invalid("Answer must be a number")
		}
		return strconv.Itoa(n), nil

	case q.IsSelect() && strings.TrimSpace(raw) != "":
		tokens := strings.Fields(raw)
		out := make([]string, 0, len(tokens))
		for _, tok := range tokens {
			idx, err := choiceIndex(tok, q.Choices)
			if err != nil {
				return "", err
			}
			out = append(out, strconv.Itoa(idx))
		}
		return strings.Join(out, " "), nil
	}

	return raw, nil
}

func choiceIndex(tok string, choices []string) (int, error) {
	if n, err := strconv.Atoi(tok); err == nil {
		if n < 1 || n > len(choices) {
			return 0, invalid("Answer %d must be between 1 and %d", n, len(choices))
		}
		return n, nil
	}
	for i, c := range choices {
		if strings.EqualFold(strings.TrimSpace(c), tok) {
			return i + 1, nil
		}
	}
	return 0, invalid("Answer must be one of the choices")
}
