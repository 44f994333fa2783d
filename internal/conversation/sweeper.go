package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/store"
)

// Sweeper ends sessions nobody has answered for a while.
type Sweeper struct {
	sessions store.SessionStore
	notify   Notifier
	idle     time.Duration
	now      func() time.Time
	log      *logging.Logger
}

// NewSweeper creates a sweeper closing sessions idle for longer than idle.
func NewSweeper(sessions store.SessionStore, notify Notifier, idle time.Duration, log *logging.Logger) *Sweeper {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Sweeper{
		sessions: sessions,
		notify:   notify,
		idle:     idle,
		now:      time.Now,
		log:      log.Sub("sweeper"),
	}
}

// Sweep ends every idle session once and returns how many it closed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.sessions.ListIdle(ctx, now.Add(-s.idle))
	if err != nil {
		return 0, fmt.Errorf("listing idle sessions: %w", err)
	}

	closed := 0
	for _, sess := range stale {
		sess.End(now)
		err := s.sessions.Save(ctx, sess)
		if errors.Is(err, store.ErrSessionEnded) {
			s.log.Debug().Str("session", sess.ID).Msg("idle session already closed")
			continue
		}
		if err != nil {
			s.log.Warn().Err(err).Str("session", sess.ID).Msg("could not close idle session")
			continue
		}
		closed++
		s.notify.SessionEnded(ctx, sess, EndIdle)
	}
	if closed > 0 {
		s.log.Info().Int("closed", closed).Dur("idle", s.idle).Msg("closed idle sessions")
	}
	return closed, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
