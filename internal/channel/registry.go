// Package channel holds the messaging transports texts arrive on.
package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/logging"
	"golang.org/x/sync/errgroup"
)

// stopTimeout bounds how long Run waits for channels to shut down.
const stopTimeout = 5 * time.Second

// Registry manages a set of messaging channels keyed by ID.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	log      *logging.Logger
}

// NewRegistry creates a channel registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		log:      log.Sub("channels"),
	}
}

// Register adds a channel, replacing any channel with the same ID.
func (r *Registry) Register(ch domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[ch.ID()]; ok {
		r.log.Warn().Str("channel", ch.ID()).Msg("replacing registered channel")
	}
	r.channels[ch.ID()] = ch
	r.log.Info().Str("channel", ch.ID()).Msg("channel registered")
}

// Get returns a channel by ID.
func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// List returns all channel IDs in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Status returns the status of all registered channels, sorted by ID.
// Channels that do not report a status are assumed to be running.
func (r *Registry) Status() []domain.ChannelStatus {
	var statuses []domain.ChannelStatus
	for _, id := range r.List() {
		ch, ok := r.Get(id)
		if !ok {
			continue
		}
		if sc, ok := ch.(interface{ Status() domain.ChannelStatus }); ok {
			statuses = append(statuses, sc.Status())
			continue
		}
		statuses = append(statuses, domain.ChannelStatus{ChannelID: id, Running: true})
	}
	return statuses
}

// Run starts every channel and blocks until ctx is done, then stops them.
// Channel Start methods may block for the life of the connection, so each
// runs on its own goroutine. A channel that fails is logged and left down;
// it does not take the others with it.
func (r *Registry) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, id := range r.List() {
		ch, ok := r.Get(id)
		if !ok {
			continue
		}
		r.log.Info().Str("channel", id).Msg("starting channel")
		g.Go(func() error {
			if err := ch.Start(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Str("channel", id).Msg("channel exited with error")
			}
			return nil
		})
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := r.StopAll(stopCtx); err != nil {
		r.log.Warn().Err(err).Msg("channels did not stop cleanly")
	}
	return g.Wait()
}

// StopAll stops all registered channels and reports the first failure.
func (r *Registry) StopAll(ctx context.Context) error {
	var first error
	for _, id := range r.List() {
		ch, ok := r.Get(id)
		if !ok {
			continue
		}
		r.log.Info().Str("channel", id).Msg("stopping channel")
		if err := ch.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", id).Msg("failed to stop channel")
			if first == nil {
				first = fmt.Errorf("stopping %s: %w", id, err)
			}
		}
	}
	return first
}
