package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/soyeahso/smsforms/internal/hooks"
	"github.com/soyeahso/smsforms/internal/logging"
)

// Registry owns the plugins of one process. Plugins start in the order
// they were registered and stop in reverse.
type Registry struct {
	mu      sync.Mutex
	plugins []Plugin
	hooks   *hooks.Manager
	log     *logging.Logger
}

// NewRegistry creates a registry whose plugins subscribe to hm.
func NewRegistry(hm *hooks.Manager, log *logging.Logger) *Registry {
	return &Registry{hooks: hm, log: log.Sub("plugins")}
}

// Register queues p for InitAll. IDs must be unique.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, have := range r.plugins {
		if have.ID() == p.ID() {
			return fmt.Errorf("plugin already registered: %s", p.ID())
		}
	}
	r.plugins = append(r.plugins, p)
	return nil
}

// InitAll initializes the plugins. When one fails, those already
// initialized are closed again.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.plugins {
		api := API{Hooks: r.hooks, Log: r.log.Sub(p.ID())}
		if err := p.Init(ctx, api); err != nil {
			_ = closeAll(r.plugins[:i], r.log)
			return fmt.Errorf("init plugin %s: %w", p.ID(), err)
		}
		r.log.Debug().Str("id", p.ID()).Str("version", p.Version()).Msg("plugin ready")
	}
	return nil
}

// CloseAll closes every plugin and joins their errors.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return closeAll(r.plugins, r.log)
}

func closeAll(plugins []Plugin, log *logging.Logger) error {
	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Close(); err != nil {
			log.Error().Err(err).Str("id", p.ID()).Msg("plugin close failed")
			errs = append(errs, fmt.Errorf("close plugin %s: %w", p.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// List returns the plugin IDs in registration order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		ids[i] = p.ID()
	}
	return ids
}

// Info describes the registered plugins.
func (r *Registry) Info() []PluginInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]PluginInfo, len(r.plugins))
	for i, p := range r.plugins {
		infos[i] = PluginInfo{ID: p.ID(), Name: p.Name(), Version: p.Version()}
	}
	return infos
}

// PluginInfo identifies one plugin.
type PluginInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}
