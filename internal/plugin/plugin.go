// Package plugin manages optional subscribers to the session event bus.
// Built-in plugins run shell commands and forward events to webhooks.
package plugin

import (
	"context"

	"github.com/soyeahso/smsforms/internal/hooks"
	"github.com/soyeahso/smsforms/internal/logging"
)

// Plugin is implemented by everything the registry manages.
type Plugin interface {
	// ID returns a unique identifier for the plugin (e.g., "webhooks").
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Version returns the plugin version string.
	Version() string

	// Init registers the plugin's hook handlers.
	Init(ctx context.Context, api API) error

	// Close unregisters handlers and waits for in-flight work.
	Close() error
}

// API is what a plugin receives at Init.
type API struct {
	Hooks *hooks.Manager
	Log   *logging.Logger
}
