// Package alert delivers operator notices (failed poll passes, startup
// problems) to out-of-band channels such as a Telegram chat.
package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Handler delivers a message to the destination identified by target.
type Handler func(ctx context.Context, target, message string) error

// Registry routes messages to the appropriate handler based on target prefix
// (e.g. "telegram:", "log:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for targets starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver finds the handler matching the target prefix and calls it.
func (r *Registry) Deliver(ctx context.Context, target, message string) error {
	r.mu.RLock()
	var match Handler
	for prefix, handler := range r.handlers {
		if strings.HasPrefix(target, prefix) {
			match = handler
			break
		}
	}
	r.mu.RUnlock()

	if match == nil {
		return fmt.Errorf("no alert handler for target: %s", target)
	}
	return match(ctx, target, message)
}
