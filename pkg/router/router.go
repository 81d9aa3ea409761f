// Package router owns one client endpoint per configured platform,
// dispatches outbound messages by platform identifier, and fans inbound
// messages out to registered handlers.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zizhongfeiyang/MaiM-Connect/pkg/client"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/logger"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/message"
)

// ErrUnknownPlatform is returned by Send when no target is configured for
// the message's platform. This is a caller error and is not retried.
var ErrUnknownPlatform = errors.New("unknown platform")

// ErrNotRunning is returned for operations that need a started router.
var ErrNotRunning = errors.New("router not running")

// Handler receives every inbound message arriving on any client endpoint.
type Handler func(*message.Message)

// Options are applied to every client endpoint the router creates.
type Options struct {
	Client client.Options
}

// Router maintains one reconnecting client per configured target.
type Router struct {
	opts Options

	mu       sync.RWMutex
	config   RouteConfig
	clients  map[string]*client.Client
	handlers []Handler
	running  bool

	runCtx context.Context
	cancel context.CancelFunc
}

// New creates a router from the given route table.
func New(config RouteConfig, opts Options) *Router {
	if config.Routes == nil {
		config.Routes = make(map[string]TargetConfig)
	}
	return &Router{
		opts:    opts,
		config:  config,
		clients: make(map[string]*client.Client),
	}
}

// RegisterHandler appends a handler. Handlers run synchronously in
// registration order for every inbound message; a panicking handler is
// isolated and logged.
func (r *Router) RegisterHandler(fn Handler) {
	r.mu.Lock()
	r.handlers = append(r.handlers, fn)
	r.mu.Unlock()
}

// Start creates and starts one client endpoint per configured target. Each
// client reconnects independently.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.runCtx, r.cancel = context.WithCancel(ctx)

	for platform, target := range r.config.Routes {
		r.startClientLocked(platform, target)
	}
	logger.InfoCF("router", "started", map[string]any{"platforms": len(r.config.Routes)})
	return nil
}

// Stop stops every owned client endpoint. Idempotent.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	clients := r.clients
	r.clients = make(map[string]*client.Client)
	r.mu.Unlock()

	for platform, c := range clients {
		if err := c.Stop(ctx); err != nil {
			logger.WarnCF("router", "client stop", map[string]any{
				"platform": platform,
				"error":    err.Error(),
			})
		}
	}
	logger.InfoC("router", "stopped")
	return nil
}

// Send routes a message to the client endpoint keyed by its platform.
func (r *Router) Send(m *message.Message) error {
	platform := m.Info.Platform
	r.mu.RLock()
	c, ok := r.clients[platform]
	_, configured := r.config.Routes[platform]
	r.mu.RUnlock()

	if !configured {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	if c == nil || !ok {
		return ErrNotRunning
	}
	return c.Send(m)
}

// ClientState reports the lifecycle state of one platform's endpoint, for
// monitoring and tests. The boolean is false for unconfigured platforms.
func (r *Router) ClientState(platform string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[platform]
	if !ok {
		return "", false
	}
	return c.State().String(), true
}

// Platforms lists the configured platform identifiers.
func (r *Router) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.config.Routes))
	for p := range r.config.Routes {
		out = append(out, p)
	}
	return out
}

// AddPlatform adds or replaces a target and, when the router is running,
// connects it immediately.
func (r *Router) AddPlatform(platform string, target TargetConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.clients[platform]; ok {
		go old.Stop(context.Background())
		delete(r.clients, platform)
	}
	r.config.Routes[platform] = target
	if r.running {
		r.startClientLocked(platform, target)
	}
}

// RemovePlatform drops a target and stops its endpoint if running.
func (r *Router) RemovePlatform(platform string) {
	r.mu.Lock()
	c := r.clients[platform]
	delete(r.clients, platform)
	delete(r.config.Routes, platform)
	r.mu.Unlock()
	if c != nil {
		c.Stop(context.Background())
	}
}

// UpdateConfig swaps in a new route table, reconnecting only the targets
// whose url or token changed and dropping the ones that disappeared.
func (r *Router) UpdateConfig(newConfig RouteConfig) {
	if newConfig.Routes == nil {
		newConfig.Routes = make(map[string]TargetConfig)
	}

	r.mu.RLock()
	old := make(map[string]TargetConfig, len(r.config.Routes))
	for p, t := range r.config.Routes {
		old[p] = t
	}
	r.mu.RUnlock()

	for platform := range old {
		if _, keep := newConfig.Routes[platform]; !keep {
			r.RemovePlatform(platform)
		}
	}
	for platform, target := range newConfig.Routes {
		if prev, ok := old[platform]; !ok || prev != target {
			r.AddPlatform(platform, target)
		}
	}
}

// startClientLocked creates and starts the endpoint for one target. Caller
// holds r.mu.
func (r *Router) startClientLocked(platform string, target TargetConfig) {
	c := client.New(target.URL, platform, target.Token, r.opts.Client)
	c.OnMessage(func(m *message.Message) { r.dispatch(m) })
	r.clients[platform] = c
	if err := c.Start(r.runCtx); err != nil {
		logger.ErrorCF("router", "client start", map[string]any{
			"platform": platform,
			"error":    err.Error(),
		})
	}
}

// dispatch fans one inbound message out to every handler in registration
// order. A handler that panics is logged and does not stop the rest.
func (r *Router) dispatch(m *message.Message) {
	r.mu.RLock()
	handlers := make([]Handler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	for i, fn := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorCF("router", "handler panic", map[string]any{
						"handler":  i,
						"platform": m.Info.Platform,
						"panic":    fmt.Sprint(rec),
					})
				}
			}()
			fn(m)
		}()
	}
}
