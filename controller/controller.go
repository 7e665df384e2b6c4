// Package controller switches a participant between hosting and consuming
// the shared filesystem as its session role changes.
//
// The Controller owns all role-dependent state. Role-change callbacks only
// wake its event goroutine, which re-reads the current role and converges
// on it; that goroutine is the only writer of the active component. On a
// role flip the previous component is fully stopped (service withdrawn, or
// provider unregistered) before the new one starts, so a participant never
// serves and consumes at the same time.
package controller

import (
	"context"
	"sync"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/guest"
	"github.com/jmgilman/vslsfs/host"
	"github.com/jmgilman/vslsfs/internal/logging"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/provider"
	"github.com/jmgilman/vslsfs/session"
	"github.com/jmgilman/vslsfs/storage"
)

// State is the filesystem capability the participant currently exposes.
type State int

// Controller states.
const (
	StateIdle State = iota
	StateHostActive
	StateGuestActive
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHostActive:
		return "host-active"
	case StateGuestActive:
		return "guest-active"
	default:
		return "unknown"
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. It is also handed to the dispatcher and the
// proxy.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithScheme sets the scheme the guest provider is registered for.
func WithScheme(scheme string) Option {
	return func(c *Controller) {
		if scheme != "" {
			c.scheme = scheme
		}
	}
}

// WithHostOptions configures every dispatcher the controller starts.
func WithHostOptions(opts ...host.Option) Option {
	return func(c *Controller) {
		c.hostOpts = append(c.hostOpts, opts...)
	}
}

// WithGuestOptions configures every proxy the controller creates.
func WithGuestOptions(opts ...guest.Option) Option {
	return func(c *Controller) {
		c.guestOpts = append(c.guestOpts, opts...)
	}
}

// Controller activates the host dispatcher or the guest proxy according to
// the session role.
type Controller struct {
	sess     session.Session
	backend  storage.Backend
	registry provider.Registry
	logger   *logging.Logger
	scheme   string

	hostOpts  []host.Option
	guestOpts []guest.Option

	mu    sync.RWMutex
	state State
	// Written only by the event goroutine.
	dispatcher   *host.Dispatcher
	proxy        *guest.Proxy
	registration provider.Disposable

	lifecycle   sync.Mutex
	running     bool
	kick        chan struct{}
	quit        chan struct{}
	done        chan struct{}
	unsubscribe func()
	evaluations chan State
	cancelRun   context.CancelFunc
}

// New creates an idle Controller. backend serves the host role; registry
// receives the guest provider.
func New(sess session.Session, backend storage.Backend, registry provider.Registry, opts ...Option) *Controller {
	c := &Controller{
		sess:     sess,
		backend:  backend,
		registry: registry,
		logger:   logging.NewNopLogger(),
		scheme:   protocol.DefaultScheme,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "controller")
	c.hostOpts = append([]host.Option{host.WithLogger(c.logger)}, c.hostOpts...)
	c.guestOpts = append([]guest.Option{guest.WithLogger(c.logger)}, c.guestOpts...)
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Dispatcher returns the active dispatcher, or nil.
func (c *Controller) Dispatcher() *host.Dispatcher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dispatcher
}

// Proxy returns the active guest proxy, or nil.
func (c *Controller) Proxy() *guest.Proxy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proxy
}

// Start subscribes to role changes and evaluates the current role. It
// returns once the first evaluation has finished. If ctx ends first, Start
// aborts the evaluation, leaves the controller stopped and Idle, and
// returns the context error; Start may be called again.
func (c *Controller) Start(ctx context.Context) error {
	if c.sess == nil {
		return errors.New(errors.CodeSessionUnavailable, "no session")
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.running {
		return nil
	}

	c.kick = make(chan struct{}, 1)
	c.quit = make(chan struct{})
	c.done = make(chan struct{})
	c.evaluations = make(chan State, 1)
	c.running = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelRun = cancel
	c.unsubscribe = c.sess.OnRoleChanged(func(session.Role) { c.wake() })
	go c.run(runCtx)

	c.wake()
	select {
	case <-c.evaluations:
		return nil
	case <-ctx.Done():
		c.cancelRun()
		c.halt()
		<-c.done
		return ctx.Err()
	}
}

// halt marks the controller stopped and tells the event goroutine to
// deactivate and exit. Callers hold lifecycle.
func (c *Controller) halt() {
	c.running = false
	c.unsubscribe()
	close(c.quit)
}

// Stop unsubscribes from role changes, deactivates the active component and
// waits for the event goroutine to exit.
func (c *Controller) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if !c.running {
		return nil
	}
	c.halt()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wake schedules an evaluation. Wakes that arrive while one is pending
// collapse into it, since evaluation reads the current role.
func (c *Controller) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer c.cancelRun()
	for {
		select {
		case <-c.kick:
			state := c.evaluate(ctx)
			select {
			case c.evaluations <- state:
			default:
			}
		case <-c.quit:
			c.deactivate(context.WithoutCancel(ctx))
			return
		}
	}
}

// evaluate converges on the session's current role.
func (c *Controller) evaluate(ctx context.Context) State {
	role := c.sess.Role()
	if !c.sess.Connected() {
		role = session.RoleNone
	}
	current := c.State()

	switch role {
	case session.RoleHost:
		if current == StateHostActive {
			return current
		}
		c.deactivate(ctx)
		c.activateHost(ctx)
	case session.RoleGuest:
		if current == StateGuestActive {
			return current
		}
		c.deactivate(ctx)
		c.activateGuest(ctx)
	default:
		c.deactivate(ctx)
	}

	state := c.State()
	if state != current {
		c.logger.Info(ctx, "filesystem role changed", "role", role.String(),
			"from", current.String(), "to", state.String())
	}
	return state
}

func (c *Controller) activateHost(ctx context.Context) {
	d := host.NewDispatcher(c.sess, c.backend, c.hostOpts...)
	if err := d.Start(ctx); err != nil {
		c.logger.Error(ctx, "failed to start host filesystem", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatcher = d
	c.state = StateHostActive
}

func (c *Controller) activateGuest(ctx context.Context) {
	p, err := guest.NewProxy(ctx, c.sess, c.guestOpts...)
	if err != nil {
		c.logger.Error(ctx, "failed to connect guest filesystem", "error", err)
		return
	}
	reg, err := c.registry.RegisterFileSystemProvider(c.scheme, p)
	if err != nil {
		p.Close()
		c.logger.Error(ctx, "failed to register guest filesystem", "scheme", c.scheme, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxy = p
	c.registration = reg
	c.state = StateGuestActive
}

// deactivate stops whichever component is active and returns to Idle.
func (c *Controller) deactivate(ctx context.Context) {
	c.mu.Lock()
	d, p, reg := c.dispatcher, c.proxy, c.registration
	c.dispatcher, c.proxy, c.registration = nil, nil, nil
	c.state = StateIdle
	c.mu.Unlock()

	if d != nil {
		if err := d.Stop(ctx); err != nil {
			c.logger.Warn(ctx, "failed to stop host filesystem cleanly", "error", err)
		}
	}
	if reg != nil {
		reg.Dispose()
	}
	if p != nil {
		p.Close()
	}
}
