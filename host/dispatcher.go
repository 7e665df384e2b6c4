package host

import (
	"context"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/internal/logging"
	"github.com/jmgilman/vslsfs/internal/metrics"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/session"
	"github.com/jmgilman/vslsfs/storage"
	"github.com/jmgilman/vslsfs/translate"
)

// State is the lifecycle state of a Dispatcher.
type State int

// Dispatcher states.
const (
	StateInactive State = iota
	StateStarting
	StateActive
	StateStopped
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithServiceName sets the name the service is shared under.
func WithServiceName(name string) Option {
	return func(d *Dispatcher) {
		if name != "" {
			d.serviceName = name
		}
	}
}

// WithTranslatorOptions configures the URI translator.
func WithTranslatorOptions(opts ...translate.Option) Option {
	return func(d *Dispatcher) {
		d.translatorOpts = append(d.translatorOpts, opts...)
	}
}

// WithWorkspaceRoot sets the local directory the workspace watcher covers.
// Without it the root is resolved from the session at Start.
func WithWorkspaceRoot(root string) Option {
	return func(d *Dispatcher) {
		d.root = root
	}
}

// WithWatchPattern sets the glob the workspace watcher applies below the
// root. Defaults to "**".
func WithWatchPattern(pattern string) Option {
	return func(d *Dispatcher) {
		if pattern != "" {
			d.pattern = pattern
		}
	}
}

// WithWatchExcludes sets globs, relative to the workspace root, whose
// changes are never reported.
func WithWatchExcludes(patterns ...string) Option {
	return func(d *Dispatcher) {
		d.excludePatterns = append(d.excludePatterns, patterns...)
	}
}

// Dispatcher serves filesystem requests from guests.
type Dispatcher struct {
	sess       session.Session
	backend    storage.Backend
	translator *translate.Translator
	logger     *logging.Logger
	metrics    *metrics.Metrics

	serviceName     string
	translatorOpts  []translate.Option
	root            string
	pattern         string
	excludePatterns []string
	excludes        []glob.Glob

	watches *watchRegistry

	mu      sync.RWMutex
	state   State
	service session.Service
	watcher storage.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates an inactive Dispatcher.
func NewDispatcher(sess session.Session, backend storage.Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sess:        sess,
		backend:     backend,
		logger:      logging.NewNopLogger(),
		metrics:     metrics.New(),
		serviceName: protocol.DefaultServiceName,
		pattern:     "**",
		watches:     newWatchRegistry(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.translator = translate.New(sess, d.translatorOpts...)
	d.logger = d.logger.With("component", "host", "service", d.serviceName)
	return d
}

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Metrics returns the request metrics.
func (d *Dispatcher) Metrics() *metrics.Metrics { return d.metrics }

// Watches returns the number of watch registrations.
func (d *Dispatcher) Watches() int { return d.watches.len() }

// Start shares the service and opens the workspace watcher. Starting an
// active Dispatcher does nothing.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateStarting, StateActive:
		d.mu.Unlock()
		return nil
	case StateStopped:
		d.mu.Unlock()
		return errors.New(errors.CodeSessionUnavailable, "dispatcher is stopped")
	}
	d.state = StateStarting
	d.mu.Unlock()

	excludes, err := compileAll(d.excludePatterns)
	if err != nil {
		d.setState(StateInactive)
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid watch exclude")
	}
	d.excludes = excludes

	svc, err := d.sess.ShareService(ctx, d.serviceName)
	if err != nil {
		d.setState(StateInactive)
		return errors.WrapWithContext(err, errors.CodeSessionUnavailable,
			"failed to share service", map[string]interface{}{"service": d.serviceName})
	}
	if svc == nil {
		d.setState(StateInactive)
		return errors.WithContext(
			errors.New(errors.CodeSessionUnavailable, "session refused to share the service"),
			"service", d.serviceName)
	}
	d.registerHandlers(svc)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	watcher := d.openWatcher(runCtx)

	d.mu.Lock()
	if d.state != StateStarting {
		// Stopped while sharing.
		d.mu.Unlock()
		cancel()
		if watcher != nil {
			_ = watcher.Close()
		}
		_ = d.sess.UnshareService(ctx, d.serviceName)
		return errors.New(errors.CodeSessionUnavailable, "dispatcher stopped during start")
	}
	d.service = svc
	d.watcher = watcher
	d.cancel = cancel
	d.state = StateActive
	if watcher != nil {
		d.wg.Add(1)
		go d.pump(runCtx, svc, watcher)
	}
	d.mu.Unlock()

	d.logger.Info(ctx, "host filesystem service started", "root", d.root)
	return nil
}

// Stop withdraws the service, closes the workspace watcher and drops every
// watch registration.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.state == StateStopped {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopped
	svc, watcher, cancel := d.service, d.watcher, d.cancel
	d.service, d.watcher, d.cancel = nil, nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			d.logger.Warn(ctx, "failed to close workspace watcher", "error", err)
		}
	}
	d.wg.Wait()
	d.watches.clear()

	var err error
	if svc != nil {
		if uerr := d.sess.UnshareService(ctx, d.serviceName); uerr != nil {
			err = errors.Wrap(uerr, errors.CodeSessionUnavailable, "failed to unshare service")
		}
	}

	d.logSnapshot(ctx)
	return err
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateStarting {
		d.state = s
	}
}

// openWatcher creates the workspace watcher. Failures leave the dispatcher
// running without change notifications.
func (d *Dispatcher) openWatcher(ctx context.Context) storage.Watcher {
	if d.root == "" {
		root, err := d.translator.Resolve(ctx, d.translator.Scheme()+":/")
		if err != nil {
			d.logger.Warn(ctx, "cannot resolve workspace root, change notifications disabled", "error", err)
			return nil
		}
		d.root = root
	}

	w, err := d.backend.Watch(d.root, d.pattern)
	if err != nil {
		d.logger.Warn(ctx, "cannot watch workspace, change notifications disabled",
			"root", d.root, "error", err)
		return nil
	}
	return w
}

func (d *Dispatcher) logSnapshot(ctx context.Context) {
	snap := d.metrics.Snapshot()
	d.logger.Info(ctx, "host filesystem service stopped",
		"requests", snap.Requests,
		"errors", snap.Errors,
		"bytes_read", snap.BytesRead,
		"bytes_written", snap.BytesWritten,
		"notifications", snap.Notifications,
		"uptime", snap.Uptime.Round(time.Second).String(),
	)
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := storage.CompilePattern(p)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}
