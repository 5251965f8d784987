package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LaunchSpec is everything a Launcher needs to start one browser.
type LaunchSpec struct {
	Config  SessionConfig
	Options []Option
	// Prepared is the value returned by the backend's Preparer, typically the
	// resolved browser binary path. Empty when the launcher has no preparer.
	Prepared string
}

// Launcher starts browser instances for one backend.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Session, error)
}

// Preparer is implemented by launchers that need a one-time local setup step
// (driver binary discovery or download) before the first launch.
type Preparer interface {
	Prepare(ctx context.Context, cfg SessionConfig) (string, error)
}

// Factory builds configured, ready-to-use sessions.
type Factory struct {
	logger    *zap.Logger
	launchers map[Backend]Launcher

	mu       sync.Mutex
	prepared map[Backend]func() (string, error)
}

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

// WithLauncher registers or replaces the launcher for a backend.
func WithLauncher(b Backend, l Launcher) FactoryOption {
	return func(f *Factory) {
		f.launchers[b] = l
	}
}

// WithLogger sets the factory logger.
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// NewFactory returns a factory wired with the chromedp launcher for chrome and
// edge and the playwright launcher for firefox.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		logger:    zap.NewNop(),
		launchers: make(map[Backend]Launcher),
		prepared:  make(map[Backend]func() (string, error)),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("driver")
	if _, ok := f.launchers[Chrome]; !ok {
		f.launchers[Chrome] = NewChromeLauncher(Chrome, f.logger)
	}
	if _, ok := f.launchers[Edge]; !ok {
		f.launchers[Edge] = NewChromeLauncher(Edge, f.logger)
	}
	if _, ok := f.launchers[Firefox]; !ok {
		f.launchers[Firefox] = NewFirefoxLauncher(f.logger)
	}
	return f
}

// CreateSession starts a browser for cfg, maximizes it and applies the
// standing timeouts. No browser is started when cfg names an unknown backend.
func (f *Factory) CreateSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if !cfg.Backend.Valid() {
		return nil, &ConfigurationError{Field: "browser", Value: string(cfg.Backend), Err: ErrUnsupportedBackend}
	}
	if !cfg.Mode.Valid() {
		return nil, &ConfigurationError{Field: "mode", Value: string(cfg.Mode), Err: ErrUnsupportedMode}
	}
	launcher, ok := f.launchers[cfg.Backend]
	if !ok || launcher == nil {
		return nil, &ConfigurationError{Field: "browser", Value: string(cfg.Backend), Err: ErrUnsupportedBackend}
	}

	prepared, err := f.prepare(ctx, cfg, launcher)
	if err != nil {
		return nil, fmt.Errorf("prepare %s driver: %w", cfg.Backend, err)
	}

	spec := LaunchSpec{
		Config:   cfg,
		Options:  OptionSet(cfg),
		Prepared: prepared,
	}
	sess, err := launcher.Launch(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("launch %s (%s): %w", cfg.Backend, cfg.Mode, err)
	}

	if err := sess.Maximize(ctx); err != nil {
		f.discard(sess)
		return nil, fmt.Errorf("maximize window: %w", err)
	}
	if err := sess.SetTimeouts(cfg.Timeouts()); err != nil {
		f.discard(sess)
		return nil, fmt.Errorf("apply timeouts: %w", err)
	}

	f.logger.Debug("session created",
		zap.String("session_id", sess.ID()),
		zap.String("backend", cfg.Backend.String()),
		zap.String("mode", cfg.Mode.String()),
		zap.Int("options", len(spec.Options)),
	)
	return sess, nil
}

// prepare runs the launcher's Preparer at most once per backend. Concurrent
// callers block on the same result.
func (f *Factory) prepare(ctx context.Context, cfg SessionConfig, l Launcher) (string, error) {
	p, ok := l.(Preparer)
	if !ok {
		return "", nil
	}
	f.mu.Lock()
	once, ok := f.prepared[cfg.Backend]
	if !ok {
		once = sync.OnceValues(func() (string, error) {
			// The result is shared by every later caller; it must not carry
			// the first caller's cancellation.
			return p.Prepare(context.WithoutCancel(ctx), cfg)
		})
		f.prepared[cfg.Backend] = once
	}
	f.mu.Unlock()
	return once()
}

func (f *Factory) discard(sess Session) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultPageLoadTimeout)
	defer cancel()
	if err := sess.Close(ctx); err != nil {
		f.logger.Warn("failed to close half-initialized session", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

// Close stops shared driver processes held by the launchers. Sessions must be
// closed by their owners first.
func (f *Factory) Close() error {
	var errs []error
	for backend, l := range f.launchers {
		stopper, ok := l.(interface{ Stop() error })
		if !ok {
			continue
		}
		if err := stopper.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s launcher: %w", backend, err))
		}
	}
	return errors.Join(errs...)
}
