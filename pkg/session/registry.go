// Package session binds exactly one browser session to each execution unit
// and guarantees its teardown.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kidandcat/loginharness/pkg/driver"
	"github.com/kidandcat/loginharness/pkg/report"
)

const DefaultTeardownTimeout = 10 * time.Second

// Factory creates configured sessions.
type Factory interface {
	CreateSession(ctx context.Context, cfg driver.SessionConfig) (driver.Session, error)
}

type slot struct {
	unit Unit
	sess driver.Session // nil while the session is being created
}

// Registry holds one slot per execution unit.
type Registry struct {
	factory  Factory
	template driver.SessionConfig
	logger   *zap.Logger
	metrics  *Metrics
	teardown time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type Option func(*Registry)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithTeardownTimeout bounds artifact capture and session close.
func WithTeardownTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.teardown = d
		}
	}
}

// NewRegistry returns a registry that creates sessions from template, offset
// per unit ordinal.
func NewRegistry(factory Factory, template driver.SessionConfig, opts ...Option) *Registry {
	r := &Registry{
		factory:  factory,
		template: template,
		logger:   zap.NewNop(),
		teardown: DefaultTeardownTimeout,
		slots:    make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("session")
	return r
}

func unitOf(ctx context.Context, op string) (Unit, error) {
	u, ok := UnitFrom(ctx)
	if !ok {
		return Unit{}, &StateError{Op: op, Err: ErrNoExecutionUnit}
	}
	return u, nil
}

// Begin creates a session and binds it to the unit carried by ctx. It fails
// with ErrSessionAlreadyActive, leaving the bound session untouched, when the
// unit already has one.
func (r *Registry) Begin(ctx context.Context) (driver.Session, error) {
	unit, err := unitOf(ctx, "begin")
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, ok := r.slots[unit.ID]; ok {
		r.mu.Unlock()
		return nil, &StateError{Unit: unit.Name, Op: "begin", Err: ErrSessionAlreadyActive}
	}
	s := &slot{unit: unit}
	r.slots[unit.ID] = s
	r.mu.Unlock()

	cfg := r.template.WithUnitOffset(unit.Ordinal)
	sess, err := r.factory.CreateSession(ctx, cfg)
	if err != nil {
		r.mu.Lock()
		delete(r.slots, unit.ID)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	s.sess = sess
	r.mu.Unlock()

	r.metrics.sessionStarted(cfg.Backend.String())
	r.logger.Info("session started",
		zap.String("unit", unit.Name),
		zap.Int("ordinal", unit.Ordinal),
		zap.String("session_id", sess.ID()),
		zap.String("backend", cfg.Backend.String()),
		zap.String("mode", cfg.Mode.String()),
	)
	return sess, nil
}

// Current returns the session bound to the unit carried by ctx.
func (r *Registry) Current(ctx context.Context) (driver.Session, error) {
	unit, err := unitOf(ctx, "current")
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[unit.ID]
	if !ok || s.sess == nil {
		return nil, &StateError{Unit: unit.Name, Op: "current", Err: ErrNoActiveSession}
	}
	return s.sess, nil
}

// Capture screenshots the unit's live session.
func (r *Registry) Capture(ctx context.Context, label string) (*report.Artifact, error) {
	sess, err := r.Current(ctx)
	if err != nil {
		return nil, err
	}
	return r.capture(ctx, sess, label)
}

func (r *Registry) capture(ctx context.Context, sess driver.Session, label string) (*report.Artifact, error) {
	data, err := sess.Screenshot(ctx)
	if err != nil {
		return nil, &ArtifactCaptureError{Label: label, Err: err}
	}
	r.metrics.artifactCaptured()
	return report.NewArtifact(label, data), nil
}

// End unbinds and closes the unit's session. When failed is set, a screenshot
// is captured first and returned. End never fails: capture and close errors
// are logged, and the slot is cleared before either is attempted. Calling End
// with nothing bound returns nil.
func (r *Registry) End(ctx context.Context, failed bool) *report.Artifact {
	unit, ok := UnitFrom(ctx)
	if !ok {
		r.logger.Warn("end called without an execution unit")
		return nil
	}

	r.mu.Lock()
	s, ok := r.slots[unit.ID]
	if ok && s.sess != nil {
		delete(r.slots, unit.ID)
	}
	r.mu.Unlock()
	if !ok || s.sess == nil {
		return nil
	}

	// Teardown runs even when the test's context was cancelled.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.teardown)
	defer cancel()

	logger := r.logger.With(zap.String("unit", unit.Name), zap.String("session_id", s.sess.ID()))

	var art *report.Artifact
	if failed {
		var err error
		art, err = r.capture(tctx, s.sess, "failure")
		if err != nil {
			logger.Warn("failed to capture failure screenshot", zap.Error(err))
		}
	}

	if err := s.sess.Close(tctx); err != nil {
		r.metrics.teardownFailed()
		logger.Error("session teardown failed", zap.Error(err))
	} else {
		logger.Info("session ended", zap.Bool("failed", failed))
	}
	r.metrics.sessionEnded(s.sess.Backend().String(), failed)
	return art
}

// Scope runs fn with a session bound to the unit carried by ctx and ends the
// session on every exit path. A panic in fn is recovered and returned as a
// *PanicError. The returned artifact is the teardown screenshot taken when fn
// failed.
func (r *Registry) Scope(ctx context.Context, fn func(ctx context.Context) error) (art *report.Artifact, err error) {
	if _, err := r.Begin(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("recovered panic in scoped test", zap.Any("panic", p), zap.Stack("stack"))
			err = &PanicError{Value: p}
		}
		art = r.End(ctx, err != nil)
	}()
	return nil, fn(ctx)
}

// Active returns the number of bound sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.slots {
		if s.sess != nil {
			n++
		}
	}
	return n
}

// Shutdown closes every bound session concurrently. It is used when the run
// is interrupted while tests still hold sessions.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	pending := make([]*slot, 0, len(r.slots))
	for id, s := range r.slots {
		if s.sess != nil {
			pending = append(pending, s)
			delete(r.slots, id)
		}
	}
	r.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	r.logger.Info("shutting down live sessions", zap.Int("sessions", len(pending)))
	var wg sync.WaitGroup
	for _, s := range pending {
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			closeCtx, cancel := context.WithTimeout(ctx, r.teardown)
			defer cancel()
			if err := s.sess.Close(closeCtx); err != nil {
				r.metrics.teardownFailed()
				r.logger.Warn("error closing session during shutdown",
					zap.String("unit", s.unit.Name),
					zap.String("session_id", s.sess.ID()),
					zap.Error(err),
				)
			}
			r.metrics.sessionEnded(s.sess.Backend().String(), true)
		}(s)
	}
	wg.Wait()
}
