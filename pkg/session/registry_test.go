package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kidandcat/loginharness/pkg/driver"
	"github.com/kidandcat/loginharness/pkg/driver/drivertest"
)

func newTestRegistry(t *testing.T, launcher *drivertest.Launcher) (*Registry, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	r := NewRegistry(
		launcher.Factory(),
		driver.NewSessionConfig(driver.Chrome, driver.Headed),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(NewMetrics(reg)),
		WithTeardownTimeout(time.Second),
	)
	return r, reg
}

func unitCtx(name string, ordinal int) context.Context {
	return WithUnit(context.Background(), NewUnit(name, ordinal))
}

func TestBeginBindsSessionPerUnit(t *testing.T) {
	launcher := &drivertest.Launcher{}
	r, _ := newTestRegistry(t, launcher)

	ctx := unitCtx("valid login", 2)
	sess, err := r.Begin(ctx)
	require.NoError(t, err)

	cur, err := r.Current(ctx)
	require.NoError(t, err)
	assert.Same(t, sess, cur)
	assert.Equal(t, 1, r.Active())

	spec := launcher.Specs[0]
	assert.Equal(t, driver.Point{X: 400, Y: 150}, spec.Config.WindowOffset)
	assert.Contains(t, spec.Options, driver.Option{Name: "window-position", Value: "400,150"})
}

func TestBeginTwiceFails(t *testing.T) {
	launcher := &drivertest.Launcher{}
	r, _ := newTestRegistry(t, launcher)
	ctx := unitCtx("double", 0)

	first, err := r.Begin(ctx)
	require.NoError(t, err)

	_, err = r.Begin(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionAlreadyActive)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "begin", stateErr.Op)

	cur, err := r.Current(ctx)
	require.NoError(t, err)
	assert.Same(t, first, cur, "the original session must stay bound")
	assert.Equal(t, 1, launcher.Launched())
	assert.Zero(t, launcher.Sessions[0].Closed())
}

func TestBeginWithoutUnit(t *testing.T) {
	r, _ := newTestRegistry(t, &drivertest.Launcher{})
	_, err := r.Begin(context.Background())
	assert.ErrorIs(t, err, ErrNoExecutionUnit)

	_, err = r.Current(context.Background())
	assert.ErrorIs(t, err, ErrNoExecutionUnit)

	assert.Nil(t, r.End(context.Background(), true))
}

func TestBeginFactoryErrorFreesSlot(t *testing.T) {
	launcher := &drivertest.Launcher{LaunchErr: errors.New("no display")}
	r, _ := newTestRegistry(t, launcher)
	ctx := unitCtx("broken", 0)

	_, err := r.Begin(ctx)
	require.Error(t, err)
	assert.Zero(t, r.Active())

	launcher.LaunchErr = nil
	_, err = r.Begin(ctx)
	assert.NoError(t, err, "a failed begin must not leave the slot reserved")
}

func TestEndWithoutSessionIsNoop(t *testing.T) {
	r, _ := newTestRegistry(t, &drivertest.Launcher{})
	ctx := unitCtx("idle", 0)
	assert.Nil(t, r.End(ctx, false))
	assert.Nil(t, r.End(ctx, true))
}

func TestEndPassedClosesWithoutArtifact(t *testing.T) {
	launcher := &drivertest.Launcher{}
	r, reg := newTestRegistry(t, launcher)
	ctx := unitCtx("ok", 0)

	_, err := r.Begin(ctx)
	require.NoError(t, err)

	assert.Nil(t, r.End(ctx, false))
	assert.Equal(t, 1, launcher.Sessions[0].Closed())
	assert.Nil(t, r.End(ctx, false), "second end is a no-op")
	assert.Equal(t, 1, launcher.Sessions[0].Closed(), "teardown runs exactly once")

	_, err = r.Current(ctx)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	assert.Equal(t, float64(0), testutil.ToFloat64(r.metrics.teardown))
	expected := `
# HELP loginharness_sessions_ended_total Browser sessions torn down, by test outcome.
# TYPE loginharness_sessions_ended_total counter
loginharness_sessions_ended_total{backend="chrome",outcome="passed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "loginharness_sessions_ended_total"))
}

func TestEndFailedCapturesBeforeClose(t *testing.T) {
	launcher := &drivertest.Launcher{}
	r, _ := newTestRegistry(t, launcher)
	ctx := unitCtx("fails", 0)

	_, err := r.Begin(ctx)
	require.NoError(t, err)

	art := r.End(ctx, true)
	require.NotNil(t, art)
	assert.Equal(t, "failure", art.Label)
	cfg, err := art.Decode()
	require.NoError(t, err)
	assert.Positive(t, cfg.Width)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.artifacts))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.metrics.active))
}

func TestEndSwallowsTeardownErrors(t *testing.T) {
	launcher := &drivertest.Launcher{Setup: func(s *drivertest.Session) {
		s.CloseErr = drivertest.ErrClose
		s.ScreenshotErr = errors.New("renderer crashed")
	}}
	r, _ := newTestRegistry(t, launcher)
	ctx := unitCtx("double failure", 0)

	_, err := r.Begin(ctx)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		assert.Nil(t, r.End(ctx, true))
	})
	assert.Zero(t, r.Active(), "slot is cleared even when close fails")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.teardown))

	_, err = r.Begin(ctx)
	assert.NoError(t, err)
}

func TestEndAfterCancelledContext(t *testing.T) {
	launcher := &drivertest.Launcher{}
	r, _ := newTestRegistry(t, launcher)
	ctx, cancel := context.WithCancel(unitCtx("cancelled", 0))

	_, err := r.Begin(ctx)
	require.NoError(t, err)
	cancel()

	art := r.End(ctx, true)
	assert.NotNil(t, art, "capture still runs on a cancelled test context")
	assert.Equal(t, 1, launcher.Sessions[0].Closed())
}

func TestScope(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		launcher := &drivertest.Launcher{}
		r, _ := newTestRegistry(t, launcher)
		art, err := r.Scope(unitCtx("ok", 0), func(ctx context.Context) error {
			_, err := r.Current(ctx)
			return err
		})
		require.NoError(t, err)
		assert.Nil(t, art)
		assert.Equal(t, 1, launcher.Sessions[0].Closed())
	})

	t.Run("error", func(t *testing.T) {
		launcher := &drivertest.Launcher{}
		r, _ := newTestRegistry(t, launcher)
		boom := errors.New("assertion failed")
		art, err := r.Scope(unitCtx("fails", 0), func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NotNil(t, art)
		assert.Zero(t, r.Active())
	})

	t.Run("panic", func(t *testing.T) {
		launcher := &drivertest.Launcher{}
		r, _ := newTestRegistry(t, launcher)
		art, err := r.Scope(unitCtx("panics", 0), func(context.Context) error {
			var m map[string]int
			m["x"] = 1
			return nil
		})
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.NotNil(t, art)
		assert.Equal(t, 1, launcher.Sessions[0].Closed())
		assert.Zero(t, r.Active())
	})

	t.Run("begin failure skips fn", func(t *testing.T) {
		launcher := &drivertest.Launcher{LaunchErr: errors.New("no browser")}
		r, _ := newTestRegistry(t, launcher)
		called := false
		_, err := r.Scope(unitCtx("never", 0), func(context.Context) error {
			called = true
			return nil
		})
		assert.Error(t, err)
		assert.False(t, called)
	})
}

func TestCapture(t *testing.T) {
	launcher := &drivertest.Launcher{}
	r, _ := newTestRegistry(t, launcher)
	ctx := unitCtx("mid test", 0)

	_, err := r.Capture(ctx, "before")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = r.Begin(ctx)
	require.NoError(t, err)
	art, err := r.Capture(ctx, "after login")
	require.NoError(t, err)
	assert.Equal(t, "after login", art.Label)

	launcher.Sessions[0].ScreenshotErr = errors.New("gpu lost")
	_, err = r.Capture(ctx, "broken")
	assert.ErrorIs(t, err, ErrArtifactCapture)
}

func TestConcurrentUnitsAreIsolated(t *testing.T) {
	launcher := &drivertest.Launcher{}
	r, _ := newTestRegistry(t, launcher)

	const units = 6
	var wg sync.WaitGroup
	seen := make([]driver.Session, units)
	for i := 0; i < units; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := unitCtx("unit", i)
			_, err := r.Scope(ctx, func(ctx context.Context) error {
				sess, err := r.Current(ctx)
				if err != nil {
					return err
				}
				seen[i] = sess
				time.Sleep(10 * time.Millisecond)
				again, err := r.Current(ctx)
				if err != nil {
					return err
				}
				if again != sess {
					return errors.New("session changed under the unit")
				}
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, s := range seen {
		require.NotNil(t, s)
		ids[s.ID()] = true
	}
	assert.Len(t, ids, units)
	assert.Zero(t, r.Active())
}

func TestShutdownClosesLiveSessions(t *testing.T) {
	launcher := &drivertest.Launcher{}
	r, _ := newTestRegistry(t, launcher)

	for i := 0; i < 3; i++ {
		_, err := r.Begin(unitCtx("live", i))
		require.NoError(t, err)
	}
	launcher.Sessions[1].CloseErr = drivertest.ErrClose

	r.Shutdown(context.Background())
	assert.Zero(t, r.Active())
	for _, s := range launcher.Sessions {
		assert.Equal(t, 1, s.Closed())
	}
	r.Shutdown(context.Background())
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.sessionStarted("chrome")
		m.sessionEnded("chrome", true)
		m.teardownFailed()
		m.artifactCaptured()
	})
}
