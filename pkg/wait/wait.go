package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kidandcat/loginharness/pkg/driver"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultInterval = 500 * time.Millisecond
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("condition not met before timeout")

var errElapsed = errors.New("wait timeout elapsed")

// TimeoutError reports a condition that never held.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
	// Last is the most recent probe error, if any.
	Last error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.Condition)
	if e.Last != nil {
		msg += " (last error: " + e.Last.Error() + ")"
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) Unwrap() error        { return e.Last }

// IsTimeout reports whether err is a wait timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Waiter polls conditions. The zero value uses the default timeout and
// interval.
type Waiter struct {
	Timeout  time.Duration
	Interval time.Duration
	Logger   *zap.Logger
}

// New returns a waiter with the given timeout and the default interval.
func New(timeout time.Duration, logger *zap.Logger) Waiter {
	return Waiter{Timeout: timeout, Interval: DefaultInterval, Logger: logger}
}

// WithTimeout returns a copy of w with a different timeout.
func (w Waiter) WithTimeout(d time.Duration) Waiter {
	w.Timeout = d
	return w
}

func (w Waiter) timeout() time.Duration {
	if w.Timeout <= 0 {
		return DefaultTimeout
	}
	return w.Timeout
}

func (w Waiter) interval() time.Duration {
	if w.Interval <= 0 {
		return DefaultInterval
	}
	return w.Interval
}

func (w Waiter) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

// Until blocks until cond holds. It checks once immediately and then on every
// interval tick. It returns a *TimeoutError when the timeout elapses and the
// context error when ctx ends first.
func (w Waiter) Until(ctx context.Context, p Probe, cond Condition) error {
	timeout := w.timeout()
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, errElapsed)
	defer cancel()

	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	var last error
	for {
		ok, err := cond.Check(ctx, p)
		if ok {
			return nil
		}
		if err != nil {
			last = err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if context.Cause(ctx) == errElapsed {
				w.logger().Debug("wait timed out",
					zap.Stringer("condition", cond),
					zap.Duration("timeout", timeout),
					zap.NamedError("last_error", last),
				)
				return &TimeoutError{Condition: cond.String(), Timeout: timeout, Last: last}
			}
			return ctx.Err()
		}
	}
}

// Holds is Until as a boolean: a timeout yields false with no error. Context
// cancellation is still returned.
func (w Waiter) Holds(ctx context.Context, p Probe, cond Condition) (bool, error) {
	err := w.Until(ctx, p, cond)
	switch {
	case err == nil:
		return true, nil
	case IsTimeout(err):
		return false, nil
	default:
		return false, err
	}
}

// Visible waits for loc to become visible and reports a timeout as
// *driver.ElementNotFoundError.
func (w Waiter) Visible(ctx context.Context, p Probe, loc driver.Locator) error {
	err := w.Until(ctx, p, VisibilityOf(loc))
	if IsTimeout(err) {
		return &driver.ElementNotFoundError{Locator: loc, Timeout: w.timeout(), Err: err}
	}
	return err
}

// AnyVisible waits until one of locs is visible and returns it. A timeout is
// reported as *driver.ElementNotFoundError for the first locator.
func (w Waiter) AnyVisible(ctx context.Context, p Probe, locs ...driver.Locator) (driver.Locator, error) {
	if len(locs) == 0 {
		return driver.Locator{}, errors.New("no locator given")
	}
	var matched driver.Locator
	cond := Func{
		Name: VisibilityOfAny(locs...).String(),
		Fn: func(ctx context.Context, p Probe) (bool, error) {
			loc, ok, err := FirstVisible(ctx, p, locs...)
			if ok {
				matched = loc
			}
			return ok, err
		},
	}
	err := w.Until(ctx, p, cond)
	if IsTimeout(err) {
		return driver.Locator{}, &driver.ElementNotFoundError{Locator: locs[0], Timeout: w.timeout(), Err: err}
	}
	if err != nil {
		return driver.Locator{}, err
	}
	return matched, nil
}

// Step is one sub-wait of a composite wait.
type Step struct {
	Condition  Condition
	BestEffort bool
}

// Required is a step whose timeout fails the composite.
func Required(c Condition) Step { return Step{Condition: c} }

// BestEffort is a step whose timeout is ignored.
func BestEffort(c Condition) Step { return Step{Condition: c, BestEffort: true} }

// All runs steps in order, each with the full timeout. It succeeds when every
// required step held. Cancellation aborts regardless of step kind.
func (w Waiter) All(ctx context.Context, p Probe, steps ...Step) error {
	for _, s := range steps {
		err := w.Until(ctx, p, s.Condition)
		if err == nil {
			continue
		}
		if s.BestEffort && IsTimeout(err) {
			w.logger().Debug("best-effort wait skipped", zap.Stringer("condition", s.Condition))
			continue
		}
		return err
	}
	return nil
}
