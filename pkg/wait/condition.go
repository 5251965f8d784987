// Package wait blocks until a condition over the page holds or a timeout
// elapses. Conditions only read the page.
package wait

import (
	"context"
	"fmt"
	"strings"

	"github.com/kidandcat/loginharness/pkg/driver"
)

// Probe is the read-only view of a session that conditions evaluate against.
type Probe interface {
	Element(ctx context.Context, loc driver.Locator) (driver.ElementState, error)
	Location(ctx context.Context) (string, error)
}

// Condition is a predicate over the current page state. Check returns
// (false, err) when the state could not be read; the engine treats that as
// "not yet".
type Condition interface {
	Check(ctx context.Context, p Probe) (bool, error)
	String() string
}

type visibility struct{ loc driver.Locator }

// VisibilityOf holds once loc is present and visible.
func VisibilityOf(loc driver.Locator) Condition { return visibility{loc} }

func (c visibility) Check(ctx context.Context, p Probe) (bool, error) {
	st, err := p.Element(ctx, c.loc)
	if err != nil {
		return false, err
	}
	return st.Present && st.Visible, nil
}

func (c visibility) String() string { return "visibility of " + c.loc.String() }

type invisibility struct{ loc driver.Locator }

// InvisibilityOf holds when loc is absent or hidden. An element that never
// rendered satisfies it on the first check.
func InvisibilityOf(loc driver.Locator) Condition { return invisibility{loc} }

func (c invisibility) Check(ctx context.Context, p Probe) (bool, error) {
	st, err := p.Element(ctx, c.loc)
	if err != nil {
		return false, err
	}
	return !st.Present || !st.Visible, nil
}

func (c invisibility) String() string { return "invisibility of " + c.loc.String() }

type urlContains struct{ fragment string }

// URLContains holds when the current location contains fragment.
func URLContains(fragment string) Condition { return urlContains{fragment} }

func (c urlContains) Check(ctx context.Context, p Probe) (bool, error) {
	loc, err := p.Location(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(loc, c.fragment), nil
}

func (c urlContains) String() string { return fmt.Sprintf("url containing %q", c.fragment) }

type anyVisible struct{ locs []driver.Locator }

// VisibilityOfAny holds once any of locs is present and visible.
func VisibilityOfAny(locs ...driver.Locator) Condition { return anyVisible{locs} }

func (c anyVisible) Check(ctx context.Context, p Probe) (bool, error) {
	_, ok, err := FirstVisible(ctx, p, c.locs...)
	return ok, err
}

func (c anyVisible) String() string {
	parts := make([]string, len(c.locs))
	for i, l := range c.locs {
		parts[i] = l.String()
	}
	return "visibility of any of [" + strings.Join(parts, " | ") + "]"
}

// FirstVisible returns the first of locs that is present and visible. The
// error is the last read failure, reported only when nothing matched.
func FirstVisible(ctx context.Context, p Probe, locs ...driver.Locator) (driver.Locator, bool, error) {
	var lastErr error
	for _, loc := range locs {
		st, err := p.Element(ctx, loc)
		if err != nil {
			lastErr = err
			continue
		}
		if st.Present && st.Visible {
			return loc, true, nil
		}
	}
	return driver.Locator{}, false, lastErr
}

// Func adapts a function into a Condition.
type Func struct {
	Name string
	Fn   func(ctx context.Context, p Probe) (bool, error)
}

func (f Func) Check(ctx context.Context, p Probe) (bool, error) { return f.Fn(ctx, p) }
func (f Func) String() string                                    { return f.Name }
