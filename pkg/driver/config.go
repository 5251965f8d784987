package driver

import "time"

const (
	DefaultImplicitWait    = 10 * time.Second
	DefaultPageLoadTimeout = 30 * time.Second

	ViewportWidth  = 1920
	ViewportHeight = 1080
)

// Point is a window position on the display.
type Point struct {
	X int
	Y int
}

// OffsetFor spreads headed windows across the display by execution-unit ordinal.
func OffsetFor(ordinal int) Point {
	if ordinal < 0 {
		ordinal = 0
	}
	return Point{X: 200 + ordinal*100, Y: 50 + ordinal*50}
}

// Timeouts are the two standing timeouts applied to every session.
type Timeouts struct {
	Implicit time.Duration
	PageLoad time.Duration
}

// SessionConfig describes one session to create. It is passed by value and
// never mutated after construction.
type SessionConfig struct {
	Backend         Backend
	Mode            Mode
	ImplicitWait    time.Duration
	PageLoadTimeout time.Duration
	// WindowOffset only applies to headed sessions.
	WindowOffset Point
	// ExecPath overrides binary discovery for chromium-based backends.
	ExecPath string
}

// NewSessionConfig returns a config with the default standing timeouts.
func NewSessionConfig(backend Backend, mode Mode) SessionConfig {
	return SessionConfig{
		Backend:         backend,
		Mode:            mode,
		ImplicitWait:    DefaultImplicitWait,
		PageLoadTimeout: DefaultPageLoadTimeout,
	}
}

// WithUnitOffset returns a copy positioned for the given execution-unit ordinal.
func (c SessionConfig) WithUnitOffset(ordinal int) SessionConfig {
	c.WindowOffset = OffsetFor(ordinal)
	return c
}

func (c SessionConfig) Timeouts() Timeouts {
	t := Timeouts{Implicit: c.ImplicitWait, PageLoad: c.PageLoadTimeout}
	if t.Implicit <= 0 {
		t.Implicit = DefaultImplicitWait
	}
	if t.PageLoad <= 0 {
		t.PageLoad = DefaultPageLoadTimeout
	}
	return t
}
