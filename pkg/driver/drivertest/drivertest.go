// Package drivertest provides an in-memory driver.Session for tests that must
// not start a browser.
package drivertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kidandcat/loginharness/pkg/driver"
)

// PNG is a valid 2x2 image returned by Session.Screenshot.
var PNG = mustPNG()

func mustPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Element is the scripted state of one locator.
type Element struct {
	Present bool
	Visible bool
	Text    string
	Value   string
}

// Session is a scriptable driver.Session. Element states, the location and
// click reactions are set by the test; calls are recorded.
type Session struct {
	mu sync.Mutex

	id      string
	backend driver.Backend
	mode    driver.Mode

	url      string
	elements map[driver.Locator]*Element
	onClick  map[driver.Locator]func(*Session)
	timeouts driver.Timeouts

	Maximized bool
	Clicks    []driver.Locator
	Navigated []string
	Closes    int
	Probes    int

	CloseErr      error
	ScreenshotErr error
	console       []driver.ConsoleError
}

// NewSession returns an empty headless chrome session.
func NewSession() *Session {
	return &Session{
		id:       uuid.NewString(),
		backend:  driver.Chrome,
		mode:     driver.Headless,
		url:      "about:blank",
		elements: make(map[driver.Locator]*Element),
		onClick:  make(map[driver.Locator]func(*Session)),
	}
}

func (s *Session) ID() string              { return s.id }
func (s *Session) Backend() driver.Backend { return s.backend }
func (s *Session) Mode() driver.Mode       { return s.mode }

// Set replaces the scripted state of loc.
func (s *Session) Set(loc driver.Locator, el Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[loc] = &el
}

// Remove deletes loc from the page.
func (s *Session) Remove(loc driver.Locator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, loc)
}

// SetURL moves the session to url without a navigation.
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
}

// After runs fn against the session once d has elapsed.
func (s *Session) After(d time.Duration, fn func(*Session)) {
	time.AfterFunc(d, func() { fn(s) })
}

// OnClick registers a reaction to a click on loc.
func (s *Session) OnClick(loc driver.Locator, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClick[loc] = fn
}

// AddConsoleError records a console error as if the page logged it.
func (s *Session) AddConsoleError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.console = append(s.console, driver.ConsoleError{Message: msg, Type: "error", Timestamp: time.Now(), URL: s.url})
}

// Filled returns the current value typed into loc.
func (s *Session) Filled(loc driver.Locator) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.elements[loc]; ok {
		return el.Value
	}
	return ""
}

func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closes
}

func (s *Session) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closes > 0 {
		return driver.ErrSessionClosed
	}
	s.url = url
	s.Navigated = append(s.Navigated, url)
	return nil
}

func (s *Session) Location(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closes > 0 {
		return "", driver.ErrSessionClosed
	}
	return s.url, nil
}

func (s *Session) Element(_ context.Context, loc driver.Locator) (driver.ElementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Probes++
	if s.Closes > 0 {
		return driver.ElementState{}, driver.ErrSessionClosed
	}
	el, ok := s.elements[loc]
	if !ok || !el.Present {
		return driver.ElementState{}, nil
	}
	return driver.ElementState{Present: true, Visible: el.Visible}, nil
}

// lookup mimics an implicit wait by polling until loc is present.
func (s *Session) lookup(ctx context.Context, loc driver.Locator) (*Element, error) {
	deadline := time.Now().Add(s.Timeouts().Implicit)
	for {
		s.mu.Lock()
		el, ok := s.elements[loc]
		closed := s.Closes > 0
		s.mu.Unlock()
		if closed {
			return nil, driver.ErrSessionClosed
		}
		if ok && el.Present {
			return el, nil
		}
		if time.Now().After(deadline) {
			return nil, &driver.ElementNotFoundError{Locator: loc, Timeout: s.Timeouts().Implicit}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *Session) Fill(ctx context.Context, loc driver.Locator, value string) error {
	el, err := s.lookup(ctx, loc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	el.Value = value
	s.mu.Unlock()
	return nil
}

func (s *Session) Click(ctx context.Context, loc driver.Locator) error {
	el, err := s.lookup(ctx, loc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if !el.Visible {
		s.mu.Unlock()
		return fmt.Errorf("element %s is not visible", loc)
	}
	s.Clicks = append(s.Clicks, loc)
	react := s.onClick[loc]
	s.mu.Unlock()
	if react != nil {
		react(s)
	}
	return nil
}

func (s *Session) Text(ctx context.Context, loc driver.Locator) (string, error) {
	el, err := s.lookup(ctx, loc)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return el.Text, nil
}

func (s *Session) Screenshot(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScreenshotErr != nil {
		return nil, s.ScreenshotErr
	}
	if s.Closes > 0 {
		return nil, driver.ErrSessionClosed
	}
	out := make([]byte, len(PNG))
	copy(out, PNG)
	return out, nil
}

func (s *Session) Maximize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Maximized = true
	return nil
}

func (s *Session) SetTimeouts(t driver.Timeouts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts = t
	return nil
}

func (s *Session) Timeouts() driver.Timeouts {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeouts.Implicit == 0 {
		return driver.Timeouts{Implicit: 50 * time.Millisecond, PageLoad: time.Second}
	}
	return s.timeouts
}

func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closes++
	return s.CloseErr
}

func (s *Session) ConsoleErrors() []driver.ConsoleError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]driver.ConsoleError, len(s.console))
	copy(out, s.console)
	return out
}

// Launcher hands out fake sessions and counts launches and preparations.
type Launcher struct {
	mu       sync.Mutex
	Specs    []driver.LaunchSpec
	Sessions []*Session

	Prepares  atomic.Int32
	LaunchErr error
	// Setup, when set, scripts every new session before it is returned.
	Setup func(*Session)
}

func (l *Launcher) Prepare(_ context.Context, _ driver.SessionConfig) (string, error) {
	l.Prepares.Add(1)
	// Widen the window in which concurrent callers would race.
	time.Sleep(10 * time.Millisecond)
	return "/usr/bin/fake-browser", nil
}

func (l *Launcher) Launch(_ context.Context, spec driver.LaunchSpec) (driver.Session, error) {
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	s := NewSession()
	s.backend = spec.Config.Backend
	s.mode = spec.Config.Mode
	if l.Setup != nil {
		l.Setup(s)
	}
	l.mu.Lock()
	l.Specs = append(l.Specs, spec)
	l.Sessions = append(l.Sessions, s)
	l.mu.Unlock()
	return s, nil
}

// Launched returns the number of sessions started so far.
func (l *Launcher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Sessions)
}

// Factory returns a driver.Factory whose every backend uses l.
func (l *Launcher) Factory() *driver.Factory {
	opts := make([]driver.FactoryOption, 0, len(driver.Backends()))
	for _, b := range driver.Backends() {
		opts = append(opts, driver.WithLauncher(b, l))
	}
	return driver.NewFactory(opts...)
}

// ErrClose is a convenience teardown failure.
var ErrClose = errors.New("browser refused to close")
