// Package loginpage drives the login screen of the application under test.
package loginpage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kidandcat/loginharness/pkg/driver"
	"github.com/kidandcat/loginharness/pkg/wait"
)

// SessionSource yields the session bound to the calling execution unit.
type SessionSource interface {
	Current(ctx context.Context) (driver.Session, error)
}

// State is the position of the login flow.
type State int

const (
	Idle State = iota
	CredentialsEntered
	Submitted
	Succeeded
	Failed
	TimedOut
)

var stateNames = [...]string{"idle", "credentials_entered", "submitted", "succeeded", "failed", "timed_out"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Page is the login screen of one execution unit. Transitions are recorded,
// not enforced: any operation may be called in any state.
type Page struct {
	source   SessionSource
	locators Locators
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	history []State
}

type Option func(*Page)

func WithLocators(l Locators) Option {
	return func(p *Page) { p.locators = l }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Page) { p.logger = logger }
}

// WithPollInterval sets how often waits re-check the page.
func WithPollInterval(d time.Duration) Option {
	return func(p *Page) { p.interval = d }
}

func New(source SessionSource, opts ...Option) *Page {
	p := &Page{
		source:   source,
		locators: DefaultLocators(),
		interval: wait.DefaultInterval,
		logger:   zap.NewNop(),
		history:  []State{Idle},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current state.
func (p *Page) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// History returns every state entered, starting with Idle.
func (p *Page) History() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]State, len(p.history))
	copy(out, p.history)
	return out
}

func (p *Page) transition(s State) {
	p.mu.Lock()
	from := p.state
	p.state = s
	p.history = append(p.history, s)
	p.mu.Unlock()
	p.logger.Debug("login flow transition", zap.Stringer("from", from), zap.Stringer("to", s))
}

func (p *Page) waiter(timeout time.Duration) wait.Waiter {
	return wait.Waiter{Timeout: timeout, Interval: p.interval, Logger: p.logger}
}

// Open navigates to url and resets the flow to Idle.
func (p *Page) Open(ctx context.Context, url string) error {
	sess, err := p.source.Current(ctx)
	if err != nil {
		return err
	}
	if err := sess.Navigate(ctx, url); err != nil {
		return err
	}
	p.transition(Idle)
	return nil
}

// EnterIdentifier waits for the identifier field, clears it and types value.
func (p *Page) EnterIdentifier(ctx context.Context, value string) error {
	sess, err := p.source.Current(ctx)
	if err != nil {
		return err
	}
	loc := p.locators.Identifier
	if err := p.waiter(sess.Timeouts().Implicit).Visible(ctx, sess, loc); err != nil {
		return err
	}
	if err := sess.Fill(ctx, loc, value); err != nil {
		return fmt.Errorf("enter identifier: %w", err)
	}
	p.logger.Debug("identifier entered")
	return nil
}

// EnterSecret types value into the secret field. The field is expected to be
// rendered together with the identifier field, so it is located directly.
func (p *Page) EnterSecret(ctx context.Context, value string) error {
	sess, err := p.source.Current(ctx)
	if err != nil {
		return err
	}
	if err := sess.Fill(ctx, p.locators.Secret, value); err != nil {
		return fmt.Errorf("enter secret: %w", err)
	}
	p.transition(CredentialsEntered)
	return nil
}

// Submit clicks the first visible submit control.
func (p *Page) Submit(ctx context.Context) error {
	sess, err := p.source.Current(ctx)
	if err != nil {
		return err
	}
	if len(p.locators.Submit) == 0 {
		return fmt.Errorf("submit: no submit locator configured")
	}
	control, err := p.waiter(sess.Timeouts().Implicit).AnyVisible(ctx, sess, p.locators.Submit...)
	if err != nil {
		return err
	}
	if err := sess.Click(ctx, control); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	p.logger.Debug("login submitted", zap.Stringer("control", control))
	p.transition(Submitted)
	return nil
}

// Login enters both credentials and submits.
func (p *Page) Login(ctx context.Context, identifier, secret string) error {
	if err := p.EnterIdentifier(ctx, identifier); err != nil {
		return err
	}
	if err := p.EnterSecret(ctx, secret); err != nil {
		return err
	}
	return p.Submit(ctx)
}

// AwaitSuccess waits out the loading indicator, if any, then requires the
// location to contain fragment. The result is re-read from the page after the
// wait, so a location that matched and then changed reports false.
func (p *Page) AwaitSuccess(ctx context.Context, fragment string, timeout time.Duration) (bool, error) {
	sess, err := p.source.Current(ctx)
	if err != nil {
		return false, err
	}

	steps := make([]wait.Step, 0, 2)
	if !p.locators.Spinner.IsZero() {
		steps = append(steps, wait.BestEffort(wait.InvisibilityOf(p.locators.Spinner)))
	}
	steps = append(steps, wait.Required(wait.URLContains(fragment)))

	err = p.waiter(timeout).All(ctx, sess, steps...)
	if err != nil && !wait.IsTimeout(err) {
		return false, err
	}

	loc, lerr := sess.Location(ctx)
	if lerr != nil {
		return false, fmt.Errorf("read location: %w", lerr)
	}
	ok := strings.Contains(loc, fragment)
	if ok {
		p.transition(Succeeded)
	} else {
		p.transition(TimedOut)
	}
	p.logger.Debug("awaited login success", zap.String("location", loc), zap.Bool("matched", ok))
	return ok, nil
}

// AwaitError reports whether the error banner became visible within timeout.
// Its absence is a result, not an error.
func (p *Page) AwaitError(ctx context.Context, timeout time.Duration) (bool, error) {
	sess, err := p.source.Current(ctx)
	if err != nil {
		return false, err
	}
	ok, err := p.waiter(timeout).Holds(ctx, sess, wait.VisibilityOf(p.locators.ErrorBanner))
	if err != nil {
		return false, err
	}
	if ok {
		p.transition(Failed)
	}
	return ok, nil
}

// ReadErrorText waits for the error banner and returns its rendered text. It
// fails with *driver.ElementNotFoundError when the banner never appears.
func (p *Page) ReadErrorText(ctx context.Context, timeout time.Duration) (string, error) {
	sess, err := p.source.Current(ctx)
	if err != nil {
		return "", err
	}
	loc := p.locators.ErrorBanner
	if err := p.waiter(timeout).Visible(ctx, sess, loc); err != nil {
		return "", err
	}
	text, err := sess.Text(ctx, loc)
	if err != nil {
		return "", fmt.Errorf("read error text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
