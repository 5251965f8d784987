package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// FirefoxLauncher drives Firefox through playwright. Firefox sessions take no
// configurable option set; only headless/headed is honoured.
type FirefoxLauncher struct {
	logger *zap.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

func NewFirefoxLauncher(logger *zap.Logger) *FirefoxLauncher {
	return &FirefoxLauncher{logger: logger.Named("firefox")}
}

func runOptions() *playwright.RunOptions {
	return &playwright.RunOptions{
		Browsers: []string{"firefox"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
}

// Prepare installs the playwright driver and the firefox build, then starts
// the playwright driver process shared by all firefox sessions.
func (l *FirefoxLauncher) Prepare(_ context.Context, _ SessionConfig) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw != nil {
		return "", nil
	}
	if err := playwright.Install(runOptions()); err != nil {
		return "", fmt.Errorf("install playwright firefox: %w", err)
	}
	pw, err := playwright.Run(runOptions())
	if err != nil {
		return "", fmt.Errorf("start playwright: %w", err)
	}
	l.pw = pw
	l.logger.Info("playwright driver ready")
	return "", nil
}

func (l *FirefoxLauncher) Launch(_ context.Context, spec LaunchSpec) (Session, error) {
	l.mu.Lock()
	pw := l.pw
	l.mu.Unlock()
	if pw == nil {
		return nil, errors.New("playwright driver not prepared")
	}

	br, err := pw.Firefox.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(spec.Config.Mode == Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("launch firefox: %w", err)
	}
	bctx, err := br.NewContext()
	if err != nil {
		br.Close()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		br.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	s := &firefoxSession{
		id:       uuid.NewString(),
		mode:     spec.Config.Mode,
		browser:  br,
		context:  bctx,
		page:     page,
		timeouts: spec.Config.Timeouts(),
		logger:   l.logger,
	}
	l.logger.Info("browser started", zap.String("session_id", s.id), zap.String("mode", s.mode.String()))
	return s, nil
}

// Stop shuts the shared playwright driver down.
func (l *FirefoxLauncher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	return err
}

type firefoxSession struct {
	id   string
	mode Mode

	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	mu       sync.Mutex
	timeouts Timeouts
	closed   bool

	logger *zap.Logger
}

func (s *firefoxSession) ID() string       { return s.id }
func (s *firefoxSession) Backend() Backend { return Firefox }
func (s *firefoxSession) Mode() Mode       { return s.mode }

func (s *firefoxSession) Timeouts() Timeouts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeouts
}

func (s *firefoxSession) SetTimeouts(t Timeouts) error {
	if t.Implicit <= 0 || t.PageLoad <= 0 {
		return fmt.Errorf("timeouts must be positive: %+v", t)
	}
	s.mu.Lock()
	s.timeouts = t
	s.mu.Unlock()
	s.page.SetDefaultTimeout(millis(t.Implicit))
	s.page.SetDefaultNavigationTimeout(millis(t.PageLoad))
	return nil
}

func (s *firefoxSession) Navigate(_ context.Context, url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout: playwright.Float(millis(s.Timeouts().PageLoad)),
	})
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *firefoxSession) Location(_ context.Context) (string, error) {
	return s.page.URL(), nil
}

func (s *firefoxSession) Element(_ context.Context, loc Locator) (ElementState, error) {
	l := s.page.Locator(selector(loc))
	count, err := l.Count()
	if err != nil {
		return ElementState{}, fmt.Errorf("probe %s: %w", loc, err)
	}
	if count == 0 {
		return ElementState{}, nil
	}
	visible, err := l.First().IsVisible()
	if err != nil {
		return ElementState{}, fmt.Errorf("probe %s: %w", loc, err)
	}
	return ElementState{Present: true, Visible: visible}, nil
}

func (s *firefoxSession) Fill(_ context.Context, loc Locator, value string) error {
	implicit := s.Timeouts().Implicit
	err := s.page.Locator(selector(loc)).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(millis(implicit)),
	})
	return lookupError(loc, implicit, err)
}

func (s *firefoxSession) Click(_ context.Context, loc Locator) error {
	implicit := s.Timeouts().Implicit
	err := s.page.Locator(selector(loc)).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(millis(implicit)),
	})
	return lookupError(loc, implicit, err)
}

func (s *firefoxSession) Text(_ context.Context, loc Locator) (string, error) {
	implicit := s.Timeouts().Implicit
	text, err := s.page.Locator(selector(loc)).First().InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(millis(implicit)),
	})
	if err != nil {
		return "", lookupError(loc, implicit, err)
	}
	return text, nil
}

func (s *firefoxSession) Screenshot(_ context.Context) ([]byte, error) {
	buf, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *firefoxSession) Maximize(_ context.Context) error {
	return s.page.SetViewportSize(ViewportWidth, ViewportHeight)
}

func (s *firefoxSession) Close(_ context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := errors.Join(s.page.Close(), s.context.Close(), s.browser.Close())
	s.logger.Debug("browser closed", zap.String("session_id", s.id), zap.Error(err))
	return err
}

func selector(loc Locator) string {
	if loc.Strategy == XPath {
		return "xpath=" + loc.Value
	}
	return "css=" + loc.Value
}

func millis(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}

func lookupError(loc Locator, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &ElementNotFoundError{Locator: loc, Timeout: timeout, Err: err}
	}
	return err
}
