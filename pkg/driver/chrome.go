package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var binaryCandidates = map[Backend][]string{
	Chrome: {
		"google-chrome",
		"google-chrome-stable",
		"chromium",
		"chromium-browser",
		"chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	},
	Edge: {
		"microsoft-edge",
		"microsoft-edge-stable",
		"msedge",
		"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
	},
}

// ChromeLauncher starts chromium-based browsers through the DevTools protocol.
// Every session gets its own browser process.
type ChromeLauncher struct {
	backend Backend
	logger  *zap.Logger
}

func NewChromeLauncher(backend Backend, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{backend: backend, logger: logger.Named(string(backend))}
}

// Prepare resolves the browser binary.
func (l *ChromeLauncher) Prepare(_ context.Context, cfg SessionConfig) (string, error) {
	if cfg.ExecPath != "" {
		if _, err := os.Stat(cfg.ExecPath); err != nil {
			return "", fmt.Errorf("browser binary %s: %w", cfg.ExecPath, err)
		}
		return cfg.ExecPath, nil
	}
	for _, name := range binaryCandidates[l.backend] {
		if path, err := exec.LookPath(name); err == nil {
			l.logger.Debug("resolved browser binary", zap.String("path", path))
			return path, nil
		}
	}
	return "", fmt.Errorf("no %s binary found in PATH (tried %v)", l.backend, binaryCandidates[l.backend])
}

// AllocatorOptions converts a launch spec into chromedp allocator options.
func AllocatorOptions(spec LaunchSpec) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if spec.Prepared != "" {
		opts = append(opts, chromedp.ExecPath(spec.Prepared))
	}
	if spec.Config.Mode == Headed {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	for _, o := range spec.Options {
		if o.Value == "" {
			opts = append(opts, chromedp.Flag(o.Name, true))
		} else {
			opts = append(opts, chromedp.Flag(o.Name, o.Value))
		}
	}
	return opts
}

func (l *ChromeLauncher) Launch(ctx context.Context, spec LaunchSpec) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(spec)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Errorf),
	)

	s := &chromeSession{
		id:          uuid.NewString(),
		backend:     l.backend,
		mode:        spec.Config.Mode,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		timeouts:    spec.Config.Timeouts(),
		logger:      l.logger,
	}
	s.listenConsole()

	// The first Run starts the browser and binds it to tabCtx, so it must not
	// run under the caller's context.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx)
	}()
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	l.logger.Info("browser started",
		zap.String("session_id", s.id),
		zap.String("mode", s.mode.String()),
	)
	return s, nil
}

type chromeSession struct {
	id      string
	backend Backend
	mode    Mode

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	mu            sync.Mutex
	timeouts      Timeouts
	lastURL       string
	consoleErrors []ConsoleError
	closed        bool

	logger *zap.Logger
}

func (s *chromeSession) ID() string       { return s.id }
func (s *chromeSession) Backend() Backend { return s.backend }
func (s *chromeSession) Mode() Mode       { return s.mode }

func (s *chromeSession) Timeouts() Timeouts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeouts
}

func (s *chromeSession) SetTimeouts(t Timeouts) error {
	if t.Implicit <= 0 || t.PageLoad <= 0 {
		return fmt.Errorf("timeouts must be positive: %+v", t)
	}
	s.mu.Lock()
	s.timeouts = t
	s.mu.Unlock()
	return nil
}

// scope derives an operation context from the browser context, bounded by d
// and by the caller's deadline and cancellation.
func (s *chromeSession) scope(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(s.ctx, d)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		opCtx, cancelDeadline = context.WithDeadline(opCtx, deadline)
		outer := cancel
		cancel = func() {
			cancelDeadline()
			outer()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) run(ctx context.Context, d time.Duration, actions ...chromedp.Action) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	opCtx, cancel := s.scope(ctx, d)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.Timeouts().PageLoad, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	s.mu.Lock()
	s.lastURL = url
	s.mu.Unlock()
	return nil
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.Timeouts().Implicit, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.lastURL = loc
	s.mu.Unlock()
	return loc, nil
}

func (s *chromeSession) Element(ctx context.Context, loc Locator) (ElementState, error) {
	script, err := probeScript(loc)
	if err != nil {
		return ElementState{}, err
	}
	var state ElementState
	if err := s.run(ctx, s.Timeouts().Implicit, chromedp.Evaluate(script, &state)); err != nil {
		return ElementState{}, fmt.Errorf("probe %s: %w", loc, err)
	}
	return state, nil
}

func (s *chromeSession) Fill(ctx context.Context, loc Locator, value string) error {
	implicit := s.Timeouts().Implicit
	by := queryOption(loc)
	err := s.run(ctx, implicit,
		chromedp.Clear(loc.Value, by),
		chromedp.SendKeys(loc.Value, value, by),
	)
	return lookupError(loc, implicit, err)
}

func (s *chromeSession) Click(ctx context.Context, loc Locator) error {
	implicit := s.Timeouts().Implicit
	err := s.run(ctx, implicit, chromedp.Click(loc.Value, queryOption(loc), chromedp.NodeVisible))
	return lookupError(loc, implicit, err)
}

func (s *chromeSession) Text(ctx context.Context, loc Locator) (string, error) {
	implicit := s.Timeouts().Implicit
	var text string
	err := s.run(ctx, implicit, chromedp.Text(loc.Value, &text, queryOption(loc), chromedp.NodeVisible))
	if err != nil {
		return "", lookupError(loc, implicit, err)
	}
	return text, nil
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 makes chromedp capture PNG.
	if err := s.run(ctx, s.Timeouts().PageLoad, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Maximize maximizes headed windows. Headless windows have no display to fill,
// so they are pinned to the fixed viewport instead.
func (s *chromeSession) Maximize(ctx context.Context) error {
	bounds := &browser.Bounds{WindowState: browser.WindowStateMaximized}
	if s.mode == Headless {
		bounds = &browser.Bounds{
			WindowState: browser.WindowStateNormal,
			Width:       ViewportWidth,
			Height:      ViewportHeight,
		}
	}
	return s.run(ctx, s.Timeouts().PageLoad, chromedp.ActionFunc(func(ctx context.Context) error {
		windowID, _, err := browser.GetWindowForTarget().Do(ctx)
		if err != nil {
			return err
		}
		return browser.SetWindowBounds(windowID, bounds).Do(ctx)
	}))
}

func (s *chromeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Cancel(s.ctx)
	}()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("graceful browser close: %w", ctx.Err())
	}
	s.cancel()
	s.allocCancel()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Debug("browser closed", zap.String("session_id", s.id), zap.Error(err))
	return err
}

func (s *chromeSession) ConsoleErrors() []ConsoleError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConsoleError, len(s.consoleErrors))
	copy(out, s.consoleErrors)
	return out
}

func (s *chromeSession) listenConsole() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			if ev.Type != runtime.APITypeError {
				return
			}
			var message string
			if len(ev.Args) > 0 && ev.Args[0].Value != nil {
				message = string(ev.Args[0].Value)
			}
			s.mu.Lock()
			s.consoleErrors = append(s.consoleErrors, ConsoleError{
				Message:   message,
				Type:      string(ev.Type),
				Timestamp: time.Now(),
				URL:       s.lastURL,
			})
			s.mu.Unlock()
		}
	})
}

func (s *chromeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func queryOption(loc Locator) chromedp.QueryOption {
	if loc.Strategy == XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

const probeTemplate = `(function() {
	var el = %s;
	if (!el) { return {present: false, visible: false}; }
	var style = window.getComputedStyle(el);
	var rect = el.getBoundingClientRect();
	var visible = style.display !== 'none' && style.visibility !== 'hidden' &&
		parseFloat(style.opacity || '1') > 0 && rect.width > 0 && rect.height > 0;
	return {present: true, visible: visible};
})()`

// probeScript builds a side-effect free expression reporting presence and
// visibility of the first node matching loc.
func probeScript(loc Locator) (string, error) {
	quoted, err := json.Marshal(loc.Value)
	if err != nil {
		return "", err
	}
	var lookup string
	switch loc.Strategy {
	case XPath:
		lookup = fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", quoted)
	default:
		lookup = fmt.Sprintf("document.querySelector(%s)", quoted)
	}
	return fmt.Sprintf(probeTemplate, lookup), nil
}
