// Package suite runs login scenarios, one browser session per test, and
// reports every step to a report.Sink.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kidandcat/loginharness/pkg/driver"
	"github.com/kidandcat/loginharness/pkg/loginpage"
	"github.com/kidandcat/loginharness/pkg/report"
	"github.com/kidandcat/loginharness/pkg/session"
)

// Sessions binds sessions to execution units. *session.Registry implements it.
type Sessions interface {
	loginpage.SessionSource
	Scope(ctx context.Context, fn func(ctx context.Context) error) (*report.Artifact, error)
	Capture(ctx context.Context, label string) (*report.Artifact, error)
}

type Runner struct {
	config   *Config
	sessions Sessions
	sink     report.Sink
	logger   *zap.Logger
	vars     *strings.Replacer
	tests    []Test

	mu                sync.Mutex
	screenshotCounter map[string]int
}

type Option func(*Runner)

func WithSink(sink report.Sink) Option {
	return func(r *Runner) { r.sink = sink }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func NewRunner(config *Config, sessions Sessions, opts ...Option) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	r := &Runner{
		config:            config,
		sessions:          sessions,
		sink:              report.Discard,
		logger:            zap.NewNop(),
		screenshotCounter: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("suite")
	r.vars = strings.NewReplacer(
		"$identifier", config.Identifier,
		"$secret", config.Secret,
		"$base_url", config.BaseURL,
		"$expected_url", config.ExpectedURL,
	)
	return r
}

func (r *Runner) AddTest(test Test) {
	r.tests = append(r.tests, test)
}

// Tests returns the queued tests.
func (r *Runner) Tests() []Test {
	return append([]Test(nil), r.tests...)
}

// Run executes every queued test and returns the results in queue order.
func (r *Runner) Run(ctx context.Context) []TestResult {
	return r.run(ctx, r.tests, nil, nil)
}

// RunWithProgress is Run, additionally sending each result on progress as
// soon as its test finishes. wg is incremented before every send so the
// receiver can mark each result done.
func (r *Runner) RunWithProgress(ctx context.Context, progress chan<- TestResult, wg *sync.WaitGroup) []TestResult {
	return r.run(ctx, r.tests, progress, wg)
}

func (r *Runner) run(ctx context.Context, tests []Test, progress chan<- TestResult, wg *sync.WaitGroup) []TestResult {
	results := make([]TestResult, len(tests))

	limit := max(1, r.config.Parallel)
	// Worker slots place headed windows; a finished test hands its slot on.
	slots := make(chan int, limit)
	for slot := range limit {
		slots <- slot
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, test := range tests {
		g.Go(func() error {
			slot := <-slots
			result := r.runTest(ctx, slot, test)
			slots <- slot
			results[i] = result
			if progress != nil {
				wg.Add(1)
				progress <- result
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) runTest(ctx context.Context, slot int, test Test) TestResult {
	title := test.Title()
	start := time.Now()
	result := TestResult{
		Name:   title,
		Passed: true,
	}

	unit := session.NewUnit(title, slot)
	if err := ctx.Err(); err != nil {
		result.Passed = false
		result.Error = err
		r.emit(unit, "skipped", report.Skip, fmt.Sprintf("%s - Test skipped: %v", title, err), nil)
		return result
	}

	ctx = session.WithUnit(ctx, unit)
	logger := r.logger.With(zap.String("test", title), zap.String("unit", unit.ID))
	page := loginpage.New(r.sessions,
		loginpage.WithLocators(r.config.Locators),
		loginpage.WithLogger(logger),
		loginpage.WithPollInterval(r.config.PollInterval),
	)

	art, err := r.sessions.Scope(ctx, func(ctx context.Context) error {
		r.emit(unit, "start", report.Info, "Starting "+title, nil)

		if r.config.BaseURL != "" && !opensPage(test) {
			if err := page.Open(ctx, r.config.BaseURL); err != nil {
				return fmt.Errorf("open %s: %w", r.config.BaseURL, err)
			}
			r.emit(unit, ActionNavigate, report.Info, "Navigated to URL: "+r.config.BaseURL, r.stepShot(ctx, unit, ActionNavigate))
		}

		for i, step := range test.Steps {
			step = r.expand(step)
			msg, shot, err := r.executeStep(ctx, page, title, step)
			if err != nil {
				return &StepError{Index: i, Action: step.Action, Err: err}
			}
			if shot == nil {
				shot = r.stepShot(ctx, unit, step.Action)
			}
			r.emit(unit, step.Action, report.Info, msg, shot)
		}

		result.Errors = r.consoleErrors(ctx)
		if r.config.FailOnConsoleError && len(result.Errors) > 0 {
			return fmt.Errorf("%w: %d errors", ErrConsoleErrors, len(result.Errors))
		}

		r.emit(unit, "passed", report.Pass, title+" - Test passed", r.snapshot(ctx, unit, "passed"))
		return nil
	})

	result.State = page.State()
	result.Duration = time.Since(start)
	if err != nil {
		result.Passed = false
		result.Error = err
		result.Artifact = art
		r.emit(unit, "failed", report.Fail, fmt.Sprintf("%s - Test failed: %v", title, err), art)
		logger.Warn("test failed", zap.Error(err), zap.Duration("duration", result.Duration), zap.Stringer("state", result.State))
	} else {
		logger.Info("test passed", zap.Duration("duration", result.Duration))
	}
	return result
}

func opensPage(test Test) bool {
	return len(test.Steps) > 0 && test.Steps[0].Action == ActionNavigate
}

func (r *Runner) expand(step Step) Step {
	step.Target = r.vars.Replace(step.Target)
	step.Value = r.vars.Replace(step.Value)
	return step
}

func (r *Runner) emit(unit session.Unit, step string, status report.Status, msg string, shot *report.Artifact) {
	r.sink.Emit(report.Event{
		Test:       unit.Name,
		Unit:       unit.ID,
		Step:       step,
		Status:     status,
		Message:    msg,
		Screenshot: shot,
	})
}

// snapshot captures the live page. A capture failure is reported as an
// info event and yields nil.
func (r *Runner) snapshot(ctx context.Context, unit session.Unit, label string) *report.Artifact {
	art, err := r.sessions.Capture(ctx, label)
	if err != nil {
		r.emit(unit, label, report.Info, "Could not capture screenshot: "+err.Error(), nil)
		return nil
	}
	return art
}

func (r *Runner) stepShot(ctx context.Context, unit session.Unit, label string) *report.Artifact {
	if !r.config.StepScreenshots {
		return nil
	}
	return r.snapshot(ctx, unit, label)
}

func (r *Runner) consoleErrors(ctx context.Context) []driver.ConsoleError {
	sess, err := r.sessions.Current(ctx)
	if err != nil {
		return nil
	}
	src, ok := sess.(driver.ConsoleSource)
	if !ok {
		return nil
	}
	var out []driver.ConsoleError
	for _, ce := range src.ConsoleErrors() {
		if r.config.ErrorFilter == nil || !r.config.ErrorFilter(ce) {
			out = append(out, ce)
		}
	}
	return out
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func (r *Runner) executeStep(ctx context.Context, page *loginpage.Page, testName string, step Step) (string, *report.Artifact, error) {
	switch step.Action {
	case ActionNavigate:
		url := step.Target
		if url == "" {
			url = r.config.BaseURL
		}
		if url == "" {
			return "", nil, errors.New("navigate: no URL given and no base URL configured")
		}
		if err := page.Open(ctx, url); err != nil {
			return "", nil, err
		}
		return "Navigated to URL: " + url, nil, nil

	case ActionIdentifier:
		if err := page.EnterIdentifier(ctx, step.Value); err != nil {
			return "", nil, err
		}
		return "Entered identifier: " + step.Value, nil, nil

	case ActionSecret:
		if err := page.EnterSecret(ctx, step.Value); err != nil {
			return "", nil, err
		}
		return "Entered secret", nil, nil

	case ActionSubmit:
		if err := page.Submit(ctx); err != nil {
			return "", nil, err
		}
		return "Clicked login button", nil, nil

	case ActionLogin:
		identifier, secret := step.Target, step.Value
		if identifier == "" {
			identifier = r.config.Identifier
		}
		if secret == "" {
			secret = r.config.Secret
		}
		if err := page.Login(ctx, identifier, secret); err != nil {
			return "", nil, err
		}
		return "Submitted login as " + identifier, nil, nil

	case ActionExpectURL:
		fragment := step.Target
		if fragment == "" {
			fragment = r.config.ExpectedURL
		}
		ok, err := page.AwaitSuccess(ctx, fragment, orDefault(step.Timeout, r.config.SuccessTimeout))
		if err != nil {
			return "", nil, err
		}
		if !ok {
			return "", nil, &AssertionError{
				Expected: fragment,
				Actual:   r.location(ctx),
				Message:  "location does not contain fragment",
			}
		}
		return "Successfully navigated to " + fragment, nil, nil

	case ActionExpectError:
		ok, err := page.AwaitError(ctx, orDefault(step.Timeout, r.config.ErrorTimeout))
		if err != nil {
			return "", nil, err
		}
		if !ok {
			return "", nil, &AssertionError{
				Expected: "error message displayed",
				Actual:   "no error message",
				Message:  "login error not shown",
			}
		}
		return "Error message displayed", nil, nil

	case ActionExpectNoError:
		ok, err := page.AwaitError(ctx, orDefault(step.Timeout, r.config.ErrorTimeout))
		if err != nil {
			return "", nil, err
		}
		if ok {
			return "", nil, &AssertionError{
				Expected: "no error message",
				Actual:   "error message displayed",
				Message:  "unexpected login error",
			}
		}
		return "No error message displayed", nil, nil

	case ActionExpectErrorText:
		text, err := page.ReadErrorText(ctx, orDefault(step.Timeout, r.config.ErrorTextTimeout))
		if err != nil {
			return "", nil, err
		}
		if step.Target != "" && !strings.Contains(text, step.Target) {
			return "", nil, &AssertionError{
				Expected: step.Target,
				Actual:   text,
				Message:  "error text mismatch",
			}
		}
		return "Error message displayed: " + text, nil, nil

	case ActionScreenshot:
		label := step.Target
		if label == "" {
			label = ActionScreenshot
		}
		art, err := r.sessions.Capture(ctx, label)
		if err != nil {
			return "", nil, err
		}
		if r.config.BaselineDir != "" {
			if err := r.compareBaseline(testName, label, art.Data); err != nil {
				return "", art, err
			}
		}
		return "Captured " + label, art, nil

	default:
		return "", nil, fmt.Errorf("unknown action: %s", step.Action)
	}
}

func (r *Runner) location(ctx context.Context) string {
	sess, err := r.sessions.Current(ctx)
	if err != nil {
		return ""
	}
	loc, _ := sess.Location(ctx)
	return loc
}

func (r *Runner) baselineName(testName, label string) string {
	safe := strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(testName + "_" + label)

	r.mu.Lock()
	r.screenshotCounter[safe]++
	counter := r.screenshotCounter[safe]
	r.mu.Unlock()

	if counter == 1 {
		return safe + ".png"
	}
	return fmt.Sprintf("%s_%d.png", safe, counter)
}

// compareBaseline checks shot against its stored baseline, saving it as the
// baseline when none exists or UpdateBaselines is set.
func (r *Runner) compareBaseline(testName, label string, shot []byte) error {
	if err := os.MkdirAll(r.config.BaselineDir, 0755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	path := filepath.Join(r.config.BaselineDir, r.baselineName(testName, label))

	if !r.config.UpdateBaselines {
		baseline, err := os.ReadFile(path)
		switch {
		case err == nil:
			diff, err := report.Diff(baseline, shot)
			if err != nil {
				return fmt.Errorf("failed to compare screenshots: %w", err)
			}
			if diff > r.config.BaselineThreshold {
				diffPath := strings.TrimSuffix(path, ".png") + ".diff.png"
				if werr := os.WriteFile(diffPath, shot, 0644); werr != nil {
					r.logger.Warn("failed to save diff screenshot", zap.String("path", diffPath), zap.Error(werr))
				}
				return fmt.Errorf("screenshot differs from baseline by %.2f%% (threshold: %.2f%%). Delete the old screenshot at %s to save the new one",
					diff*100, r.config.BaselineThreshold*100, path)
			}
			return nil
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("failed to read existing screenshot: %w", err)
		}
	}

	if err := os.WriteFile(path, shot, 0644); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	r.logger.Info("saved baseline screenshot", zap.String("path", path))
	return nil
}
