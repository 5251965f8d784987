package suite

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kidandcat/loginharness/pkg/driver"
	"github.com/kidandcat/loginharness/pkg/driver/drivertest"
	"github.com/kidandcat/loginharness/pkg/loginpage"
	"github.com/kidandcat/loginharness/pkg/report"
	"github.com/kidandcat/loginharness/pkg/session"
)

const (
	validID     = "user@example.com"
	validSecret = "correct-horse"
	loginURL    = "https://app.example.com/login"
)

// scriptLogin turns s into a login screen that accepts validID/validSecret.
func scriptLogin(s *drivertest.Session) {
	loc := loginpage.DefaultLocators()
	s.Set(loc.Identifier, drivertest.Element{Present: true, Visible: true})
	s.Set(loc.Secret, drivertest.Element{Present: true, Visible: true})
	s.Set(loc.Submit[0], drivertest.Element{Present: true, Visible: true})
	s.OnClick(loc.Submit[0], func(s *drivertest.Session) {
		if s.Filled(loc.Identifier) == validID && s.Filled(loc.Secret) == validSecret {
			s.After(20*time.Millisecond, func(s *drivertest.Session) {
				s.SetURL("https://app.example.com/spaces/abc123/home")
			})
			return
		}
		s.After(20*time.Millisecond, func(s *drivertest.Session) {
			s.Set(loc.ErrorBanner, drivertest.Element{Present: true, Visible: true, Text: "Invalid email or password."})
		})
	})
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.BaseURL = loginURL
	cfg.Identifier = validID
	cfg.Secret = validSecret
	cfg.SuccessTimeout = time.Second
	cfg.ErrorTimeout = 500 * time.Millisecond
	cfg.ErrorTextTimeout = 300 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, cfg *Config, setup func(*drivertest.Session)) (*Runner, *drivertest.Launcher, *report.Recorder) {
	t.Helper()
	launcher := &drivertest.Launcher{Setup: setup}
	tmpl := driver.NewSessionConfig(driver.Chrome, driver.Headless)
	tmpl.ImplicitWait = 200 * time.Millisecond
	reg := session.NewRegistry(launcher.Factory(), tmpl,
		session.WithLogger(zaptest.NewLogger(t)),
		session.WithTeardownTimeout(time.Second),
	)
	rec := &report.Recorder{}
	return NewRunner(cfg, reg, WithSink(rec), WithLogger(zaptest.NewLogger(t))), launcher, rec
}

func steps(events []report.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Step
	}
	return out
}

func TestDefaultTests(t *testing.T) {
	cfg := testConfig()
	cfg.Parallel = 2
	r, launcher, rec := newHarness(t, cfg, scriptLogin)
	for _, test := range DefaultTests() {
		r.AddTest(test)
	}

	results := r.Run(context.Background())
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Passed, "%s: %v", res.Name, res.Error)
		assert.Nil(t, res.Artifact)
	}
	assert.Equal(t, "Verify login with valid credentials", results[0].Name)
	assert.Equal(t, loginpage.Succeeded, results[0].State)
	assert.Equal(t, loginpage.Failed, results[1].State)

	require.Equal(t, 2, launcher.Launched())
	for _, s := range launcher.Sessions {
		assert.Equal(t, 1, s.Closed())
		assert.Equal(t, []string{loginURL}, s.Navigated)
	}

	valid := rec.ForTest(results[0].Name)
	assert.Equal(t, []string{"start", "navigate", "identifier", "secret", "submit", "expect_url", "passed"}, steps(valid))
	last := valid[len(valid)-1]
	assert.Equal(t, report.Pass, last.Status)
	assert.False(t, last.Screenshot.Empty())

	invalid := rec.ForTest(results[1].Name)
	assert.Contains(t, invalid[len(invalid)-2].Message, "Invalid email or password.")

	for _, e := range rec.Events() {
		assert.NotContains(t, e.Message, validSecret)
	}
}

func TestFailedTestCarriesTeardownArtifact(t *testing.T) {
	r, launcher, rec := newHarness(t, testConfig(), scriptLogin)

	res := r.Test("wrong password").
		Login(validID, "nope").
		ExpectURL("/spaces/").Within(50 * time.Millisecond).
		Run(context.Background())

	require.False(t, res.Passed)
	var stepErr *StepError
	require.ErrorAs(t, res.Error, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	var assertErr *AssertionError
	require.ErrorAs(t, res.Error, &assertErr)
	assert.Equal(t, loginURL, assertErr.Actual)
	assert.Equal(t, loginpage.TimedOut, res.State)

	require.NotNil(t, res.Artifact)
	assert.Equal(t, "failure", res.Artifact.Label)
	assert.Equal(t, 1, launcher.Sessions[0].Closed())

	events := rec.ForTest("wrong password")
	last := events[len(events)-1]
	assert.Equal(t, report.Fail, last.Status)
	assert.Same(t, res.Artifact, last.Screenshot)
}

func TestUnknownAction(t *testing.T) {
	r, launcher, _ := newHarness(t, testConfig(), scriptLogin)
	r.AddTest(Test{Name: "hover", Steps: []Step{{Action: "hover", Target: "#menu"}}})

	res := r.Run(context.Background())[0]
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "unknown action: hover")
	assert.Equal(t, 1, launcher.Sessions[0].Closed())
}

func TestSessionCreationFailure(t *testing.T) {
	r, launcher, rec := newHarness(t, testConfig(), nil)
	launcher.LaunchErr = errors.New("no browser")
	r.AddTest(DefaultTests()[0])

	res := r.Run(context.Background())[0]
	assert.False(t, res.Passed)
	assert.ErrorContains(t, res.Error, "no browser")
	assert.Nil(t, res.Artifact)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, report.Fail, events[0].Status)
}

func TestConsoleErrors(t *testing.T) {
	setup := func(s *drivertest.Session) {
		scriptLogin(s)
		s.AddConsoleError("Uncaught TypeError: x is undefined")
	}

	cfg := testConfig()
	cfg.FailOnConsoleError = true
	r, _, _ := newHarness(t, cfg, setup)
	res := r.Test("console").Navigate("").Run(context.Background())
	assert.ErrorIs(t, res.Error, ErrConsoleErrors)
	assert.Len(t, res.Errors, 1)

	cfg = testConfig()
	cfg.FailOnConsoleError = true
	cfg.ErrorFilter = func(ce driver.ConsoleError) bool { return true }
	r, _, _ = newHarness(t, cfg, setup)
	res = r.Test("console filtered").Navigate("").Run(context.Background())
	assert.True(t, res.Passed, "%v", res.Error)
	assert.Empty(t, res.Errors)

	cfg = testConfig()
	r, _, _ = newHarness(t, cfg, setup)
	res = r.Test("console ignored").Navigate("").Run(context.Background())
	assert.True(t, res.Passed)
	assert.Len(t, res.Errors, 1)
}

func TestStepScreenshots(t *testing.T) {
	cfg := testConfig()
	cfg.StepScreenshots = true
	r, _, rec := newHarness(t, cfg, scriptLogin)

	res := r.Test("shots").Identifier(validID).Secret(validSecret).Run(context.Background())
	require.True(t, res.Passed, "%v", res.Error)

	for _, e := range rec.ForTest("shots") {
		if e.Step == "start" {
			continue
		}
		assert.False(t, e.Screenshot.Empty(), "step %s", e.Step)
	}
}

func TestCaptureFailureIsInformational(t *testing.T) {
	r, _, rec := newHarness(t, testConfig(), func(s *drivertest.Session) {
		scriptLogin(s)
		s.ScreenshotErr = errors.New("tab crashed")
	})

	res := r.Test("no shots").Navigate("").Run(context.Background())
	require.True(t, res.Passed, "%v", res.Error)

	var found bool
	for _, e := range rec.ForTest("no shots") {
		if e.Status == report.Info && e.Step == "passed" {
			found = true
			assert.Contains(t, e.Message, "tab crashed")
		}
	}
	assert.True(t, found)
}

func TestExpectNoError(t *testing.T) {
	r, _, _ := newHarness(t, testConfig(), scriptLogin)

	res := r.Test("clean").Login("", "").ExpectNoError().Within(60 * time.Millisecond).Run(context.Background())
	assert.True(t, res.Passed, "%v", res.Error)

	res = r.Test("dirty").Login("bad@example.com", "bad").ExpectNoError().Within(200 * time.Millisecond).Run(context.Background())
	var assertErr *AssertionError
	assert.ErrorAs(t, res.Error, &assertErr)
}

func TestExpectErrorText(t *testing.T) {
	r, _, _ := newHarness(t, testConfig(), scriptLogin)

	res := r.Test("text").Login("bad@example.com", "bad").ExpectError().ExpectErrorText("Invalid email").Run(context.Background())
	assert.True(t, res.Passed, "%v", res.Error)

	res = r.Test("mismatch").Login("bad@example.com", "bad").ExpectError().ExpectErrorText("locked").Run(context.Background())
	var assertErr *AssertionError
	require.ErrorAs(t, res.Error, &assertErr)
	assert.Equal(t, "Invalid email or password.", assertErr.Actual)
}

func encodePNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestBaselineScreenshots(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.BaselineDir = dir
	baseline := filepath.Join(dir, "Baseline_home.png")

	run := func(cfg *Config) TestResult {
		r, _, _ := newHarness(t, cfg, scriptLogin)
		return r.Test("Baseline").Screenshot("home").Run(context.Background())
	}

	res := run(cfg)
	require.True(t, res.Passed, "%v", res.Error)
	saved, err := os.ReadFile(baseline)
	require.NoError(t, err)
	assert.Equal(t, drivertest.PNG, saved)

	res = run(cfg)
	assert.True(t, res.Passed, "matching baseline: %v", res.Error)

	require.NoError(t, os.WriteFile(baseline, encodePNG(t, color.White), 0644))
	res = run(cfg)
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "differs from baseline")
	assert.FileExists(t, filepath.Join(dir, "Baseline_home.diff.png"))

	cfg.UpdateBaselines = true
	res = run(cfg)
	assert.True(t, res.Passed, "%v", res.Error)
	saved, err = os.ReadFile(baseline)
	require.NoError(t, err)
	assert.Equal(t, drivertest.PNG, saved)
}

func TestBaselineNameCounter(t *testing.T) {
	r := NewRunner(nil, nil)
	assert.Equal(t, "Login_flow_home.png", r.baselineName("Login flow", "home"))
	assert.Equal(t, "Login_flow_home_2.png", r.baselineName("Login flow", "home"))
	assert.Equal(t, "a_b_shot.png", r.baselineName("a/b", "shot"))
}

func TestCancelledRunSkips(t *testing.T) {
	r, launcher, rec := newHarness(t, testConfig(), scriptLogin)
	for _, test := range DefaultTests() {
		r.AddTest(test)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, res := range r.Run(ctx) {
		assert.False(t, res.Passed)
		assert.ErrorIs(t, res.Error, context.Canceled)
	}
	assert.Zero(t, launcher.Launched())
	for _, e := range rec.Events() {
		assert.Equal(t, report.Skip, e.Status)
	}
}

func TestRunWithProgress(t *testing.T) {
	cfg := testConfig()
	cfg.Parallel = 3
	r, _, _ := newHarness(t, cfg, scriptLogin)
	for _, name := range []string{"a", "b", "c"} {
		r.Test(name).Navigate("").Add()
	}

	progress := make(chan TestResult)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var seen []string
	go func() {
		for res := range progress {
			mu.Lock()
			seen = append(seen, res.Name)
			mu.Unlock()
			wg.Done()
		}
	}()

	results := r.RunWithProgress(context.Background(), progress, &wg)
	wg.Wait()
	close(progress)

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Name)
	mu.Lock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	mu.Unlock()
}

func TestSameTitleReportedSeparately(t *testing.T) {
	cfg := testConfig()
	cfg.Parallel = 2
	r, _, rec := newHarness(t, cfg, scriptLogin)
	reporter := report.NewReporter(report.Options{Dir: t.TempDir(), Logger: zaptest.NewLogger(t)})
	r.sink = report.MultiSink{rec, reporter}

	r.Test("login").Login("", "").ExpectURL("$expected_url").Add()
	r.Test("login").Login("invalid@email.com", "invalidpassword").ExpectURL("$expected_url").Within(100 * time.Millisecond).Add()

	results := r.Run(context.Background())
	require.Len(t, results, 2)
	assert.True(t, results[0].Passed, "%v", results[0].Error)
	assert.False(t, results[1].Passed)

	sum := reporter.Summarize()
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Tests, 2)
	assert.NotEqual(t, sum.Tests[0].Unit, sum.Tests[1].Unit)

	for _, ts := range sum.Tests {
		events := rec.ForUnit(ts.Unit)
		require.NotEmpty(t, events)
		assert.Equal(t, "start", events[0].Step)
		last := events[len(events)-1]
		assert.Contains(t, []string{"passed", "failed"}, last.Step)
	}
}

func TestWindowSlotsBoundedByParallel(t *testing.T) {
	cfg := testConfig()
	cfg.Parallel = 2
	r, launcher, _ := newHarness(t, cfg, scriptLogin)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		r.Test(name).Navigate("").Add()
	}

	for _, res := range r.Run(context.Background()) {
		assert.True(t, res.Passed, "%s: %v", res.Name, res.Error)
	}
	require.Equal(t, 6, launcher.Launched())
	allowed := []driver.Point{driver.OffsetFor(0), driver.OffsetFor(1)}
	for _, spec := range launcher.Specs {
		assert.Contains(t, allowed, spec.Config.WindowOffset)
	}
}

func TestExpand(t *testing.T) {
	r := NewRunner(testConfig(), nil)
	got := r.expand(Step{Action: ActionLogin, Target: "$identifier", Value: "$secret"})
	assert.Equal(t, validID, got.Target)
	assert.Equal(t, validSecret, got.Value)

	got = r.expand(Step{Action: ActionNavigate, Target: "$base_url?next=$expected_url"})
	assert.Equal(t, loginURL+"?next=/spaces/", got.Target)
}

func TestBuilderAPI(t *testing.T) {
	r := NewRunner(nil, nil)
	test := r.Test("built").
		Describe("Built test").
		Navigate("").
		Login("a", "b").
		ExpectURL("/home").Within(3 * time.Second).
		Build()

	assert.Equal(t, "Built test", test.Title())
	require.Len(t, test.Steps, 3)
	assert.Equal(t, 3*time.Second, test.Steps[2].Timeout)
	assert.Zero(t, test.Steps[1].Timeout)

	r.Test("queued").Submit().Add()
	assert.Len(t, r.Tests(), 1)
}

func TestKnownAction(t *testing.T) {
	assert.True(t, KnownAction("expect_error_text"))
	assert.False(t, KnownAction("click"))
}
