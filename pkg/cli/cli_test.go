package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kidandcat/loginharness/pkg/driver"
	"github.com/kidandcat/loginharness/pkg/driver/drivertest"
	"github.com/kidandcat/loginharness/pkg/loginpage"
	"github.com/kidandcat/loginharness/pkg/report"
)

const (
	validID     = "user@example.com"
	validSecret = "correct-horse"
)

func scriptLogin(s *drivertest.Session) {
	loc := loginpage.DefaultLocators()
	s.Set(loc.Identifier, drivertest.Element{Present: true, Visible: true})
	s.Set(loc.Secret, drivertest.Element{Present: true, Visible: true})
	s.Set(loc.Submit[1], drivertest.Element{Present: true, Visible: true})
	s.OnClick(loc.Submit[1], func(s *drivertest.Session) {
		if s.Filled(loc.Identifier) == validID && s.Filled(loc.Secret) == validSecret {
			s.SetURL("https://app.example.com/spaces/abc123/home")
			return
		}
		s.Set(loc.ErrorBanner, drivertest.Element{Present: true, Visible: true, Text: "Invalid email or password."})
	})
}

const testConfig = `browser: chrome
baseUrl: https://app.example.com/login
timeouts:
  implicit: 200ms
  success: 300ms
  error: 300ms
  errorText: 200ms
  poll: 5ms
  teardown: 1s
logging:
  level: warn
`

type harness struct {
	dir      string
	config   string
	reports  string
	launcher *drivertest.Launcher
	env      map[string]string
	out      bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:      dir,
		config:   filepath.Join(dir, "loginharness.yaml"),
		reports:  filepath.Join(dir, "report"),
		launcher: &drivertest.Launcher{Setup: scriptLogin},
		env:      map[string]string{},
	}
	require.NoError(t, os.WriteFile(h.config, []byte(testConfig), 0644))
	return h
}

func (h *harness) writeScenario(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte(content), 0644))
}

func (h *harness) run(args ...string) error {
	cmd := NewRootCmd(
		WithEnv(func(k string) (string, bool) {
			v, ok := h.env[k]
			return v, ok
		}),
		WithFactory(func(*zap.Logger) *driver.Factory { return h.launcher.Factory() }),
	)
	cmd.SetOut(&h.out)
	cmd.SetErr(&h.out)
	cmd.SetArgs(append([]string{"--config", h.config, "--report-dir", h.reports}, args...))
	return cmd.ExecuteContext(context.Background())
}

func TestRunScenarioFiles(t *testing.T) {
	h := newHarness(t)
	h.writeScenario(t, "valid.login", `test "Valid login"
  navigate
  login "user@example.com" "correct-horse"
  expect_url "/spaces/"
`)

	require.NoError(t, h.run(h.dir))

	out := h.out.String()
	assert.Contains(t, out, "Running 1 tests from 1 files")
	assert.Contains(t, out, "✓ PASS")
	assert.Contains(t, out, "Valid login")
	assert.Equal(t, 1, h.launcher.Launched())
	assert.Equal(t, 1, h.launcher.Sessions[0].Closed())

	for _, name := range []string{report.JSONFile, report.JUnitFile, report.HTMLFile, MetricsFile} {
		assert.FileExists(t, filepath.Join(h.reports, name))
	}
	metrics, err := os.ReadFile(filepath.Join(h.reports, MetricsFile))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "loginharness_sessions_started_total")
}

func TestFailingRun(t *testing.T) {
	h := newHarness(t)
	h.writeScenario(t, "invalid.login", `test "Wrong password"
  login "user@example.com" "nope"
  expect_url "/spaces/"
`)

	err := h.run(filepath.Join(h.dir, "invalid.login"))
	assert.ErrorIs(t, err, ErrTestsFailed)

	out := h.out.String()
	assert.Contains(t, out, "✗ FAIL")
	assert.Contains(t, out, "location does not contain fragment")
	assert.Contains(t, out, "1 failed")

	shots, err := filepath.Glob(filepath.Join(h.reports, "screenshots", "*failure*.png"))
	require.NoError(t, err)
	assert.NotEmpty(t, shots)
}

func TestBuiltInTests(t *testing.T) {
	h := newHarness(t)
	h.env["LOGINHARNESS_IDENTIFIER"] = validID
	h.env["LOGINHARNESS_SECRET"] = validSecret

	require.NoError(t, h.run("--pattern", filepath.Join(h.dir, "*.login"), "--parallel", "2"))
	assert.Contains(t, h.out.String(), "Running 2 built-in tests")
	assert.Equal(t, 2, h.launcher.Launched())
	assert.NotContains(t, h.out.String(), validSecret)
}

func TestUnknownBrowser(t *testing.T) {
	h := newHarness(t)
	err := h.run("--browser", "safari")
	assert.True(t, driver.IsConfigurationError(err), "got %v", err)
	assert.Zero(t, h.launcher.Launched())
}

func TestNoScenarioFilesInArgs(t *testing.T) {
	h := newHarness(t)
	err := h.run(filepath.Join(h.dir, "empty"))
	assert.ErrorContains(t, err, "no test files found")
}

func TestParseErrorStopsRun(t *testing.T) {
	h := newHarness(t)
	h.writeScenario(t, "bad.login", "test \"Bad\"\n  click \"#x\"\n")
	err := h.run(h.dir)
	assert.ErrorContains(t, err, "line 2")
	assert.Zero(t, h.launcher.Launched())
}

func TestSettingsPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser: edge\nparallel: 2\nreportDir: from-file\nbaseUrl: https://file.example.com\n"), 0644))

	a := &app{lookupEnv: func(k string) (string, bool) {
		if k == "LOGINHARNESS_BASE_URL" {
			return "https://env.example.com", true
		}
		return "", false
	}}
	cmd, o := a.command()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--parallel", "4", "--headless=false"}))

	s, used, err := a.settings(cmd, o)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, driver.Edge, s.Backend, "file value kept when flag unset")
	assert.Equal(t, driver.Headed, s.Mode)
	assert.Equal(t, 4, s.Parallel, "flag overrides file")
	assert.Equal(t, "from-file", s.ReportDir)
	assert.Equal(t, "https://env.example.com", s.BaseURL, "env overrides file")
	assert.Equal(t, 20*time.Second, s.SuccessTimeout)
}

func TestFindTestFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.login", "b.login", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	files, err := findTestFiles("*.login", []string{dir})
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = findTestFiles("*.login", []string{"explicit.login"})
	require.NoError(t, err)
	assert.Equal(t, []string{"explicit.login"}, files)
}
