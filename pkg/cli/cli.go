// Package cli is the loginharness command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kidandcat/loginharness/pkg/config"
	"github.com/kidandcat/loginharness/pkg/driver"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
)

// ErrTestsFailed is returned when at least one test did not pass.
var ErrTestsFailed = errors.New("tests failed")

type options struct {
	configFile         string
	browser            string
	headless           bool
	baseURL            string
	parallel           int
	reportDir          string
	pattern            string
	stepScreenshots    bool
	failOnConsoleError bool
	screenshotDir      string
	updateScreenshots  bool
	logLevel           string
	logFormat          string
	logFile            string
}

type app struct {
	lookupEnv  func(string) (string, bool)
	newFactory func(*zap.Logger) *driver.Factory
}

type Option func(*app)

// WithEnv replaces os.LookupEnv for configuration overrides.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(a *app) { a.lookupEnv = lookup }
}

// WithFactory replaces the browser factory.
func WithFactory(fn func(*zap.Logger) *driver.Factory) Option {
	return func(a *app) { a.newFactory = fn }
}

// NewRootCmd returns the loginharness command.
func NewRootCmd(opts ...Option) *cobra.Command {
	a := &app{
		lookupEnv: os.LookupEnv,
		newFactory: func(logger *zap.Logger) *driver.Factory {
			return driver.NewFactory(driver.WithLogger(logger))
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	cmd, _ := a.command()
	return cmd
}

func (a *app) command() (*cobra.Command, *options) {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "loginharness [scenario files or dirs]",
		Short: "Run browser login scenarios and write a report",
		Long: `Runs .login scenario files against the configured login page, one browser
session per test. Without scenario files the built-in valid and invalid
credential scenarios run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, o, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configFile, "config", "c", "", "Config file path (default: first loginharness.* file found)")
	f.StringVarP(&o.browser, "browser", "b", "chrome", "Browser backend: chrome, edge or firefox")
	f.BoolVar(&o.headless, "headless", true, "Run browser in headless mode")
	f.StringVar(&o.baseURL, "base-url", "", "Login page URL")
	f.IntVarP(&o.parallel, "parallel", "p", 1, "Number of tests run concurrently")
	f.StringVar(&o.reportDir, "report-dir", "login-report", "Report output directory")
	f.StringVar(&o.pattern, "pattern", "*.login", "File pattern for scenario files")
	f.BoolVar(&o.stepScreenshots, "step-screenshots", false, "Attach a screenshot to every step")
	f.BoolVar(&o.failOnConsoleError, "fail-on-console-error", false, "Fail tests when console errors occur")
	f.StringVar(&o.screenshotDir, "screenshot-dir", "", "Baseline screenshot directory")
	f.BoolVar(&o.updateScreenshots, "update-screenshots", false, "Update baseline screenshots")
	f.StringVar(&o.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	f.StringVar(&o.logFormat, "log-format", "console", "Log format (console|json)")
	f.StringVar(&o.logFile, "log-file", "", "Also write JSON logs to this rotating file")
	return cmd, o
}

// Execute runs the command with ctx and returns the error to exit with.
func Execute(ctx context.Context) error {
	cmd := NewRootCmd()
	err := cmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, ErrTestsFailed) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%sError: %v%s\n", colorRed, err, colorReset)
	}
	return err
}

// settings merges the config file, the environment and explicitly set flags,
// in that order of precedence.
func (a *app) settings(cmd *cobra.Command, o *options) (config.Settings, string, error) {
	path := o.configFile
	if path == "" {
		path = config.FindConfigFile()
	}

	fc := &config.FileConfig{}
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return config.Settings{}, path, fmt.Errorf("load config %s: %w", path, err)
		}
		fc = loaded
	}
	if err := fc.ApplyEnv(a.lookupEnv); err != nil {
		return config.Settings{}, path, err
	}

	flags := cmd.Flags()
	if flags.Changed("browser") {
		fc.Browser = o.browser
	}
	if flags.Changed("headless") {
		fc.Headless = &o.headless
	}
	if flags.Changed("base-url") {
		fc.BaseURL = o.baseURL
	}
	if flags.Changed("parallel") {
		fc.Parallel = o.parallel
	}
	if flags.Changed("report-dir") {
		fc.ReportDir = o.reportDir
	}
	if flags.Changed("step-screenshots") {
		fc.StepScreenshots = &o.stepScreenshots
	}
	if flags.Changed("fail-on-console-error") {
		fc.FailOnConsoleError = &o.failOnConsoleError
	}
	if flags.Changed("screenshot-dir") {
		fc.ScreenshotDir = o.screenshotDir
	}
	if flags.Changed("update-screenshots") {
		fc.UpdateScreenshots = o.updateScreenshots
	}
	if flags.Changed("log-level") {
		fc.Logging.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		fc.Logging.Format = o.logFormat
	}
	if flags.Changed("log-file") {
		fc.Logging.File = o.logFile
	}

	s, err := fc.Resolve()
	return s, path, err
}

func findTestFiles(pattern string, args []string) ([]string, error) {
	var files []string

	if len(args) > 0 {
		for _, arg := range args {
			if strings.HasSuffix(arg, ".login") {
				files = append(files, arg)
			} else {
				matches, err := filepath.Glob(filepath.Join(arg, pattern))
				if err != nil {
					return nil, err
				}
				files = append(files, matches...)
			}
		}
	} else {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		files = matches
	}

	return files, nil
}
