package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kidandcat/loginharness/pkg/config"
	"github.com/kidandcat/loginharness/pkg/logging"
	"github.com/kidandcat/loginharness/pkg/parser"
	"github.com/kidandcat/loginharness/pkg/report"
	"github.com/kidandcat/loginharness/pkg/session"
	"github.com/kidandcat/loginharness/pkg/suite"
)

// MetricsFile is written next to the reports.
const MetricsFile = "metrics.prom"

func (a *app) run(cmd *cobra.Command, o *options, args []string) error {
	out := cmd.OutOrStdout()

	settings, configPath, err := a.settings(cmd, o)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:      settings.LogLevel,
		Format:     settings.LogFormat,
		File:       settings.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
		Output:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer logger.Sync()
	if configPath != "" {
		logger.Debug("loaded config", zap.String("path", configPath))
	}

	tests, files, err := loadTests(o.pattern, args, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	factory := a.newFactory(logger)
	defer func() {
		if err := factory.Close(); err != nil {
			logger.Warn("failed to stop browser drivers", zap.Error(err))
		}
	}()
	registry := session.NewRegistry(factory, settings.SessionConfig(),
		session.WithLogger(logger),
		session.WithMetrics(session.NewMetrics(reg)),
		session.WithTeardownTimeout(settings.TeardownTimeout),
	)
	reporter := report.NewReporter(report.Options{
		Dir:   settings.ReportDir,
		Title: settings.ReportTitle,
		Name:  settings.ReportName,
		Info: report.SystemInfo{
			Environment: settings.Environment,
			Browser:     settings.Backend.String(),
			URL:         settings.BaseURL,
		},
		Logger: logger,
	})
	runner := suite.NewRunner(suiteConfig(settings), registry,
		suite.WithSink(reporter),
		suite.WithLogger(logger),
	)
	for _, test := range tests {
		runner.AddTest(test)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\n%sReceived interrupt signal, shutting down gracefully...%s\n", colorYellow, colorReset)
			registry.Shutdown(context.Background())
		case <-done:
		}
	}()

	if files > 0 {
		fmt.Fprintf(out, "%sRunning %d tests from %d files on %s (%s)...%s\n\n", colorYellow, len(tests), files, settings.Backend, settings.Mode, colorReset)
	} else {
		fmt.Fprintf(out, "%sRunning %d built-in tests on %s (%s)...%s\n\n", colorYellow, len(tests), settings.Backend, settings.Mode, colorReset)
	}

	results := runWithSpinner(ctx, runner, out)
	close(done)
	registry.Shutdown(context.Background())

	if err := reporter.Flush(); err != nil {
		logger.Error("failed to write report", zap.Error(err))
	}
	metricsPath := filepath.Join(reporter.Dir(), MetricsFile)
	if err := prometheus.WriteToTextfile(metricsPath, reg); err != nil {
		logger.Warn("failed to write metrics", zap.String("path", metricsPath), zap.Error(err))
	}

	failed := 0
	for _, result := range results {
		if !result.Passed {
			failed++
		}
	}

	fmt.Fprintf(out, "\n%s%d passed%s, ", colorGreen, len(results)-failed, colorReset)
	if failed > 0 {
		fmt.Fprintf(out, "%s%d failed%s", colorRed, failed, colorReset)
	} else {
		fmt.Fprintf(out, "%d failed", failed)
	}
	fmt.Fprintf(out, "\n%sReport: %s%s\n", colorBlue, filepath.Join(reporter.Dir(), report.HTMLFile), colorReset)

	if failed > 0 {
		return ErrTestsFailed
	}
	return nil
}

func runWithSpinner(ctx context.Context, runner *suite.Runner, out io.Writer) []suite.TestResult {
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(out))
	s.Start()

	resultsChan := make(chan suite.TestResult)
	var wg sync.WaitGroup

	go func() {
		for result := range resultsChan {
			s.Stop()
			printResult(out, result)
			s.Start()
			wg.Done()
		}
	}()

	results := runner.RunWithProgress(ctx, resultsChan, &wg)
	wg.Wait()
	close(resultsChan)
	s.Stop()
	return results
}

func printResult(out io.Writer, result suite.TestResult) {
	if result.Passed {
		fmt.Fprintf(out, "%s✓ PASS%s %s (%s)\n", colorGreen, colorReset, result.Name, result.Duration.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(out, "%s✗ FAIL%s %s (%s)\n", colorRed, colorReset, result.Name, result.Duration.Round(time.Millisecond))
	if result.Error != nil {
		fmt.Fprintf(out, "  %sError: %v%s\n", colorRed, result.Error, colorReset)
	}
	for _, ce := range result.Errors {
		fmt.Fprintf(out, "  %sConsole: %s%s\n", colorYellow, ce.Message, colorReset)
	}
}

// loadTests parses the scenario files selected by pattern and args, falling
// back to the built-in tests when none are found.
func loadTests(pattern string, args []string, logger *zap.Logger) ([]suite.Test, int, error) {
	files, err := findTestFiles(pattern, args)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find test files: %w", err)
	}
	if len(files) == 0 {
		if len(args) > 0 {
			return nil, 0, fmt.Errorf("no test files found in %v", args)
		}
		logger.Info("no scenario files found, running built-in tests")
		return suite.DefaultTests(), 0, nil
	}

	p := parser.New()
	var tests []suite.Test
	for _, file := range files {
		parsed, err := p.ParseFile(file)
		if err != nil {
			return nil, 0, err
		}
		tests = append(tests, parsed...)
	}
	if len(tests) == 0 {
		return nil, 0, fmt.Errorf("no tests defined in %d files", len(files))
	}
	return tests, len(files), nil
}

func suiteConfig(s config.Settings) *suite.Config {
	return &suite.Config{
		BaseURL:            s.BaseURL,
		ExpectedURL:        s.ExpectedURL,
		Identifier:         s.Identifier,
		Secret:             s.Secret,
		SuccessTimeout:     s.SuccessTimeout,
		ErrorTimeout:       s.ErrorTimeout,
		ErrorTextTimeout:   s.ErrorTextTimeout,
		PollInterval:       s.PollInterval,
		Parallel:           s.Parallel,
		StepScreenshots:    s.StepScreenshots,
		FailOnConsoleError: s.FailOnConsoleError,
		Locators:           s.Locators,
		BaselineDir:        s.BaselineDir,
		UpdateBaselines:    s.UpdateBaselines,
		BaselineThreshold:  s.BaselineThreshold,
	}
}
