package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kidandcat/loginharness/pkg/driver"
	"github.com/kidandcat/loginharness/pkg/loginpage"
)

// FileConfig represents the configuration loaded from a file
type FileConfig struct {
	Browser            string       `yaml:"browser" json:"browser"`
	Headless           *bool        `yaml:"headless" json:"headless"`
	BaseURL            string       `yaml:"baseUrl" json:"baseUrl"`
	ExpectedURL        string       `yaml:"expectedUrl" json:"expectedUrl"`
	Credentials        Credentials  `yaml:"credentials" json:"credentials"`
	Timeouts           Timeouts     `yaml:"timeouts" json:"timeouts"`
	Parallel           int          `yaml:"parallel" json:"parallel"`
	ReportDir          string       `yaml:"reportDir" json:"reportDir"`
	Report             ReportConfig `yaml:"report" json:"report"`
	StepScreenshots    *bool        `yaml:"stepScreenshots" json:"stepScreenshots"`
	FailOnConsoleError *bool        `yaml:"failOnConsoleError" json:"failOnConsoleError"`
	ExecPath           string       `yaml:"execPath" json:"execPath"`
	Locators           Locators     `yaml:"locators" json:"locators"`
	Logging            Logging      `yaml:"logging" json:"logging"`

	// Visual baselines for screenshot steps.
	ScreenshotDir       string  `yaml:"screenshotDir" json:"screenshotDir"`
	UpdateScreenshots   bool    `yaml:"updateScreenshots" json:"updateScreenshots"`
	ScreenshotThreshold float64 `yaml:"screenshotThreshold" json:"screenshotThreshold"`
}

type Credentials struct {
	Identifier string `yaml:"identifier" json:"identifier"`
	Secret     string `yaml:"secret" json:"secret"`
}

type Timeouts struct {
	Implicit  *Duration `yaml:"implicit" json:"implicit"`
	PageLoad  *Duration `yaml:"pageLoad" json:"pageLoad"`
	Success   *Duration `yaml:"success" json:"success"`
	Error     *Duration `yaml:"error" json:"error"`
	ErrorText *Duration `yaml:"errorText" json:"errorText"`
	Poll      *Duration `yaml:"poll" json:"poll"`
	Teardown  *Duration `yaml:"teardown" json:"teardown"`
}

type ReportConfig struct {
	Title       string `yaml:"title" json:"title"`
	Name        string `yaml:"name" json:"name"`
	Environment string `yaml:"environment" json:"environment"`
}

// Locators are locator strings: "xpath=...", "css=..." or a bare expression.
type Locators struct {
	Identifier  string   `yaml:"identifier" json:"identifier"`
	Secret      string   `yaml:"secret" json:"secret"`
	Submit      []string `yaml:"submit" json:"submit"`
	ErrorBanner string   `yaml:"errorBanner" json:"errorBanner"`
	Spinner     *string  `yaml:"spinner" json:"spinner"`
}

type Logging struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// Duration is a custom type for unmarshaling duration strings
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// LoadConfig loads configuration from file
func LoadConfig(filename string) (*FileConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var config FileConfig
	ext := filepath.Ext(filename)

	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	case ".json":
		err = json.Unmarshal(data, &config)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// FindConfigFile searches for a config file in the current directory
func FindConfigFile() string {
	configNames := []string{
		"loginharness.config.yaml",
		"loginharness.config.yml",
		"loginharness.config.json",
		"loginharness.yaml",
		"loginharness.yml",
		"loginharness.json",
		".loginharness.yaml",
		".loginharness.yml",
		".loginharness.json",
	}

	for _, name := range configNames {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}

	return ""
}

const envPrefix = "LOGINHARNESS_"

// ApplyEnv overrides file values with LOGINHARNESS_* variables. lookup is
// usually os.LookupEnv.
func (c *FileConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(envPrefix + "BROWSER"); ok && v != "" {
		c.Browser = v
	}
	if v, ok := lookup(envPrefix + "HEADLESS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			mode, merr := driver.ParseMode(v)
			if merr != nil {
				return fmt.Errorf("%sHEADLESS: %w", envPrefix, merr)
			}
			b = mode == driver.Headless
		}
		c.Headless = &b
	}
	if v, ok := lookup(envPrefix + "BASE_URL"); ok && v != "" {
		c.BaseURL = v
	}
	if v, ok := lookup(envPrefix + "IDENTIFIER"); ok && v != "" {
		c.Credentials.Identifier = v
	}
	if v, ok := lookup(envPrefix + "SECRET"); ok && v != "" {
		c.Credentials.Secret = v
	}
	return nil
}

// Settings is a fully defaulted, validated configuration.
type Settings struct {
	Backend     driver.Backend
	Mode        driver.Mode
	BaseURL     string
	ExpectedURL string
	Identifier  string
	Secret      string

	ImplicitWait     time.Duration
	PageLoadTimeout  time.Duration
	SuccessTimeout   time.Duration
	ErrorTimeout     time.Duration
	ErrorTextTimeout time.Duration
	PollInterval     time.Duration
	TeardownTimeout  time.Duration

	Parallel           int
	ReportDir          string
	ReportTitle        string
	ReportName         string
	Environment        string
	StepScreenshots    bool
	FailOnConsoleError bool
	ExecPath           string
	Locators           loginpage.Locators

	BaselineDir       string
	UpdateBaselines   bool
	BaselineThreshold float64

	LogLevel  string
	LogFormat string
	LogFile   string
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Backend:          driver.Chrome,
		Mode:             driver.Headless,
		ExpectedURL:      "/spaces/",
		ImplicitWait:     driver.DefaultImplicitWait,
		PageLoadTimeout:  driver.DefaultPageLoadTimeout,
		SuccessTimeout:   20 * time.Second,
		ErrorTimeout:     10 * time.Second,
		ErrorTextTimeout: 5 * time.Second,
		PollInterval:     500 * time.Millisecond,
		TeardownTimeout:  10 * time.Second,
		Parallel:         1,
		ReportDir:        "login-report",
		ReportTitle:      "Login Test Report",
		ReportName:       "Login Automation Results",
		Environment:      "QA",
		Locators:         loginpage.DefaultLocators(),
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// Resolve merges c over Defaults. A nil config resolves to the defaults.
func (c *FileConfig) Resolve() (Settings, error) {
	s := Defaults()
	if c == nil {
		return s, nil
	}

	if c.Browser != "" {
		b, err := driver.ParseBackend(c.Browser)
		if err != nil {
			return Settings{}, err
		}
		s.Backend = b
	}
	if c.Headless != nil {
		s.Mode = driver.ModeFor(*c.Headless)
	}
	s.BaseURL = strings.TrimSpace(c.BaseURL)
	if c.ExpectedURL != "" {
		s.ExpectedURL = c.ExpectedURL
	}
	s.Identifier = c.Credentials.Identifier
	s.Secret = c.Credentials.Secret

	setDuration(&s.ImplicitWait, c.Timeouts.Implicit)
	setDuration(&s.PageLoadTimeout, c.Timeouts.PageLoad)
	setDuration(&s.SuccessTimeout, c.Timeouts.Success)
	setDuration(&s.ErrorTimeout, c.Timeouts.Error)
	setDuration(&s.ErrorTextTimeout, c.Timeouts.ErrorText)
	setDuration(&s.PollInterval, c.Timeouts.Poll)
	setDuration(&s.TeardownTimeout, c.Timeouts.Teardown)

	if c.Parallel < 0 {
		return Settings{}, fmt.Errorf("parallel must not be negative: %d", c.Parallel)
	}
	if c.Parallel > 0 {
		s.Parallel = c.Parallel
	}
	if c.ReportDir != "" {
		s.ReportDir = c.ReportDir
	}
	if c.Report.Title != "" {
		s.ReportTitle = c.Report.Title
	}
	if c.Report.Name != "" {
		s.ReportName = c.Report.Name
	}
	if c.Report.Environment != "" {
		s.Environment = c.Report.Environment
	}
	if c.StepScreenshots != nil {
		s.StepScreenshots = *c.StepScreenshots
	}
	if c.FailOnConsoleError != nil {
		s.FailOnConsoleError = *c.FailOnConsoleError
	}
	s.ExecPath = c.ExecPath

	s.Locators = c.Locators.apply(s.Locators)
	if err := s.Locators.Validate(); err != nil {
		return Settings{}, fmt.Errorf("locators: %w", err)
	}

	s.BaselineDir = c.ScreenshotDir
	s.UpdateBaselines = c.UpdateScreenshots
	if c.ScreenshotThreshold < 0 || c.ScreenshotThreshold > 1 {
		return Settings{}, fmt.Errorf("screenshotThreshold must be between 0 and 1: %v", c.ScreenshotThreshold)
	}
	s.BaselineThreshold = c.ScreenshotThreshold

	if c.Logging.Level != "" {
		s.LogLevel = c.Logging.Level
	}
	if c.Logging.Format != "" {
		s.LogFormat = c.Logging.Format
	}
	s.LogFile = c.Logging.File
	return s, nil
}

func setDuration(dst *time.Duration, d *Duration) {
	if d != nil && d.Duration > 0 {
		*dst = d.Duration
	}
}

func (l Locators) apply(base loginpage.Locators) loginpage.Locators {
	if l.Identifier != "" {
		base.Identifier = driver.ParseLocator(l.Identifier)
	}
	if l.Secret != "" {
		base.Secret = driver.ParseLocator(l.Secret)
	}
	if len(l.Submit) > 0 {
		base.Submit = make([]driver.Locator, 0, len(l.Submit))
		for _, s := range l.Submit {
			base.Submit = append(base.Submit, driver.ParseLocator(s))
		}
	}
	if l.ErrorBanner != "" {
		base.ErrorBanner = driver.ParseLocator(l.ErrorBanner)
	}
	if l.Spinner != nil {
		// An explicit empty string disables the spinner wait.
		base.Spinner = driver.ParseLocator(*l.Spinner)
	}
	return base
}

// SessionConfig is the template every execution unit's session is built from.
func (s Settings) SessionConfig() driver.SessionConfig {
	cfg := driver.NewSessionConfig(s.Backend, s.Mode)
	cfg.ImplicitWait = s.ImplicitWait
	cfg.PageLoadTimeout = s.PageLoadTimeout
	cfg.ExecPath = s.ExecPath
	return cfg
}
