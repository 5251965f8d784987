package suite

import (
	"time"

	"github.com/kidandcat/loginharness/pkg/driver"
	"github.com/kidandcat/loginharness/pkg/loginpage"
	"github.com/kidandcat/loginharness/pkg/report"
)

// Step actions.
const (
	ActionNavigate        = "navigate"
	ActionIdentifier      = "identifier"
	ActionSecret          = "secret"
	ActionSubmit          = "submit"
	ActionLogin           = "login"
	ActionExpectURL       = "expect_url"
	ActionExpectError     = "expect_error"
	ActionExpectNoError   = "expect_no_error"
	ActionExpectErrorText = "expect_error_text"
	ActionScreenshot      = "screenshot"
)

// Actions lists every known step action.
var Actions = []string{
	ActionNavigate, ActionIdentifier, ActionSecret, ActionSubmit, ActionLogin,
	ActionExpectURL, ActionExpectError, ActionExpectNoError, ActionExpectErrorText,
	ActionScreenshot,
}

// KnownAction reports whether a is a step action.
func KnownAction(a string) bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

type Test struct {
	Name        string
	Description string
	Steps       []Step
}

// Title is the name shown in reports: the description when present.
func (t Test) Title() string {
	if t.Description != "" {
		return t.Description
	}
	return t.Name
}

// Step is one action. Target and Value are expanded against the
// $identifier, $secret, $base_url and $expected_url variables before use.
// A zero Timeout uses the configured default for the action.
type Step struct {
	Action  string
	Target  string
	Value   string
	Timeout time.Duration
}

type TestResult struct {
	Name     string
	Passed   bool
	Error    error
	Duration time.Duration
	Errors   []driver.ConsoleError
	// Artifact is the teardown screenshot of a failed test.
	Artifact *report.Artifact
	State    loginpage.State
}

type Config struct {
	BaseURL     string
	ExpectedURL string
	Identifier  string
	Secret      string

	SuccessTimeout   time.Duration
	ErrorTimeout     time.Duration
	ErrorTextTimeout time.Duration
	PollInterval     time.Duration

	Parallel           int
	StepScreenshots    bool
	FailOnConsoleError bool
	ErrorFilter        func(driver.ConsoleError) bool
	Locators           loginpage.Locators

	// Screenshot steps compare against PNGs in BaselineDir when it is set.
	BaselineDir       string
	UpdateBaselines   bool
	BaselineThreshold float64
}

// DefaultConfig mirrors the timeouts of config.Defaults.
func DefaultConfig() *Config {
	return &Config{
		ExpectedURL:      "/spaces/",
		SuccessTimeout:   20 * time.Second,
		ErrorTimeout:     10 * time.Second,
		ErrorTextTimeout: 5 * time.Second,
		PollInterval:     500 * time.Millisecond,
		Parallel:         1,
		Locators:         loginpage.DefaultLocators(),
	}
}
