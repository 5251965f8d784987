package suite

import (
	"errors"
	"fmt"
)

var (
	ErrNoTestResults = errors.New("no test results available")
	ErrConsoleErrors = errors.New("console errors detected")
)

type AssertionError struct {
	Expected string
	Actual   string
	Message  string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected '%s', got '%s'", e.Message, e.Expected, e.Actual)
}

// StepError locates a failure within a test.
type StepError struct {
	Index  int
	Action string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Action, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
