package suite

import (
	"context"
	"time"
)

type TestBuilder struct {
	runner *Runner
	test   Test
}

func (r *Runner) Test(name string) *TestBuilder {
	return &TestBuilder{
		runner: r,
		test: Test{
			Name: name,
		},
	}
}

func (tb *TestBuilder) step(s Step) *TestBuilder {
	tb.test.Steps = append(tb.test.Steps, s)
	return tb
}

func (tb *TestBuilder) Describe(description string) *TestBuilder {
	tb.test.Description = description
	return tb
}

// Navigate opens url, or the configured base URL when url is empty.
func (tb *TestBuilder) Navigate(url string) *TestBuilder {
	return tb.step(Step{Action: ActionNavigate, Target: url})
}

func (tb *TestBuilder) Identifier(value string) *TestBuilder {
	return tb.step(Step{Action: ActionIdentifier, Value: value})
}

func (tb *TestBuilder) Secret(value string) *TestBuilder {
	return tb.step(Step{Action: ActionSecret, Value: value})
}

func (tb *TestBuilder) Submit() *TestBuilder {
	return tb.step(Step{Action: ActionSubmit})
}

func (tb *TestBuilder) Login(identifier, secret string) *TestBuilder {
	return tb.step(Step{Action: ActionLogin, Target: identifier, Value: secret})
}

func (tb *TestBuilder) ExpectURL(fragment string) *TestBuilder {
	return tb.step(Step{Action: ActionExpectURL, Target: fragment})
}

func (tb *TestBuilder) ExpectError() *TestBuilder {
	return tb.step(Step{Action: ActionExpectError})
}

func (tb *TestBuilder) ExpectNoError() *TestBuilder {
	return tb.step(Step{Action: ActionExpectNoError})
}

func (tb *TestBuilder) ExpectErrorText(substring string) *TestBuilder {
	return tb.step(Step{Action: ActionExpectErrorText, Target: substring})
}

func (tb *TestBuilder) Screenshot(label string) *TestBuilder {
	return tb.step(Step{Action: ActionScreenshot, Target: label})
}

// Within sets the timeout of the most recent step.
func (tb *TestBuilder) Within(d time.Duration) *TestBuilder {
	if n := len(tb.test.Steps); n > 0 {
		tb.test.Steps[n-1].Timeout = d
	}
	return tb
}

// Build returns the test without queueing it.
func (tb *TestBuilder) Build() Test {
	return tb.test
}

// Run executes only this test.
func (tb *TestBuilder) Run(ctx context.Context) TestResult {
	results := tb.runner.run(ctx, []Test{tb.test}, nil, nil)
	if len(results) > 0 {
		return results[0]
	}
	return TestResult{
		Name:   tb.test.Title(),
		Passed: false,
		Error:  ErrNoTestResults,
	}
}

func (tb *TestBuilder) Add() *TestBuilder {
	tb.runner.AddTest(tb.test)
	return tb
}
