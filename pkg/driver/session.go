package driver

import (
	"context"
	"time"
)

// ElementState is the instantaneous result of probing a locator.
type ElementState struct {
	Present bool `json:"present"`
	Visible bool `json:"visible"`
}

// Session is a live handle to one browser instance. A Session is owned by a
// single execution unit and its methods are called sequentially.
type Session interface {
	ID() string
	Backend() Backend
	Mode() Mode

	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)

	// Element probes loc without waiting.
	Element(ctx context.Context, loc Locator) (ElementState, error)
	// Fill clears the element and types value, locating it within the implicit wait.
	Fill(ctx context.Context, loc Locator, value string) error
	Click(ctx context.Context, loc Locator) error
	Text(ctx context.Context, loc Locator) (string, error)
	// Screenshot returns PNG bytes of the current page.
	Screenshot(ctx context.Context) ([]byte, error)

	Maximize(ctx context.Context) error
	SetTimeouts(t Timeouts) error
	Timeouts() Timeouts

	Close(ctx context.Context) error
}

// ConsoleError is a console.error call observed in the page.
type ConsoleError struct {
	Message   string
	Type      string
	Timestamp time.Time
	URL       string
}

// ConsoleSource is implemented by sessions that record page console errors.
type ConsoleSource interface {
	ConsoleErrors() []ConsoleError
}
