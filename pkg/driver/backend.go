package driver

import "strings"

// Backend identifies a browser engine.
type Backend string

const (
	Chrome  Backend = "chrome"
	Edge    Backend = "edge"
	Firefox Backend = "firefox"
)

// Backends lists every supported backend in a stable order.
func Backends() []Backend {
	return []Backend{Chrome, Edge, Firefox}
}

func (b Backend) Valid() bool {
	switch b {
	case Chrome, Edge, Firefox:
		return true
	}
	return false
}

func (b Backend) String() string {
	return string(b)
}

// ParseBackend maps a configured browser name to a Backend.
func ParseBackend(name string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(name)))
	if !b.Valid() {
		return "", &ConfigurationError{Field: "browser", Value: name, Err: ErrUnsupportedBackend}
	}
	return b, nil
}

// Mode selects whether the browser window is rendered.
type Mode string

const (
	Headed   Mode = "headed"
	Headless Mode = "headless"
)

func (m Mode) Valid() bool {
	return m == Headed || m == Headless
}

func (m Mode) String() string {
	return string(m)
}

// ParseMode accepts "headed", "headless" or a boolean where true means headless.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "headless", "true":
		return Headless, nil
	case "headed", "false":
		return Headed, nil
	}
	return "", &ConfigurationError{Field: "mode", Value: value, Err: ErrUnsupportedMode}
}

// ModeFor converts the boolean headless switch used by config files and flags.
func ModeFor(headless bool) Mode {
	if headless {
		return Headless
	}
	return Headed
}
