package driver

import "fmt"

// Option is a single browser command-line switch. An empty Value means the
// switch is a bare flag.
type Option struct {
	Name  string
	Value string
}

func (o Option) String() string {
	if o.Value == "" {
		return "--" + o.Name
	}
	return fmt.Sprintf("--%s=%s", o.Name, o.Value)
}

// OptionSet returns the switches for cfg. Every call allocates a new slice so
// concurrent sessions never share option state.
func OptionSet(cfg SessionConfig) []Option {
	switch cfg.Backend {
	case Chrome, Edge:
		if cfg.Mode == Headless {
			return headlessOptions()
		}
		return headedOptions(cfg.WindowOffset)
	default:
		// Firefox runs with its baseline profile only.
		return nil
	}
}

func headlessOptions() []Option {
	return []Option{
		{Name: "headless", Value: "new"},
		{Name: "disable-gpu"},
		{Name: "no-sandbox"},
		{Name: "disable-dev-shm-usage"},
		{Name: "window-size", Value: fmt.Sprintf("%d,%d", ViewportWidth, ViewportHeight)},
		{Name: "remote-allow-origins", Value: "*"},
		{Name: "ignore-certificate-errors"},
		{Name: "allow-running-insecure-content"},
		{Name: "disable-extensions"},
		{Name: "disable-notifications"},
		{Name: "disable-infobars"},
		{Name: "disable-popup-blocking"},
	}
}

func headedOptions(offset Point) []Option {
	return []Option{
		{Name: "remote-allow-origins", Value: "*"},
		{Name: "disable-notifications"},
		{Name: "window-position", Value: fmt.Sprintf("%d,%d", offset.X, offset.Y)},
	}
}

// HasOption reports whether opts contains a switch with the given name.
func HasOption(opts []Option, name string) bool {
	for _, o := range opts {
		if o.Name == name {
			return true
		}
	}
	return false
}
