package driver

import "strings"

// Strategy selects how a locator expression is evaluated.
type Strategy string

const (
	CSS   Strategy = "css"
	XPath Strategy = "xpath"
)

// Locator addresses an element on the page.
type Locator struct {
	Strategy Strategy
	Value    string
}

func ByCSS(selector string) Locator {
	return Locator{Strategy: CSS, Value: selector}
}

func ByXPath(expr string) Locator {
	return Locator{Strategy: XPath, Value: expr}
}

// ParseLocator reads "xpath=...", "css=..." or a bare expression. Bare
// expressions starting with "/" or "(" are treated as XPath.
func ParseLocator(s string) Locator {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "xpath="):
		return ByXPath(strings.TrimPrefix(s, "xpath="))
	case strings.HasPrefix(s, "css="):
		return ByCSS(strings.TrimPrefix(s, "css="))
	case strings.HasPrefix(s, "/"), strings.HasPrefix(s, "("):
		return ByXPath(s)
	default:
		return ByCSS(s)
	}
}

func (l Locator) IsZero() bool {
	return l.Value == ""
}

func (l Locator) String() string {
	strategy := l.Strategy
	if strategy == "" {
		strategy = CSS
	}
	return string(strategy) + "=" + l.Value
}
