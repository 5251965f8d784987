package loginpage

import (
	"errors"

	"github.com/kidandcat/loginharness/pkg/driver"
)

// Locators address the elements of the login screen. Submit holds
// alternative forms of the same control; the first visible one is used.
type Locators struct {
	Identifier  driver.Locator
	Secret      driver.Locator
	Submit      []driver.Locator
	ErrorBanner driver.Locator
	// Spinner is optional.
	Spinner driver.Locator
}

func DefaultLocators() Locators {
	return Locators{
		Identifier: driver.ByXPath("//input[@data-test-id = 'email-input']"),
		Secret:     driver.ByXPath("//input[@data-test-id = 'password-input']"),
		Submit: []driver.Locator{
			driver.ByXPath("//button[@data-test-id = 'Log in']"),
			driver.ByXPath("//button[normalize-space() = 'Log in']"),
			driver.ByXPath("//input[@value = 'Log in'][@type = 'submit']"),
		},
		ErrorBanner: driver.ByCSS(".css-81vqij"),
		Spinner:     driver.ByXPath("//div[contains(text(), 'Loading')] | //div[contains(@class, 'loading')]"),
	}
}

// Validate reports missing required locators.
func (l Locators) Validate() error {
	var errs []error
	if l.Identifier.IsZero() {
		errs = append(errs, errors.New("identifier locator is empty"))
	}
	if l.Secret.IsZero() {
		errs = append(errs, errors.New("secret locator is empty"))
	}
	if len(l.Submit) == 0 {
		errs = append(errs, errors.New("no submit locator configured"))
	}
	for _, s := range l.Submit {
		if s.IsZero() {
			errs = append(errs, errors.New("submit locator is empty"))
			break
		}
	}
	if l.ErrorBanner.IsZero() {
		errs = append(errs, errors.New("error banner locator is empty"))
	}
	return errors.Join(errs...)
}
