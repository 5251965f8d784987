package suite

// DefaultTests returns the two standard scenarios: a valid login that must
// reach the expected location, and an invalid login that must show the error
// banner. Credentials for the valid scenario come from the configuration.
func DefaultTests() []Test {
	return []Test{
		{
			Name:        "LoginWithValidCredentials",
			Description: "Verify login with valid credentials",
			Steps: []Step{
				{Action: ActionNavigate},
				{Action: ActionIdentifier, Value: "$identifier"},
				{Action: ActionSecret, Value: "$secret"},
				{Action: ActionSubmit},
				{Action: ActionExpectURL, Target: "$expected_url"},
			},
		},
		{
			Name:        "LoginWithInvalidCredentials",
			Description: "Verify login with invalid credentials",
			Steps: []Step{
				{Action: ActionNavigate},
				{Action: ActionIdentifier, Value: "invalid@email.com"},
				{Action: ActionSecret, Value: "invalidpassword"},
				{Action: ActionSubmit},
				{Action: ActionExpectError},
				{Action: ActionExpectErrorText},
			},
		},
	}
}
