// Package parser reads login scenarios from .login files.
//
//	# comment
//	test "Verify login with valid credentials"
//	  describe "Valid user reaches the spaces page"
//	  navigate
//	  identifier "$identifier"
//	  secret "$secret"
//	  submit
//	  expect_url "/spaces/" 20s
//
// Arguments may be quoted with " or '. A trailing unquoted duration sets the
// step timeout on the expect_* actions.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kidandcat/loginharness/pkg/suite"
)

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) ParseFile(filename string) ([]suite.Test, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	tests, err := p.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return tests, nil
}

func (p *Parser) ParseString(content string) ([]suite.Test, error) {
	return p.Parse(strings.NewReader(content))
}

func (p *Parser) Parse(r io.Reader) ([]suite.Test, error) {
	scanner := bufio.NewScanner(r)
	var tests []suite.Test
	var currentTest *suite.Test
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens, err := tokenize(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch tokens[0].text {
		case "test":
			if currentTest != nil {
				tests = append(tests, *currentTest)
			}
			if len(tokens) != 2 || tokens[1].text == "" {
				return nil, fmt.Errorf("line %d: test requires a name", lineNum)
			}
			currentTest = &suite.Test{
				Name: tokens[1].text,
			}

		case "describe":
			if currentTest == nil {
				return nil, fmt.Errorf("line %d: describe outside of a test", lineNum)
			}
			if len(tokens) != 2 {
				return nil, fmt.Errorf("line %d: describe requires a description", lineNum)
			}
			currentTest.Description = tokens[1].text

		default:
			if currentTest == nil {
				return nil, fmt.Errorf("line %d: step outside of a test", lineNum)
			}
			step, err := p.parseStep(tokens)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			currentTest.Steps = append(currentTest.Steps, step)
		}
	}

	if currentTest != nil {
		tests = append(tests, *currentTest)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return tests, nil
}

func (p *Parser) parseStep(tokens []token) (suite.Step, error) {
	action := tokens[0].text
	args := tokens[1:]

	switch action {
	case suite.ActionNavigate, suite.ActionScreenshot:
		if len(args) > 1 {
			return suite.Step{}, fmt.Errorf("%s takes at most one argument", action)
		}
		return suite.Step{Action: action, Target: arg(args, 0)}, nil

	case suite.ActionIdentifier, suite.ActionSecret:
		if len(args) != 1 {
			return suite.Step{}, fmt.Errorf("%s requires a value", action)
		}
		return suite.Step{Action: action, Value: args[0].text}, nil

	case suite.ActionSubmit:
		if len(args) != 0 {
			return suite.Step{}, fmt.Errorf("submit takes no arguments")
		}
		return suite.Step{Action: action}, nil

	case suite.ActionLogin:
		if len(args) != 0 && len(args) != 2 {
			return suite.Step{}, fmt.Errorf("login takes an identifier and a secret, or nothing")
		}
		return suite.Step{Action: action, Target: arg(args, 0), Value: arg(args, 1)}, nil

	case suite.ActionExpectURL, suite.ActionExpectErrorText:
		args, timeout, err := trailingTimeout(args)
		if err != nil {
			return suite.Step{}, err
		}
		if len(args) > 1 {
			return suite.Step{}, fmt.Errorf("%s takes at most one argument and a timeout", action)
		}
		return suite.Step{Action: action, Target: arg(args, 0), Timeout: timeout}, nil

	case suite.ActionExpectError, suite.ActionExpectNoError:
		args, timeout, err := trailingTimeout(args)
		if err != nil {
			return suite.Step{}, err
		}
		if len(args) != 0 {
			return suite.Step{}, fmt.Errorf("%s takes only a timeout", action)
		}
		return suite.Step{Action: action, Timeout: timeout}, nil

	default:
		return suite.Step{}, fmt.Errorf("unknown action: %s", action)
	}
}

func arg(args []token, i int) string {
	if i < len(args) {
		return args[i].text
	}
	return ""
}

// trailingTimeout strips a final unquoted duration from args.
func trailingTimeout(args []token) ([]token, time.Duration, error) {
	if len(args) == 0 {
		return args, 0, nil
	}
	last := args[len(args)-1]
	if last.quoted {
		return args, 0, nil
	}
	d, err := time.ParseDuration(last.text)
	if err != nil {
		if len(args) == 1 {
			// A lone bare word is an argument, not a malformed timeout.
			return args, 0, nil
		}
		return nil, 0, fmt.Errorf("invalid timeout %q: %w", last.text, err)
	}
	if d <= 0 {
		return nil, 0, fmt.Errorf("timeout must be positive: %s", last.text)
	}
	return args[:len(args)-1], d, nil
}

type token struct {
	text   string
	quoted bool
}

// tokenize splits line on whitespace, keeping quoted runs together. Inside
// double quotes a backslash escapes the next character.
func tokenize(line string) ([]token, error) {
	var (
		tokens  []token
		cur     strings.Builder
		inToken bool
		quoted  bool
		quote   rune
		escaped bool
	)
	flush := func() {
		if inToken {
			tokens = append(tokens, token{text: cur.String(), quoted: quoted})
		}
		cur.Reset()
		inToken, quoted = false, false
	}

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote != 0:
			switch {
			case r == '\\' && quote == '"':
				escaped = true
			case r == quote:
				quote = 0
			default:
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken, quoted = true, true
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	flush()
	return tokens, nil
}
