package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	JSONFile  = "report.json"
	JUnitFile = "junit.xml"
	HTMLFile  = "index.html"
)

// SystemInfo is the run metadata shown in the report header.
type SystemInfo struct {
	Environment string `json:"environment"`
	Browser     string `json:"browser"`
	URL         string `json:"url"`
}

// Options configure a Reporter.
type Options struct {
	Dir    string
	Title  string
	Name   string
	Info   SystemInfo
	Logger *zap.Logger
}

// Reporter is the process-wide sink. It buffers events per test and writes
// all report files on Flush. The output directory is created on first flush.
type Reporter struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	order   []string
	events  map[string][]Event
	names   map[string]string
	started time.Time
	dirOnce sync.Once
	dirErr  error
}

func NewReporter(opts Options) *Reporter {
	if opts.Dir == "" {
		opts.Dir = "login-report"
	}
	if opts.Title == "" {
		opts.Title = "Login Test Report"
	}
	if opts.Name == "" {
		opts.Name = "Login Automation Results"
	}
	if opts.Info.Environment == "" {
		opts.Info.Environment = "QA"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		opts:    opts,
		logger:  logger.Named("report"),
		events:  make(map[string][]Event),
		names:   make(map[string]string),
		started: time.Now(),
	}
}

// Dir is the output directory.
func (r *Reporter) Dir() string { return r.opts.Dir }

func (r *Reporter) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	key := e.Unit
	if key == "" {
		key = e.Test
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[key]; !ok {
		r.order = append(r.order, key)
		r.names[key] = e.Test
	}
	r.events[key] = append(r.events[key], e)
}

// TestSummary is the derived outcome of one test.
type TestSummary struct {
	Name     string        `json:"name"`
	Unit     string        `json:"unit,omitempty"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Events   []EventRecord `json:"events"`
}

// EventRecord is an Event as written to disk, with the screenshot replaced by
// its file name.
type EventRecord struct {
	Step       string    `json:"step"`
	Status     Status    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
	At         time.Time `json:"at"`

	inline string
}

// Summary is the whole run.
type Summary struct {
	Title    string        `json:"title"`
	Name     string        `json:"name"`
	Info     SystemInfo    `json:"system_info"`
	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Tests    []TestSummary `json:"tests"`
	shotData map[string][]byte
}

// Summarize derives per-test outcomes from the buffered events. A test with
// any fail event failed; a test with only skip and info events was skipped.
func (r *Reporter) Summarize() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	sum := Summary{
		Title:    r.opts.Title,
		Name:     r.opts.Name,
		Info:     r.opts.Info,
		Started:  r.started,
		Elapsed:  time.Since(r.started),
		shotData: make(map[string][]byte),
	}
	files := make(map[string]int)
	for _, key := range r.order {
		events := r.events[key]
		name := r.names[key]
		ts := TestSummary{Name: name, Unit: events[0].Unit, Status: Pass}
		prefix := sanitize(name)
		files[prefix]++
		if n := files[prefix]; n > 1 {
			prefix = fmt.Sprintf("%s_%d", prefix, n)
		}
		sawSkip, sawPass := false, false
		for i, e := range events {
			rec := EventRecord{Step: e.Step, Status: e.Status, Message: e.Message, At: e.At}
			if !e.Screenshot.Empty() {
				file := screenshotName(prefix, i, e.Screenshot.Label)
				rec.Screenshot = file
				rec.inline = e.Screenshot.Base64()
				sum.shotData[file] = e.Screenshot.Data
			}
			ts.Events = append(ts.Events, rec)
			switch e.Status {
			case Fail:
				if ts.Status != Fail {
					ts.Message = e.Message
				}
				ts.Status = Fail
			case Skip:
				sawSkip = true
			case Pass:
				sawPass = true
			}
		}
		if ts.Status != Fail && sawSkip && !sawPass {
			ts.Status = Skip
		}
		if len(events) > 1 {
			ts.Duration = events[len(events)-1].At.Sub(events[0].At)
		}
		switch ts.Status {
		case Pass:
			sum.Passed++
		case Fail:
			sum.Failed++
		case Skip:
			sum.Skipped++
		}
		sum.Tests = append(sum.Tests, ts)
	}
	sum.Total = len(sum.Tests)
	return sum
}

// Flush writes every report file. It may be called more than once; each call
// rewrites the files with everything emitted so far.
func (r *Reporter) Flush() error {
	r.dirOnce.Do(func() {
		r.dirErr = os.MkdirAll(filepath.Join(r.opts.Dir, "screenshots"), 0o755)
	})
	if r.dirErr != nil {
		return fmt.Errorf("create report directory: %w", r.dirErr)
	}

	sum := r.Summarize()
	for file, data := range sum.shotData {
		if err := os.WriteFile(filepath.Join(r.opts.Dir, "screenshots", file), data, 0o644); err != nil {
			return fmt.Errorf("write screenshot %s: %w", file, err)
		}
	}
	if err := writeJSON(filepath.Join(r.opts.Dir, JSONFile), sum); err != nil {
		return err
	}
	if err := writeJUnit(filepath.Join(r.opts.Dir, JUnitFile), sum); err != nil {
		return err
	}
	if err := writeHTML(filepath.Join(r.opts.Dir, HTMLFile), sum); err != nil {
		return err
	}
	r.logger.Info("report written",
		zap.String("dir", r.opts.Dir),
		zap.Int("tests", sum.Total),
		zap.Int("failed", sum.Failed),
		zap.Int("screenshots", len(sum.shotData)),
	)
	return nil
}

func screenshotName(prefix string, index int, label string) string {
	name := prefix
	if label != "" {
		name += "_" + sanitize(label)
	}
	return fmt.Sprintf("%s_%02d.png", name, index)
}

func sanitize(s string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_")
	return r.Replace(strings.TrimSpace(s))
}

func writeJSON(path string, sum Summary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type junitTestsuite struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Props    []junitProperty `xml:"properties>property"`
	Cases    []junitTestcase `xml:"testcase"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type junitTestcase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

func writeJUnit(path string, sum Summary) error {
	ts := junitTestsuite{
		Name:     sum.Name,
		Tests:    sum.Total,
		Failures: sum.Failed,
		Skipped:  sum.Skipped,
		Time:     fmt.Sprintf("%.3f", sum.Elapsed.Seconds()),
		Props: []junitProperty{
			{Name: "environment", Value: sum.Info.Environment},
			{Name: "browser", Value: sum.Info.Browser},
			{Name: "url", Value: sum.Info.URL},
		},
	}
	for _, t := range sum.Tests {
		tc := junitTestcase{
			Name:      t.Name,
			Classname: "loginharness",
			Time:      fmt.Sprintf("%.3f", t.Duration.Seconds()),
		}
		var out strings.Builder
		for _, e := range t.Events {
			fmt.Fprintf(&out, "[%s] %s", e.Status, e.Step)
			if e.Message != "" {
				fmt.Fprintf(&out, ": %s", e.Message)
			}
			out.WriteByte('\n')
		}
		tc.SystemOut = out.String()
		switch t.Status {
		case Skip:
			tc.Skipped = &junitSkipped{Message: t.Message}
		case Fail:
			tc.Failure = &junitFailure{Message: t.Message, Type: "failure", Body: t.Message}
		}
		ts.Cases = append(ts.Cases, tc)
	}
	data, err := xml.MarshalIndent(ts, "", "  ")
	if err != nil {
		return err
	}
	data = append([]byte(xml.Header), data...)
	return os.WriteFile(path, data, 0o644)
}
