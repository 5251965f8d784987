package report

import (
	"fmt"
	"html/template"
	"os"
)

// InlineImage is the screenshot as a data URL, or empty.
func (e EventRecord) InlineImage() template.URL {
	if e.inline == "" {
		return ""
	}
	return template.URL("data:image/png;base64," + e.inline)
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 16px; background: #fafafa; }
    h1 { margin-bottom: 4px; }
    h2 { margin: 24px 0 8px; }
    .summary, .info { margin-bottom: 12px; }
    table { width: 100%; border-collapse: collapse; background: #fff; }
    th, td { padding: 8px 10px; border: 1px solid #e0e0e0; font-size: 14px; vertical-align: top; }
    th { background: #f5f5f5; text-align: left; }
    .status-pass { color: #2e7d32; font-weight: 600; }
    .status-fail { color: #c62828; font-weight: 600; }
    .status-skip { color: #9e9e9e; font-weight: 600; }
    .status-info { color: #1565c0; }
    img { max-width: 480px; border: 1px solid #ccc; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  <div class="info">Environment: {{.Info.Environment}} &nbsp; Browser: {{.Info.Browser}} &nbsp; URL: {{.Info.URL}}</div>
  <div class="summary">Total: {{.Total}} &nbsp; Passed: {{.Passed}} &nbsp; Failed: {{.Failed}} &nbsp; Skipped: {{.Skipped}} &nbsp; Time: {{.Elapsed}}</div>
  {{range .Tests}}
  <h2>{{.Name}} <span class="status-{{.Status}}">{{.Status}}</span></h2>
  <table>
    <thead><tr><th>Time</th><th>Status</th><th>Step</th><th>Details</th></tr></thead>
    <tbody>
    {{range .Events}}
      <tr>
        <td>{{.At.Format "15:04:05.000"}}</td>
        <td class="status-{{.Status}}">{{.Status}}</td>
        <td>{{.Step}}</td>
        <td>{{.Message}}{{with .InlineImage}}<br/><img src="{{.}}" alt="screenshot"/>{{end}}</td>
      </tr>
    {{end}}
    </tbody>
  </table>
  {{end}}
</body>
</html>`))

func writeHTML(path string, sum Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := htmlTemplate.Execute(f, sum); err != nil {
		f.Close()
		return fmt.Errorf("render html report: %w", err)
	}
	return f.Close()
}
