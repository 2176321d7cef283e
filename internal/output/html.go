package output

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatRPM":     formatRPM,
	"formatSeconds": formatSeconds,
	"formatTime": func(t time.Time) string {
		return t.Format(time.RFC3339)
	},
}).Parse(htmlTemplate))

// GenerateHTMLReport writes a standalone HTML page summarizing the run.
func GenerateHTMLReport(w io.Writer, r Report) error {
	if err := reportTemplate.Execute(w, r); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Load Test Results</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 2em;
        }
        .container {
            max-width: 720px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            color: white;
            padding: 24px 32px;
        }
        header h1 {
            font-size: 1.8rem;
        }
        header .meta {
            opacity: 0.9;
            font-size: 0.85rem;
        }
        .content {
            padding: 32px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(200px, 1fr));
            gap: 16px;
            margin-bottom: 24px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 16px;
            border-left: 4px solid #667eea;
        }
        .card.success {
            border-left-color: #10b981;
        }
        .card h3 {
            font-size: 0.8rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
        }
        .card .value {
            font-size: 1.8rem;
            font-weight: bold;
        }
        table {
            width: 100%;
            border-collapse: collapse;
        }
        th, td {
            text-align: left;
            padding: 10px;
            border-bottom: 1px solid #e5e7eb;
        }
        tr.pass td:last-child {
            color: #10b981;
            font-weight: bold;
        }
        tr.fail td:last-child {
            color: #ef4444;
            font-weight: bold;
        }
        h2 {
            margin: 24px 0 8px;
            font-size: 1.2rem;
        }
        th {
            color: #4b5563;
            font-size: 0.85rem;
            text-transform: uppercase;
        }
    </style>
</head>
<body>
    <div class="container">
        <header>
            <h1>Load Test Results</h1>
            <div class="meta">Generated {{formatTime .GeneratedAt}}{{if .RunID}} &middot; run {{.RunID}}{{end}}</div>
        </header>
        <div class="content">
            <div class="grid">
                <div class="card success">
                    <h3>Total Successful Requests</h3>
                    <div class="value" id="successful-requests">{{.SuccessfulRequests}}</div>
                </div>
                <div class="card">
                    <h3>Requests Per Minute (RPM)</h3>
                    <div class="value" id="requests-per-minute">{{formatRPM .RequestsPerMinute}}</div>
                </div>
            </div>
            <h2>Summary</h2>
            <table>
                <tr><th>URL Tested</th><td>{{.Target}}</td></tr>
                <tr><th>Test Duration</th><td>{{formatSeconds .DurationSeconds}} seconds</td></tr>
                <tr><th>Number of Threads</th><td>{{.Threads}}</td></tr>
            </table>
            {{if .Thresholds}}
            <h2>Thresholds ({{.ThresholdsPassed}}/{{len .Thresholds}} Passed)</h2>
            <table id="thresholds">
                <tr><th>Threshold</th><th>Actual</th><th>Status</th></tr>
                {{range .Thresholds}}
                <tr class="{{if .Pass}}pass{{else}}fail{{end}}">
                    <td>{{.Raw}}</td>
                    <td>{{printf "%.2f" .Actual}}</td>
                    <td>{{if .Pass}}PASS{{else}}FAIL{{end}}</td>
                </tr>
                {{end}}
            </table>
            {{end}}
        </div>
    </div>
</body>
</html>
`
