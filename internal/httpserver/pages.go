package httpserver

import "html/template"

// The action endpoints answer to email clients, so every outcome is a plain
// HTML page with HTTP 200; the words carry the result, not the status code.

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Order Approval</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 4em auto; color: #222; }
.ok { color: #1a7f37; }
.err { color: #b42318; }
.detail { color: #555; font-size: 0.9em; }
</style>
</head>
<body>
<h1 class="{{if .Ok}}ok{{else}}err{{end}}">{{if .Ok}}Done{{else}}Not processed{{end}}</h1>
<p>{{.Message}}</p>
{{if .Order}}<p class="detail">Order {{.Order.ID}} &mdash; status {{.Order.Status}}{{if not .Order.Rejected}}, level {{.Order.CurrentApprovalLevel}} of {{.Order.RequiredApprovalLevel}}{{end}}</p>{{end}}
</body>
</html>
`))

var bulkPage = template.Must(template.New("bulk").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Bulk Order Approval</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 4em auto; color: #222; }
.ok { color: #1a7f37; }
.err { color: #b42318; }
table { border-collapse: collapse; margin-top: 1em; }
td, th { border: 1px solid #ccc; padding: 0.3em 0.8em; text-align: left; }
</style>
</head>
<body>
<h1 class="{{if .Ok}}ok{{else}}err{{end}}">{{if .Ok}}Batch processed{{else}}Not processed{{end}}</h1>
<p>{{.Message}}</p>
{{if .Total}}
<table>
<tr><th>Total</th><th>Successful</th><th>Failed</th></tr>
<tr><td>{{.Total}}</td><td>{{.Successful}}</td><td>{{.Failed}}</td></tr>
</table>
{{end}}
{{if .Errors}}
<h2>Failures</h2>
<ul>
{{range .Errors}}<li>Order {{.OrderID}}: {{.Message}}</li>{{end}}
</ul>
{{end}}
</body>
</html>
`))
