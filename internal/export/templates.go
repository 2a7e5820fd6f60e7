package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var clientTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"money": formatMoney,
	}

	templateContent, err := templateFS.ReadFile("templates/client.html")
	if err != nil {
		// Fallback to built-in template if file not found
		clientTemplate = template.Must(template.New("client").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	clientTemplate = template.Must(template.New("client").Funcs(funcMap).Parse(string(templateContent)))
}

// formatMoney renders cents as a dollar-style amount with the currency code.
func formatMoney(cents int64, currency string) string {
	whole := cents / 100
	frac := cents % 100
	if frac < 0 {
		frac = -frac
	}
	var b strings.Builder
	digits := []byte{}
	raw := whole
	if raw < 0 {
		b.WriteByte('-')
		raw = -raw
	}
	s := []byte{}
	if raw == 0 {
		s = append(s, '0')
	}
	for raw > 0 {
		s = append(s, byte('0'+raw%10))
		raw /= 10
	}
	for i := len(s) - 1; i >= 0; i-- {
		digits = append(digits, s[i])
		if i > 0 && i%3 == 0 {
			digits = append(digits, ',')
		}
	}
	b.Write(digits)
	b.WriteByte('.')
	b.WriteByte(byte('0' + frac/10))
	b.WriteByte(byte('0' + frac%10))
	b.WriteByte(' ')
	b.WriteString(currency)
	return b.String()
}

// TemplateData holds data for the client summary template.
type TemplateData struct {
	Company     string
	ContactName string
	Email       string
	Phone       string
	Status      string
	OwnerName   string
	Tags        []string
	GeneratedAt time.Time
	Notes       []TemplateNote
	Tasks       []TemplateTask
	Deals       []TemplateDeal
}

type TemplateNote struct {
	Author    string
	Body      string
	Pinned    bool
	CreatedAt time.Time
}

type TemplateTask struct {
	Title  string
	Status string
	DueAt  string
}

type TemplateDeal struct {
	Title       string
	Stage       string
	AmountCents int64
	Currency    string
}

// RenderClientHTML renders the client summary template with provided data.
func RenderClientHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := clientTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Company}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .note { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
  </style>
</head>
<body>
  <h1>{{.Company}}</h1>
  <div class="meta">{{.ContactName}} | {{.Status}} | {{.OwnerName}}</div>
  {{range .Deals}}<p>{{.Title}} ({{.Stage}}): {{money .AmountCents .Currency}}</p>{{end}}
  {{range .Notes}}<div class="note">{{.Body}}</div>{{end}}
</body>
</html>`
