package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/JakeFAU/pricealert/internal/catalog"
)

var bodyTemplate = template.Must(template.New("batch").Parse(
	`You have {{len .Notifications}} new price {{if eq (len .Notifications) 1}}alert{{else}}alerts{{end}}.
{{range .Notifications}}
- [{{.Type}}] {{.Message}}
{{- end}}

Manage your alerts in the PriceAlert dashboard.
`))

type batchView struct {
	Frequency     catalog.Frequency
	Notifications []catalog.Notification
}

// Render builds the subject and body of one user's batch mail.
func Render(f catalog.Frequency, ns []catalog.Notification) (string, string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, batchView{Frequency: f, Notifications: ns}); err != nil {
		return "", "", fmt.Errorf("render mail body: %w", err)
	}
	subject := fmt.Sprintf("[PriceAlert] %d price alerts", len(ns))
	if len(ns) == 1 {
		subject = "[PriceAlert] 1 price alert"
	}
	return subject, buf.String(), nil
}
