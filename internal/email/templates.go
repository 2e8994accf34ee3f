package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// NotificationData is the data model for the generic notification template.
type NotificationData struct {
	Title     string
	Heading   string
	BodyLines []string
	CTALabel  string
	CTAURL    string
}

// RenderNotification renders the generic notification email body.
func RenderNotification(data NotificationData) (string, error) {
	return renderEmailTemplate("notification.html", data)
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}
