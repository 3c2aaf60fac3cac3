package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"document-qa-platform/internal/config"
	"document-qa-platform/models"
)

// ContactMailer sends contact-detection alerts over SMTP to the configured
// recipients.
type ContactMailer struct {
	config *config.Config
}

func NewContactMailer(cfg *config.Config) *ContactMailer {
	return &ContactMailer{config: cfg}
}

type contactAlertData struct {
	Filename string
	Contacts []models.ContactRecord
	Count    int
}

// SendContactAlert emails the list of contacts detected in one uploaded file.
func (m *ContactMailer) SendContactAlert(filename string, contacts []models.ContactRecord) error {
	recipients := []string{}
	for _, r := range m.config.AlertRecipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no alert recipients configured")
	}

	data := contactAlertData{Filename: filename, Contacts: contacts, Count: len(contacts)}
	subject := fmt.Sprintf("Contact details detected in %s (%d found)", filename, len(contacts))

	htmlBody, textBody, err := renderContactAlert(data)
	if err != nil {
		return fmt.Errorf("failed to render contact alert: %w", err)
	}

	return m.sendEmail(recipients, subject, htmlBody, textBody)
}

func renderContactAlert(data contactAlertData) (htmlBody, textBody string, err error) {
	htmlT, err := template.New("html").Parse(contactAlertHTMLTemplate)
	if err != nil {
		return "", "", err
	}
	textT, err := template.New("text").Parse(contactAlertTextTemplate)
	if err != nil {
		return "", "", err
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := htmlT.Execute(&htmlBuf, data); err != nil {
		return "", "", err
	}
	if err := textT.Execute(&textBuf, data); err != nil {
		return "", "", err
	}
	return htmlBuf.String(), textBuf.String(), nil
}

func (m *ContactMailer) sendEmail(recipients []string, subject, htmlBody, textBody string) error {
	auth := smtp.PlainAuth("", m.config.SMTPUser, m.config.SMTPPass, m.config.SMTPHost)

	message := fmt.Sprintf(`From: %s
To: %s
Subject: %s
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="boundary123"

--boundary123
Content-Type: text/plain; charset=UTF-8

%s

--boundary123
Content-Type: text/html; charset=UTF-8

%s

--boundary123--`,
		m.config.SMTPFrom,
		strings.Join(recipients, ", "),
		subject,
		textBody,
		htmlBody)

	addr := fmt.Sprintf("%s:%s", m.config.SMTPHost, m.config.SMTPPort)
	return smtp.SendMail(addr, auth, m.config.SMTPFrom, recipients, []byte(message))
}

const contactAlertHTMLTemplate = `<html><body>
<h2>Contact Details Detected</h2>
<p>Hello,</p>
<p>The uploaded spreadsheet <strong>{{.Filename}}</strong> contains <strong>{{.Count}}</strong> contact detail(s):</p>
<ul>
{{range .Contacts}}<li><strong>{{.Kind}}</strong>: {{.Value}} ({{.SourceLocation}})</li>
{{end}}</ul>
<p>Review the file if this data should not be stored.</p>
</body></html>`

const contactAlertTextTemplate = `Contact Details Detected

Hello,

The uploaded spreadsheet {{.Filename}} contains {{.Count}} contact detail(s):

{{range .Contacts}}- {{.Kind}}: {{.Value}} ({{.SourceLocation}})
{{end}}
Review the file if this data should not be stored.`
