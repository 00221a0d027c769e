package core

import (
	"bytes"
	"net/mail"
)

type (
	// EmailMessage is a renderable email with optional attachments.
	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		TextContent string
		HTMLContent string
		Attachments []Attachment
	}

	// Attachment contains base64-encoded content ready for transport.
	Attachment struct {
		Content     *bytes.Buffer
		ContentType string
		Filename    string
	}

	// EmailService sends messages asynchronously; failures are logged, not returned.
	EmailService interface {
		SendMessages(messages ...*EmailMessage)
	}
)

// Render normalizes the message before sending.
func (m *EmailMessage) Render() error {
	m.Subject = CleanString(m.Subject)
	if m.HTMLContent == "" && m.TextContent != "" {
		m.HTMLContent = "<pre>" + m.TextContent + "</pre>"
	}
	return nil
}

func (m *EmailMessage) HasRecipients() bool {
	return len(m.To) > 0 || len(m.Cc) > 0 || len(m.Bcc) > 0
}

func (m *EmailMessage) HasContent() bool {
	return m.TextContent != "" || m.HTMLContent != ""
}

func (m *EmailMessage) HasAttachments() bool {
	return len(m.Attachments) > 0
}
