// Package mailer renders transactional emails from admin-editable templates
// and hands them to a Sender.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log"
	"strings"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"

	"pagelens/api/models"
	"pagelens/api/store"
)

const SlugMagicLink = "magic_link"

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, m Message) error {
	log.Printf("Email to %s: %s\n%s", m.To, m.Subject, m.Text)
	return nil
}

type TemplateSource interface {
	GetTemplateBySlug(ctx context.Context, slug string) (*models.EmailTemplate, error)
}

var defaults = map[string]models.EmailTemplate{
	SlugMagicLink: {
		Slug:     SlugMagicLink,
		Subject:  "Your PageLens sign-in link",
		BodyHTML: `<p>Hi{{if .Name}} {{.Name}}{{end}},</p><p><a href="{{.Link}}">Sign in to PageLens</a>. The link expires in {{.ExpiresIn}}.</p>`,
		BodyText: "Hi{{if .Name}} {{.Name}}{{end}},\n\nSign in to PageLens: {{.Link}}\nThe link expires in {{.ExpiresIn}}.\n",
	},
}

var policy = bluemonday.UGCPolicy()

// Sanitize strips scripts and unsafe attributes from template HTML. Template
// actions survive because they are plain text to the sanitizer.
func Sanitize(html string) string {
	return policy.Sanitize(html)
}

type Mailer struct {
	templates TemplateSource
	sender    Sender
}

func New(templates TemplateSource, sender Sender) *Mailer {
	if sender == nil {
		sender = LogSender{}
	}
	return &Mailer{templates: templates, sender: sender}
}

// Send renders the template slug with data and delivers it to to.
func (m *Mailer) Send(ctx context.Context, slug, to string, data any) error {
	tmpl, err := m.lookup(ctx, slug)
	if err != nil {
		return err
	}
	msg, err := Render(tmpl, data)
	if err != nil {
		return err
	}
	msg.To = to
	if err := m.sender.Send(ctx, *msg); err != nil {
		return fmt.Errorf("send %s email to %s: %w", slug, to, err)
	}
	return nil
}

func (m *Mailer) lookup(ctx context.Context, slug string) (*models.EmailTemplate, error) {
	if m.templates != nil {
		t, err := m.templates.GetTemplateBySlug(ctx, slug)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("ERROR: loading email template %s, using default: %v", slug, err)
		}
	}
	t, ok := defaults[slug]
	if !ok {
		return nil, fmt.Errorf("email template %s: %w", slug, store.ErrNotFound)
	}
	return &t, nil
}

// Render executes the subject, HTML and text bodies of t. The HTML body is
// escaped contextually; an empty text body is derived from the HTML.
func Render(t *models.EmailTemplate, data any) (*Message, error) {
	subject, err := execText(t.Slug+":subject", t.Subject, data)
	if err != nil {
		return nil, err
	}
	msg := &Message{Subject: strings.TrimSpace(subject)}

	if t.BodyHTML != "" {
		h, err := htmltemplate.New(t.Slug + ":html").Parse(t.BodyHTML)
		if err != nil {
			return nil, fmt.Errorf("parse html template %s: %w", t.Slug, err)
		}
		var buf bytes.Buffer
		if err := h.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render html template %s: %w", t.Slug, err)
		}
		msg.HTML = buf.String()
	}

	if t.BodyText != "" {
		if msg.Text, err = execText(t.Slug+":text", t.BodyText, data); err != nil {
			return nil, err
		}
	} else if msg.HTML != "" {
		msg.Text = strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(msg.HTML))
	}
	return msg, nil
}

func execText(name, text string, data any) (string, error) {
	tmpl, err := texttemplate.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// Validate parses every part of t so broken templates are rejected on save.
func Validate(t *models.EmailTemplate) error {
	if _, err := texttemplate.New("subject").Parse(t.Subject); err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	if _, err := htmltemplate.New("html").Parse(t.BodyHTML); err != nil {
		return fmt.Errorf("body_html: %w", err)
	}
	if _, err := texttemplate.New("text").Parse(t.BodyText); err != nil {
		return fmt.Errorf("body_text: %w", err)
	}
	return nil
}
