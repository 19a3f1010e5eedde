package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contactbook-hq/contactbook-backend/internal/config"
	"github.com/contactbook-hq/contactbook-backend/internal/logger"
)

const defaultSendGridBaseURL = "https://api.sendgrid.com"

type Mailer interface {
	Send(ctx context.Context, toEmail, toName, subject, htmlBody string) error
}

type sendgridMailer struct {
	log       *logger.Logger
	client    *http.Client
	apiKey    string
	baseURL   string
	fromEmail string
	fromName  string
}

// NewMailer returns the SendGrid-backed mailer, or a logging no-op when no
// API key is configured so local runs work without mail credentials.
func NewMailer(cfg config.MailConfig, log *logger.Logger) Mailer {
	mailerLog := log.With("service", "Mailer")
	if strings.TrimSpace(cfg.APIKey) == "" {
		mailerLog.Warn("No SendGrid API key configured, outgoing mail will be dropped")
		return &noopMailer{log: mailerLog}
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultSendGridBaseURL
	}
	return &sendgridMailer{
		log:       mailerLog,
		client:    &http.Client{Timeout: 30 * time.Second},
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPayload struct {
	Personalizations []struct {
		To []sgAddress `json:"to"`
	} `json:"personalizations"`
	From    sgAddress `json:"from"`
	Subject string    `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

func (m *sendgridMailer) Send(ctx context.Context, toEmail, toName, subject, htmlBody string) error {
	payload := sgPayload{
		From:    sgAddress{Email: m.fromEmail, Name: m.fromName},
		Subject: subject,
	}
	payload.Personalizations = make([]struct {
		To []sgAddress `json:"to"`
	}, 1)
	payload.Personalizations[0].To = []sgAddress{{Email: toEmail, Name: toName}}
	payload.Content = []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{{Type: "text/html", Value: htmlBody}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	m.log.Debug("Mail sent", "to", toEmail, "subject", subject)
	return nil
}

type noopMailer struct {
	log *logger.Logger
}

func (m *noopMailer) Send(_ context.Context, toEmail, _, subject, _ string) error {
	m.log.Info("Dropping outgoing mail (mailer disabled)", "to", toEmail, "subject", subject)
	return nil
}
