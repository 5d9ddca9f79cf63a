package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"github.com/trackwatch/trackwatch/pkg/utils"
	"go.uber.org/zap"
)

// ErrSendFailed is returned when the email provider rejects a message.
var ErrSendFailed = errors.New("email send failed")

// Mailer delivers one transactional email and returns the provider message id.
type Mailer interface {
	Send(ctx context.Context, to, subject, text string) (string, error)
}

// brevoEndpoint is the transactional email API.
const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// Brevo sends mail through the Brevo transactional HTTP API with the shared
// retry policy. Client errors (4xx) are permanent; everything else retries.
type Brevo struct {
	cfg      *config.Mailer
	http     *http.Client
	endpoint string
	logger   *zap.Logger
}

// NewBrevo creates a Brevo-backed mailer.
func NewBrevo(cfg *config.Mailer, logger *zap.Logger) *Brevo {
	return &Brevo{
		cfg:      cfg,
		http:     &http.Client{Timeout: 30 * time.Second},
		endpoint: brevoEndpoint,
		logger:   logger.Named("mailer"),
	}
}

type brevoRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
}

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Send delivers one message, retrying transient failures.
func (b *Brevo) Send(ctx context.Context, to, subject, text string) (string, error) {
	messageID, err := utils.WithRetry(ctx, func() (string, error) {
		return b.send(ctx, to, subject, text)
	}, utils.GetMailerRetryOptions())
	if err != nil {
		return "", err
	}

	b.logger.Info("Sent notification email",
		zap.String("to", to),
		zap.String("messageID", messageID))

	return messageID, nil
}

func (b *Brevo) send(ctx context.Context, to, subject, text string) (string, error) {
	payload, err := sonic.Marshal(brevoRequest{
		Sender:      brevoContact{Name: b.cfg.FromName, Email: b.cfg.FromAddress},
		To:          []brevoContact{{Email: to}},
		Subject:     subject,
		TextContent: text,
	})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("error marshaling email: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("error creating email request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.cfg.APIKey)

	resp, err := b.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("error executing email request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading email response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		sendErr := fmt.Errorf("%w: %d: %s", ErrSendFailed, resp.StatusCode, string(body))
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return "", backoff.Permanent(sendErr)
		}

		return "", sendErr
	}

	var result struct {
		MessageID string `json:"messageId"`
	}

	if err := sonic.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("error decoding email response: %w", err)
	}

	return result.MessageID, nil
}
