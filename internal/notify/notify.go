// Package notify is the best-effort delivery collaborator. Failures are
// logged and never block lifecycle progress.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers a short message to a subject (a phone number). Delivery
// is fire-and-forget from the caller's point of view.
type Notifier interface {
	Deliver(ctx context.Context, subject, message string) error
}

// SMSGateway posts messages to an Africa's Talking style HTTP messaging
// endpoint.
type SMSGateway struct {
	Endpoint string
	Username string
	APIKey   string
	Client   *http.Client
	Logger   *zap.SugaredLogger
}

func NewSMSGateway(endpoint, username, apiKey string, logger *zap.SugaredLogger) *SMSGateway {
	if endpoint == "" {
		endpoint = "https://api.africastalking.com/version1/messaging"
	}
	return &SMSGateway{
		Endpoint: endpoint,
		Username: username,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Logger:   logger,
	}
}

func (g *SMSGateway) Deliver(ctx context.Context, subject, message string) error {
	if g.Username == "" || g.APIKey == "" {
		return fmt.Errorf("sms gateway credentials not set")
	}

	data := url.Values{}
	data.Set("username", g.Username)
	data.Set("to", subject)
	data.Set("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apiKey", g.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sms gateway status %d", resp.StatusCode)
	}
	g.Logger.Infow("sms delivered", "subject", subject)
	return nil
}

// LogNotifier is the local fallback when no gateway is configured.
type LogNotifier struct {
	Logger *zap.SugaredLogger
}

func (n *LogNotifier) Deliver(_ context.Context, subject, message string) error {
	n.Logger.Infow("notification", "subject", subject, "message", message)
	return nil
}
