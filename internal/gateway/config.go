package gateway

import (
	"math"

	"github.com/nahidhasan98/wacrm/internal/config"
	"github.com/nahidhasan98/wacrm/internal/logger"
)

// FromConfig builds a client from the gateway and transcription settings
func FromConfig(cfg *config.Config, log *logger.Logger) (*Client, error) {
	var creds Credentials = StaticToken(cfg.Gateway.Token)
	if cfg.Gateway.TokenFile != "" {
		creds = FileToken{Path: cfg.Gateway.TokenFile}
	}

	return New(cfg.Gateway.BaseURL, creds,
		WithTimeout(cfg.Gateway.Timeout),
		WithRateLimit(cfg.Gateway.RequestsPerSecond, int(math.Ceil(cfg.Gateway.RequestsPerSecond))),
		WithTranscribeURL(cfg.Transcribe.URL),
		WithMaxMediaBytes(cfg.Transcribe.MaxBytes),
		WithMediaHosts(cfg.Transcribe.MediaHosts...),
		WithLogger(log.With("component", "gateway")),
	)
}

// SessionConfigFromConfig returns the webhook registration sent with new sessions,
// or nil when no webhook URL is configured
func SessionConfigFromConfig(cfg config.GatewayConfig) *SessionConfig {
	if cfg.WebhookURL == "" {
		return nil
	}

	hook := Webhook{URL: cfg.WebhookURL, Events: cfg.WebhookEvents}
	if cfg.WebhookSecret != "" {
		hook.HMAC = &WebhookHMAC{Key: cfg.WebhookSecret}
	}
	return &SessionConfig{Webhooks: []Webhook{hook}}
}
