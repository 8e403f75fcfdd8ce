package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/netevents/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookTransport posts each packet as one JSON frame to an HTTP relay.
// It can stand in for the broker on the reliable channel.
type WebhookTransport struct {
	client   *resty.Client
	endpoint string
	self     domain.Endpoint
}

var _ Transport = (*WebhookTransport)(nil)

func NewWebhookTransport(endpoint string, self domain.Endpoint) (*WebhookTransport, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookTransportWithClient(endpoint, self, client)
}

func NewWebhookTransportWithClient(endpoint string, self domain.Endpoint, client *resty.Client) (*WebhookTransport, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookTransport{
		client:   client,
		endpoint: trimmedEndpoint,
		self:     self,
	}, nil
}

func (w *WebhookTransport) Send(ctx context.Context, packet Packet) error {
	if w == nil || w.client == nil {
		return fmt.Errorf("webhook transport is not initialized")
	}

	body, err := EncodeFrame(NewFrame(w.self, packet))
	if err != nil {
		return newTransportError(packet, "encode failed", false, err)
	}

	response, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Packet-ID", packet.ID).
		SetBody(body).
		Post(w.endpoint)
	if err != nil {
		return newTransportError(packet, "webhook request failed", !errors.Is(err, context.Canceled), err)
	}
	if response == nil {
		return newTransportError(packet, "webhook returned empty response", true, nil)
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	transportErr := newTransportError(packet,
		webhookErrorMessage(statusCode, strings.TrimSpace(response.String())),
		isTransientHTTPStatus(statusCode),
		nil,
	)
	transportErr.StatusCode = statusCode
	return transportErr
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func webhookErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
