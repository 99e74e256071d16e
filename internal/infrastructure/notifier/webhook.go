package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gimlee/settlement/internal/core/ports"
)

const defaultWebhookTimeout = 5 * time.Second

type webhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier posts every resolved payment as json to url.
func NewWebhookNotifier(webhookURL string, timeout time.Duration) (ports.PaymentNotifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("missing webhook url")
	}
	u, err := url.Parse(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid webhook url %q: scheme must be http or https", webhookURL)
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &webhookNotifier{webhookURL, &http.Client{Timeout: timeout}}, nil
}

func (n *webhookNotifier) NotifyPaymentResolved(
	ctx context.Context, event ports.PaymentResolvedEvent,
) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to notify payment %s: %w", event.PaymentId, err)
	}
	// nolint:errcheck
	defer resp.Body.Close()
	// nolint:errcheck
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf(
			"failed to notify payment %s: webhook returned status %d", event.PaymentId, resp.StatusCode,
		)
	}
	return nil
}
