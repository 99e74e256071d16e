package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gimlee/settlement/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	LogNotifier     = "log"
	WebhookNotifier = "webhook"
)

type Config struct {
	Type       string
	WebhookURL string
	Timeout    time.Duration
}

func New(cfg Config) (ports.PaymentNotifier, error) {
	switch strings.ToLower(cfg.Type) {
	case "", LogNotifier:
		return NewLogNotifier(), nil
	case WebhookNotifier:
		return NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown notifier type %q", cfg.Type)
	}
}

type logNotifier struct{}

// NewLogNotifier only records resolved payments in the service log.
func NewLogNotifier() ports.PaymentNotifier {
	return logNotifier{}
}

func (logNotifier) NotifyPaymentResolved(_ context.Context, event ports.PaymentResolvedEvent) error {
	log.WithFields(log.Fields{
		"payment":  event.PaymentId,
		"purchase": event.PurchaseId,
		"status":   event.Status,
		"paid":     event.PaidAmount.String(),
		"currency": event.Currency,
	}).Info("payment resolved")
	return nil
}
