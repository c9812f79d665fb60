package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/verticut/internal/config"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
	"github.com/therealutkarshpriyadarshi/verticut/internal/metrics"
	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

const maxResponseBody = 4096

// Service delivers export notifications to the configured endpoint
type Service struct {
	client     *http.Client
	repo       Repository
	url        string
	secret     string
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     *logging.Logger
}

// Repository defines the interface for webhook persistence
type Repository interface {
	CreateWebhookDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	UpdateWebhookDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
}

// NewService creates a new webhook service. repo may be nil, in which case
// deliveries are not recorded.
func NewService(cfg config.WebhookConfig, repo Repository, logger *logging.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Service{
		client:     &http.Client{Timeout: timeout},
		repo:       repo,
		url:        cfg.URL,
		secret:     cfg.Secret,
		maxRetries: maxRetries,
		backoff:    retryDelay,
		logger:     logger,
	}
}

// Enabled reports whether an endpoint is configured
func (s *Service) Enabled() bool {
	return s != nil && s.url != ""
}

// Notify sends a webhook notification for an event, retrying failed attempts
func (s *Service) Notify(ctx context.Context, event string, data interface{}) error {
	if !s.Enabled() {
		return nil
	}

	payload, err := json.Marshal(models.WebhookEvent{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	delivery := &models.WebhookDelivery{
		ID:        uuid.New().String(),
		Event:     event,
		Payload:   string(payload),
		Status:    models.WebhookDeliveryStatusPending,
		CreatedAt: time.Now(),
	}
	if s.repo != nil {
		if err := s.repo.CreateWebhookDelivery(ctx, delivery); err != nil {
			s.logger.ErrorWithErr("failed to record webhook delivery", err)
		}
	}

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return s.finish(ctx, delivery, ctx.Err())
			case <-time.After(s.backoff(attempt)):
			}
		}

		delivery.Attempts++
		err = s.deliver(ctx, delivery, payload)
		if err == nil {
			return s.finish(ctx, delivery, nil)
		}
		s.logger.WithField("delivery_id", delivery.ID).Warnf("webhook attempt %d failed: %v", delivery.Attempts, err)
	}

	return s.finish(ctx, delivery, err)
}

func (s *Service) finish(ctx context.Context, delivery *models.WebhookDelivery, err error) error {
	now := time.Now()
	delivery.CompletedAt = &now
	if err == nil {
		delivery.Status = models.WebhookDeliveryStatusDelivered
	} else {
		delivery.Status = models.WebhookDeliveryStatusFailed
	}
	metrics.RecordWebhookDelivery(delivery.Event, delivery.Status)

	if s.repo != nil {
		if uerr := s.repo.UpdateWebhookDelivery(context.WithoutCancel(ctx), delivery); uerr != nil {
			s.logger.ErrorWithErr("failed to update webhook delivery", uerr)
		}
	}

	if err != nil {
		return fmt.Errorf("webhook delivery %s failed after %d attempts: %w", delivery.ID, delivery.Attempts, err)
	}
	return nil
}

// deliver attempts to deliver a webhook once
func (s *Service) deliver(ctx context.Context, delivery *models.WebhookDelivery, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Verticut-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", delivery.Event)
	req.Header.Set("X-Webhook-Delivery", delivery.ID)

	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", generateSignature(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	delivery.StatusCode = resp.StatusCode
	delivery.ResponseBody = string(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature header against payload
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(generateSignature(payload, secret)), []byte(signature))
}

// retryDelay is 1s, 2s, 4s ... capped at 30s
func retryDelay(attempt int) time.Duration {
	if attempt > 5 {
		return 30 * time.Second
	}
	return time.Second << (attempt - 1)
}

// NotifyExportSucceeded sends notification when an export finishes
func (s *Service) NotifyExportSucceeded(ctx context.Context, job *models.ExportJob) error {
	return s.Notify(ctx, models.WebhookEventExportSucceeded, job)
}

// NotifyExportFailed sends notification when an export fails
func (s *Service) NotifyExportFailed(ctx context.Context, job *models.ExportJob) error {
	return s.Notify(ctx, models.WebhookEventExportFailed, job)
}
