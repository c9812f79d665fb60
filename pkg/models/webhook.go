package models

import "time"

// WebhookDelivery records one attempt to notify the configured endpoint
type WebhookDelivery struct {
	ID           string     `json:"id"`
	Event        string     `json:"event"`
	Payload      string     `json:"payload"`
	Status       string     `json:"status"`
	StatusCode   int        `json:"status_code"`
	ResponseBody string     `json:"response_body,omitempty"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// WebhookDeliveryStatus constants
const (
	WebhookDeliveryStatusPending   = "pending"
	WebhookDeliveryStatusDelivered = "delivered"
	WebhookDeliveryStatusFailed    = "failed"
)

// WebhookEvent represents the payload sent to webhooks
type WebhookEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook event types
const (
	WebhookEventExportSucceeded = "export.succeeded"
	WebhookEventExportFailed    = "export.failed"
)
