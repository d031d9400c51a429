// Package events defines the CloudEvents this service publishes and the
// consumers it runs.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Source is the CloudEvent source of every event this service emits.
const Source = "service-booking"

// Topics.
const (
	TopicBookingEvents = "booking.events"
	TopicPaymentEvents = "payment.events"
	TopicMarkupEvents  = "markup.events"
)

// Event types.
const (
	MarkupRulesChanged = "markup.rules_changed"

	BookingCreated   = "booking.created"
	BookingConfirmed = "booking.confirmed"
	BookingCancelled = "booking.cancelled"

	PaymentSucceeded = "payment.succeeded"
	PaymentFailed    = "payment.failed"
	PaymentRefunded  = "payment.refunded"
)

// RulesChangedEvent tells every instance to drop its cached active rule set.
type RulesChangedEvent struct {
	RuleID     uuid.UUID `json:"rule_id"`
	Action     string    `json:"action"`
	InstanceID string    `json:"instance_id"`
	ChangedAt  time.Time `json:"changed_at"`
}

// BookingCreatedEvent is published once a booking is stored.
type BookingCreatedEvent struct {
	BookingID  uuid.UUID  `json:"booking_id"`
	Reference  string     `json:"reference"`
	Provider   string     `json:"provider"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Guest      bool       `json:"guest"`
	TotalPrice string     `json:"total_price"`
	Currency   string     `json:"currency"`
	CheckIn    string     `json:"check_in"`
	CheckOut   string     `json:"check_out"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// BookingConfirmedEvent is published when payment confirms a booking.
type BookingConfirmedEvent struct {
	BookingID     uuid.UUID `json:"booking_id"`
	Reference     string    `json:"reference"`
	TransactionID string    `json:"transaction_id"`
	PaidAmount    string    `json:"paid_amount"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// BookingCancelledEvent is published when a booking is cancelled.
type BookingCancelledEvent struct {
	BookingID    uuid.UUID `json:"booking_id"`
	Reference    string    `json:"reference"`
	CancelledBy  string    `json:"cancelled_by"`
	Reason       string    `json:"reason,omitempty"`
	RefundAmount string    `json:"refund_amount,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// PaymentEvent is published for every recorded payment or refund outcome.
type PaymentEvent struct {
	TransactionID        string    `json:"transaction_id"`
	BookingID            uuid.UUID `json:"booking_id"`
	BookingReference     string    `json:"booking_reference"`
	Type                 string    `json:"type"`
	Status               string    `json:"status"`
	Amount               string    `json:"amount"`
	Currency             string    `json:"currency"`
	GatewayTransactionID string    `json:"gateway_transaction_id,omitempty"`
	ResponseCode         string    `json:"response_code,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
}
