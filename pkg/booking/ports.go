package booking

import (
	"context"
	"time"
)

// PropertyCredential authenticates calls to the PMS for one property.
type PropertyCredential struct {
	AccountID string
	APIKey    string
	ListingID string
}

// Property is one entry of the static property catalog.
type Property struct {
	ID       PropertyID
	Name     string
	Currency Currency
}

// PropertyDirectory resolves catalog entries and PMS credentials.
// Property returns ErrUnknownProperty; Credential returns
// ErrMissingPropertyCredential for both unknown properties and properties
// without a credential.
type PropertyDirectory interface {
	Property(propertyID PropertyID) (Property, error)
	Credential(propertyID PropertyID) (PropertyCredential, error)
}

// ExternalStatus is a status the PMS accepts on update.
type ExternalStatus string

const (
	ExternalConfirmed ExternalStatus = "confirmed"
	ExternalCancelled ExternalStatus = "cancelled"
)

// ReservationRequest is the stay submitted to the PMS.
type ReservationRequest struct {
	BookingID  BookingID
	Guest      Guest
	Stay       Stay
	TotalPrice AmountCents
	Currency   Currency
}

// ExternalReservation is the PMS view of a reservation. Status is already
// mapped to the local vocabulary (pending, approved or cancelled).
type ExternalReservation struct {
	Reference string
	Status    Status
	RawStatus string
}

// ReservationSystem is the external PMS.
type ReservationSystem interface {
	CreateReservation(ctx context.Context, credential PropertyCredential, request ReservationRequest) (ExternalReservation, error)
	UpdateReservationStatus(ctx context.Context, credential PropertyCredential, reference string, status ExternalStatus) error
	GetReservation(ctx context.Context, credential PropertyCredential, reference string) (ExternalReservation, error)
}

// PaymentIntentStatus is the processor-side state of a payment intent.
type PaymentIntentStatus string

const (
	PaymentIntentSucceeded       PaymentIntentStatus = "succeeded"
	PaymentIntentProcessing      PaymentIntentStatus = "processing"
	PaymentIntentRequiresAction  PaymentIntentStatus = "requires_action"
	PaymentIntentRequiresMethod  PaymentIntentStatus = "requires_payment_method"
	PaymentIntentRequiresConfirm PaymentIntentStatus = "requires_confirmation"
	PaymentIntentCanceled        PaymentIntentStatus = "canceled"
)

// IsCaptured reports whether the processor confirms the funds were captured.
func (status PaymentIntentStatus) IsCaptured() bool {
	return status == PaymentIntentSucceeded
}

// PaymentIntent is a processor payment intent.
type PaymentIntent struct {
	Reference    string
	ClientSecret string
	Status       PaymentIntentStatus
	AmountCents  int64
	Currency     string
}

// SetupIntent authorizes a payment method for a later off-session charge.
type SetupIntent struct {
	Reference    string
	ClientSecret string
	Status       string
}

// PaymentIntentRequest creates an intent the guest's browser confirms.
type PaymentIntentRequest struct {
	CustomerRef string
	Amount      AmountCents
	Currency    Currency
	Metadata    map[string]string
}

// ChargeRequest captures a previously authorized off-session payment.
type ChargeRequest struct {
	CustomerRef      string
	PaymentMethodRef string
	Amount           AmountCents
	Currency         Currency
	Metadata         map[string]string
	IdempotencyKey   string
}

// PaymentProcessor is the external payments provider.
type PaymentProcessor interface {
	CreateCustomer(ctx context.Context, name string, email string) (string, error)
	CreatePaymentIntent(ctx context.Context, request PaymentIntentRequest) (PaymentIntent, error)
	CreateSetupIntent(ctx context.Context, customerRef string, metadata map[string]string) (SetupIntent, error)
	CaptureCharge(ctx context.Context, request ChargeRequest) (PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, reference string) (PaymentIntent, error)
	Refund(ctx context.Context, paymentIntentRef string, idempotencyKey string) error
}

// EventType names a booking lifecycle event.
type EventType string

const (
	EventBookingCreated       EventType = "booking.created"
	EventBookingStatusChanged EventType = "booking.status_changed"
	EventBookingReferenced    EventType = "booking.referenced"
)

// Event is published after a successful state-changing operation.
type Event struct {
	Type           EventType `json:"type"`
	BookingID      string    `json:"bookingId"`
	PropertyID     string    `json:"propertyId"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	Source         string    `json:"source"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// EventPublisher delivers booking events to interested consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// RunLock serializes reconciliation runs. Acquire returns false when another
// holder owns the key.
type RunLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (lease Lease, acquired bool, err error)
}

// Lease is a held RunLock key. Extend fails once the key has expired or passed
// to another holder.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}
