package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// BookingID identifies a booking.
type BookingID struct {
	value string
}

// PropertyID identifies a property in the static catalog.
type PropertyID struct {
	value string
}

// AmountCents is a strictly positive amount in minor currency units.
type AmountCents int64

// Currency is a lowercase ISO 4217 code.
type Currency struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id BookingID) IsZero() bool {
	return id.value == ""
}

// NewPropertyID validates and normalizes a property id.
func NewPropertyID(raw string) (PropertyID, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return PropertyID{}, fmt.Errorf("%w: empty value", ErrInvalidPropertyID)
	}
	return PropertyID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PropertyID) String() string {
	return id.value
}

// NewAmountCents validates an amount and ensures it is strictly positive.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewCurrency validates a three-letter currency code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if len(normalized) != 3 {
		return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	for _, letter := range normalized {
		if letter < 'a' || letter > 'z' {
			return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
		}
	}
	return Currency{value: normalized}, nil
}

// String returns the normalized code.
func (currency Currency) String() string {
	return currency.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Guest is the person the booking is made for.
type Guest struct {
	Name  string
	Email string
}

// NewGuest validates guest identity.
func NewGuest(name string, email string) (Guest, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return Guest{}, fmt.Errorf("%w: empty value", ErrInvalidGuestName)
	}
	trimmedEmail := strings.TrimSpace(email)
	if trimmedEmail == "" {
		return Guest{}, fmt.Errorf("%w: empty value", ErrInvalidGuestEmail)
	}
	address, err := mail.ParseAddress(trimmedEmail)
	if err != nil || address.Address != trimmedEmail {
		return Guest{}, fmt.Errorf("%w: %q", ErrInvalidGuestEmail, email)
	}
	return Guest{Name: trimmedName, Email: strings.ToLower(trimmedEmail)}, nil
}

// CalendarDate is a day without a time of day, held at UTC midnight.
type CalendarDate struct {
	value time.Time
}

// ParseCalendarDate parses an ISO calendar date (YYYY-MM-DD).
func ParseCalendarDate(raw string) (CalendarDate, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CalendarDate{}, fmt.Errorf("%w: empty value", ErrInvalidCalendarDate)
	}
	parsed, err := time.Parse(calendarDateLayout, trimmed)
	if err != nil {
		return CalendarDate{}, fmt.Errorf("%w: %q", ErrInvalidCalendarDate, raw)
	}
	return CalendarDate{value: parsed.UTC()}, nil
}

// CalendarDateOf returns the UTC calendar day containing instant.
func CalendarDateOf(instant time.Time) CalendarDate {
	utc := instant.UTC()
	return CalendarDate{value: time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)}
}

// String formats the date as YYYY-MM-DD; the zero date formats as "".
func (date CalendarDate) String() string {
	if date.value.IsZero() {
		return ""
	}
	return date.value.Format(calendarDateLayout)
}

// Time returns UTC midnight of the date.
func (date CalendarDate) Time() time.Time {
	return date.value
}

// IsZero reports whether the date is unset.
func (date CalendarDate) IsZero() bool {
	return date.value.IsZero()
}

// Before reports whether date is strictly earlier than other.
func (date CalendarDate) Before(other CalendarDate) bool {
	return date.value.Before(other.value)
}

// After reports whether date is strictly later than other.
func (date CalendarDate) After(other CalendarDate) bool {
	return date.value.After(other.value)
}

// Equal reports whether both values name the same day.
func (date CalendarDate) Equal(other CalendarDate) bool {
	return date.value.Equal(other.value)
}

// Stay is a property and a check-in/check-out pair, check-out exclusive.
type Stay struct {
	PropertyID PropertyID
	CheckIn    CalendarDate
	CheckOut   CalendarDate
}

// NewStay validates that check-out falls strictly after check-in.
func NewStay(propertyID PropertyID, checkIn CalendarDate, checkOut CalendarDate) (Stay, error) {
	if propertyID.String() == "" {
		return Stay{}, fmt.Errorf("%w: empty value", ErrInvalidPropertyID)
	}
	if checkIn.IsZero() || checkOut.IsZero() {
		return Stay{}, fmt.Errorf("%w: dates are required", ErrInvalidStay)
	}
	if !checkOut.After(checkIn) {
		return Stay{}, fmt.Errorf("%w: check-out %s must follow check-in %s", ErrInvalidStay, checkOut, checkIn)
	}
	return Stay{PropertyID: propertyID, CheckIn: checkIn, CheckOut: checkOut}, nil
}

// Nights returns the number of nights in the stay.
func (stay Stay) Nights() int {
	return int(stay.CheckOut.Time().Sub(stay.CheckIn.Time()).Hours() / 24)
}

// Status defines the booking lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusPaid:
		return StatusPaid, nil
	case StatusCancelled:
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// String returns the wire value.
func (status Status) String() string {
	return string(status)
}

// ChargeMode tells whether the payment is captured at booking time or later.
type ChargeMode string

const (
	ChargeImmediate ChargeMode = "immediate"
	ChargeDeferred  ChargeMode = "deferred"
)

// ParseChargeMode validates a stored charge mode.
func ParseChargeMode(raw string) (ChargeMode, error) {
	switch ChargeMode(strings.TrimSpace(raw)) {
	case ChargeImmediate:
		return ChargeImmediate, nil
	case ChargeDeferred:
		return ChargeDeferred, nil
	default:
		return "", fmt.Errorf("%w: charge mode %q", ErrInvalidChargeDate, raw)
	}
}

// String returns the wire value.
func (mode ChargeMode) String() string {
	return string(mode)
}

// References are the payments processor and PMS identifiers of a booking.
// Empty strings mean unset.
type References struct {
	CustomerRef      string
	PaymentMethodRef string
	PaymentIntentRef string
	PMSBookingRef    string
}

// ReferencePatch carries optional references to attach to a booking.
type ReferencePatch struct {
	PaymentIntentRef string
	PMSBookingRef    string
}

// IsEmpty reports whether the patch carries nothing.
func (patch ReferencePatch) IsEmpty() bool {
	return strings.TrimSpace(patch.PaymentIntentRef) == "" && strings.TrimSpace(patch.PMSBookingRef) == ""
}

// Booking is the stored booking record.
type Booking struct {
	ID         BookingID
	Stay       Stay
	Guest      Guest
	TotalPrice AmountCents
	Status     Status
	ChargeMode ChargeMode
	ChargeDate CalendarDate
	References References
	Metadata   MetadataJSON
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsCharged reports whether a payment intent is attached.
func (booking Booking) IsCharged() bool {
	return booking.References.PaymentIntentRef != ""
}

// ApplyReferences merges a patch into the booking references. A reference
// that is already set can only be repeated, never replaced.
func (booking Booking) ApplyReferences(patch ReferencePatch) (References, error) {
	references := booking.References
	intentRef := strings.TrimSpace(patch.PaymentIntentRef)
	if intentRef != "" {
		if references.PaymentIntentRef != "" && references.PaymentIntentRef != intentRef {
			return References{}, fmt.Errorf("%w: payment intent %s", ErrExternalReferenceMismatch, references.PaymentIntentRef)
		}
		references.PaymentIntentRef = intentRef
	}
	pmsRef := strings.TrimSpace(patch.PMSBookingRef)
	if pmsRef != "" {
		if references.PMSBookingRef != "" && references.PMSBookingRef != pmsRef {
			return References{}, fmt.Errorf("%w: pms booking %s", ErrExternalReferenceMismatch, references.PMSBookingRef)
		}
		references.PMSBookingRef = pmsRef
	}
	return references, nil
}

// CreateInput is the guest-facing booking submission as received.
type CreateInput struct {
	PropertyID       string
	GuestName        string
	GuestEmail       string
	CheckIn          string
	CheckOut         string
	TotalPriceCents  int64
	StatusHint       string
	CustomerRef      string
	PaymentMethodRef string
	PaymentIntentRef string
	PMSBookingRef    string
	ChargeDate       string
	Metadata         string
}

// NewBooking validates a submission and builds a pending booking.
func NewBooking(id BookingID, input CreateInput, createdAt time.Time) (Booking, error) {
	if id.IsZero() {
		return Booking{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	propertyID, err := NewPropertyID(input.PropertyID)
	if err != nil {
		return Booking{}, err
	}
	guest, err := NewGuest(input.GuestName, input.GuestEmail)
	if err != nil {
		return Booking{}, err
	}
	checkIn, err := ParseCalendarDate(input.CheckIn)
	if err != nil {
		return Booking{}, fmt.Errorf("check-in: %w", err)
	}
	checkOut, err := ParseCalendarDate(input.CheckOut)
	if err != nil {
		return Booking{}, fmt.Errorf("check-out: %w", err)
	}
	stay, err := NewStay(propertyID, checkIn, checkOut)
	if err != nil {
		return Booking{}, err
	}
	totalPrice, err := NewAmountCents(input.TotalPriceCents)
	if err != nil {
		return Booking{}, err
	}
	hint, err := parseStatusHint(input.StatusHint)
	if err != nil {
		return Booking{}, err
	}
	customerRef := strings.TrimSpace(input.CustomerRef)
	if customerRef == "" {
		return Booking{}, fmt.Errorf("%w: customer reference is required", ErrInvalidReference)
	}
	methodRef := strings.TrimSpace(input.PaymentMethodRef)
	if methodRef == "" {
		return Booking{}, fmt.Errorf("%w: payment method reference is required", ErrInvalidReference)
	}
	chargeDate, err := ParseCalendarDate(input.ChargeDate)
	if err != nil {
		return Booking{}, fmt.Errorf("charge date: %w", err)
	}
	createdOn := CalendarDateOf(createdAt)
	chargeMode, err := resolveChargeMode(chargeDate, createdOn, stay.CheckIn)
	if err != nil {
		return Booking{}, err
	}
	intentRef := strings.TrimSpace(input.PaymentIntentRef)
	if hint == StatusPaid {
		if chargeMode != ChargeImmediate {
			return Booking{}, fmt.Errorf("%w: paid bookings are charged on the creation date", ErrInvalidChargeDate)
		}
		if intentRef == "" {
			return Booking{}, fmt.Errorf("%w: paid bookings require a payment intent reference", ErrInvalidReference)
		}
	}
	metadata, err := NewMetadataJSON(input.Metadata)
	if err != nil {
		return Booking{}, err
	}
	createdUTC := createdAt.UTC()
	return Booking{
		ID:         id,
		Stay:       stay,
		Guest:      guest,
		TotalPrice: totalPrice,
		Status:     StatusPending,
		ChargeMode: chargeMode,
		ChargeDate: chargeDate,
		References: References{
			CustomerRef:      customerRef,
			PaymentMethodRef: methodRef,
			PaymentIntentRef: intentRef,
			PMSBookingRef:    strings.TrimSpace(input.PMSBookingRef),
		},
		Metadata:  metadata,
		Version:   1,
		CreatedAt: createdUTC,
		UpdatedAt: createdUTC,
	}, nil
}

// parseStatusHint accepts the two statuses a submission may carry.
func parseStatusHint(raw string) (Status, error) {
	status, err := ParseStatus(raw)
	if err != nil || (status != StatusPending && status != StatusPaid) {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatusHint, raw)
	}
	return status, nil
}

func resolveChargeMode(chargeDate CalendarDate, createdOn CalendarDate, checkIn CalendarDate) (ChargeMode, error) {
	if chargeDate.Equal(createdOn) {
		return ChargeImmediate, nil
	}
	if chargeDate.Before(createdOn) {
		return "", fmt.Errorf("%w: %s is before the creation date %s", ErrInvalidChargeDate, chargeDate, createdOn)
	}
	if !chargeDate.Before(checkIn) {
		return "", fmt.Errorf("%w: %s must be before check-in %s", ErrInvalidChargeDate, chargeDate, checkIn)
	}
	return ChargeDeferred, nil
}

// BookingUpdate is a compare-and-swap write of a booking's mutable fields.
type BookingUpdate struct {
	BookingID       BookingID
	ExpectedVersion int64
	Status          Status
	References      References
	UpdatedAt       time.Time
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	InsertBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	ListBookingsByStatus(ctx context.Context, status Status) ([]Booking, error)
	UpdateBooking(ctx context.Context, update BookingUpdate) (Booking, error)
}
