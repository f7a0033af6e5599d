package booking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	metadataKeyBookingID  = "booking_id"
	metadataKeyPropertyID = "property_id"
	metadataKeyCheckIn    = "check_in"
	metadataKeyCheckOut   = "check_out"
)

// Workflow runs the admin- and guest-triggered operations that write to the
// PMS and the payments processor before moving local state.
type Workflow struct {
	service      *Service
	reservations ReservationSystem
	payments     PaymentProcessor
	directory    PropertyDirectory
}

// NewWorkflow wires a Workflow.
func NewWorkflow(service *Service, reservations ReservationSystem, payments PaymentProcessor, directory PropertyDirectory) (*Workflow, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: service dependency is nil", ErrInvalidServiceConfig)
	}
	if reservations == nil {
		return nil, fmt.Errorf("%w: reservation system dependency is nil", ErrInvalidServiceConfig)
	}
	if payments == nil {
		return nil, fmt.Errorf("%w: payment processor dependency is nil", ErrInvalidServiceConfig)
	}
	if directory == nil {
		return nil, fmt.Errorf("%w: property directory dependency is nil", ErrInvalidServiceConfig)
	}
	return &Workflow{service: service, reservations: reservations, payments: payments, directory: directory}, nil
}

// PrepareInput is the guest's pre-booking payment setup request.
type PrepareInput struct {
	PropertyID      string
	GuestName       string
	GuestEmail      string
	CheckIn         string
	CheckOut        string
	TotalPriceCents int64
	ChargeDate      string
}

// PreparedPayment carries the processor references the guest's browser needs
// to confirm a payment intent or a setup intent.
type PreparedPayment struct {
	ChargeMode       ChargeMode
	CustomerRef      string
	PaymentIntentRef string
	SetupIntentRef   string
	ClientSecret     string
	Currency         Currency
}

// PreparePayment creates the processor customer and the intent matching the
// charge mode implied by the charge date.
func (workflow *Workflow) PreparePayment(ctx context.Context, input PrepareInput) (PreparedPayment, error) {
	propertyID, err := NewPropertyID(input.PropertyID)
	if err != nil {
		return PreparedPayment{}, err
	}
	guest, err := NewGuest(input.GuestName, input.GuestEmail)
	if err != nil {
		return PreparedPayment{}, err
	}
	checkIn, err := ParseCalendarDate(input.CheckIn)
	if err != nil {
		return PreparedPayment{}, fmt.Errorf("check-in: %w", err)
	}
	checkOut, err := ParseCalendarDate(input.CheckOut)
	if err != nil {
		return PreparedPayment{}, fmt.Errorf("check-out: %w", err)
	}
	stay, err := NewStay(propertyID, checkIn, checkOut)
	if err != nil {
		return PreparedPayment{}, err
	}
	amount, err := NewAmountCents(input.TotalPriceCents)
	if err != nil {
		return PreparedPayment{}, err
	}
	chargeDate, err := ParseCalendarDate(input.ChargeDate)
	if err != nil {
		return PreparedPayment{}, fmt.Errorf("charge date: %w", err)
	}
	mode, err := resolveChargeMode(chargeDate, workflow.service.Today(), stay.CheckIn)
	if err != nil {
		return PreparedPayment{}, err
	}
	property, err := workflow.directory.Property(propertyID)
	if err != nil {
		return PreparedPayment{}, err
	}

	customerRef, err := workflow.payments.CreateCustomer(ctx, guest.Name, guest.Email)
	if err != nil {
		return PreparedPayment{}, WrapError(errorOperationWorkflow, errorSubjectPayment, errorCodeReference, err)
	}
	metadata := map[string]string{
		metadataKeyPropertyID: propertyID.String(),
		metadataKeyCheckIn:    stay.CheckIn.String(),
		metadataKeyCheckOut:   stay.CheckOut.String(),
	}
	prepared := PreparedPayment{ChargeMode: mode, CustomerRef: customerRef, Currency: property.Currency}
	if mode == ChargeImmediate {
		intent, err := workflow.payments.CreatePaymentIntent(ctx, PaymentIntentRequest{
			CustomerRef: customerRef,
			Amount:      amount,
			Currency:    property.Currency,
			Metadata:    metadata,
		})
		if err != nil {
			return PreparedPayment{}, WrapError(errorOperationWorkflow, errorSubjectPayment, errorCodeReference, err)
		}
		prepared.PaymentIntentRef = intent.Reference
		prepared.ClientSecret = intent.ClientSecret
		return prepared, nil
	}
	setupIntent, err := workflow.payments.CreateSetupIntent(ctx, customerRef, metadata)
	if err != nil {
		return PreparedPayment{}, WrapError(errorOperationWorkflow, errorSubjectPayment, errorCodeReference, err)
	}
	prepared.SetupIntentRef = setupIntent.Reference
	prepared.ClientSecret = setupIntent.ClientSecret
	return prepared, nil
}

// Approve confirms a pending booking with the PMS and moves it to approved,
// or to paid when the processor already captured its charge.
func (workflow *Workflow) Approve(ctx context.Context, bookingID BookingID) (Booking, error) {
	current, err := workflow.service.Get(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if current.Status != StatusPending {
		return Booking{}, TransitionError{From: current.Status, To: StatusApproved}
	}
	credential, err := workflow.directory.Credential(current.Stay.PropertyID)
	if err != nil {
		return Booking{}, err
	}
	property, err := workflow.directory.Property(current.Stay.PropertyID)
	if err != nil {
		return Booking{}, err
	}

	if current.References.PMSBookingRef == "" {
		reservation, err := workflow.reservations.CreateReservation(ctx, credential, ReservationRequest{
			BookingID:  current.ID,
			Guest:      current.Guest,
			Stay:       current.Stay,
			TotalPrice: current.TotalPrice,
			Currency:   property.Currency,
		})
		if err != nil {
			return Booking{}, workflow.logFailure(ctx, operationApprove, current, WrapError(errorOperationWorkflow, errorSubjectPMS, errorCodePush, err))
		}
		current, err = workflow.service.attachReferences(ctx, current.ID, ReferencePatch{PMSBookingRef: reservation.Reference}, sourceWorkflow)
		if err != nil {
			return Booking{}, err
		}
	} else if err := workflow.reservations.UpdateReservationStatus(ctx, credential, current.References.PMSBookingRef, ExternalConfirmed); err != nil {
		return Booking{}, workflow.logFailure(ctx, operationApprove, current, WrapError(errorOperationWorkflow, errorSubjectPMS, errorCodePush, err))
	}

	path := []Status{StatusApproved}
	if current.IsCharged() {
		intent, err := workflow.payments.GetPaymentIntent(ctx, current.References.PaymentIntentRef)
		if err != nil {
			return Booking{}, workflow.logFailure(ctx, operationApprove, current, WrapError(errorOperationWorkflow, errorSubjectPayment, errorCodeLookup, err))
		}
		if intent.Status.IsCaptured() {
			path = append(path, StatusPaid)
		}
	}
	return workflow.service.advance(ctx, current.ID, path, ReferencePatch{}, sourceWorkflow)
}

// Charge captures the booking total off-session. An approved booking moves to
// paid; a pending booking keeps its status and records the payment intent.
func (workflow *Workflow) Charge(ctx context.Context, bookingID BookingID) (Booking, error) {
	current, err := workflow.service.Get(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if current.Status != StatusPending && current.Status != StatusApproved {
		return Booking{}, TransitionError{From: current.Status, To: StatusPaid}
	}
	if current.IsCharged() {
		return Booking{}, fmt.Errorf("%w: %s", ErrAlreadyCharged, current.References.PaymentIntentRef)
	}
	property, err := workflow.directory.Property(current.Stay.PropertyID)
	if err != nil {
		return Booking{}, err
	}

	intent, err := workflow.payments.CaptureCharge(ctx, ChargeRequest{
		CustomerRef:      current.References.CustomerRef,
		PaymentMethodRef: current.References.PaymentMethodRef,
		Amount:           current.TotalPrice,
		Currency:         property.Currency,
		Metadata: map[string]string{
			metadataKeyBookingID:  current.ID.String(),
			metadataKeyPropertyID: current.Stay.PropertyID.String(),
		},
		IdempotencyKey: chargeIdempotencyPrefix + current.ID.String(),
	})
	if err != nil {
		return Booking{}, workflow.logFailure(ctx, operationCharge, current, WrapError(errorOperationWorkflow, errorSubjectPayment, errorCodeCapture, err))
	}
	logOperation(ctx, workflow.service.logger, OperationLog{
		Operation:  operationCharge,
		BookingID:  current.ID,
		PropertyID: current.Stay.PropertyID,
		Status:     current.Status,
		Amount:     current.TotalPrice,
		Source:     sourceWorkflow,
	})

	patch := ReferencePatch{PaymentIntentRef: intent.Reference}
	if current.Status == StatusApproved {
		return workflow.service.transition(ctx, current.ID, StatusPaid, patch, sourceWorkflow)
	}
	return workflow.service.attachReferences(ctx, current.ID, patch, sourceWorkflow)
}

// Cancel releases the PMS reservation, refunds any captured charge and moves
// the booking to cancelled.
func (workflow *Workflow) Cancel(ctx context.Context, bookingID BookingID) (Booking, error) {
	current, err := workflow.service.Get(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if err := ValidateTransition(current.Status, StatusCancelled); err != nil {
		return Booking{}, err
	}

	if current.References.PMSBookingRef != "" {
		credential, err := workflow.directory.Credential(current.Stay.PropertyID)
		if err != nil {
			return Booking{}, err
		}
		if err := workflow.reservations.UpdateReservationStatus(ctx, credential, current.References.PMSBookingRef, ExternalCancelled); err != nil {
			return Booking{}, workflow.logFailure(ctx, operationCancel, current, WrapError(errorOperationWorkflow, errorSubjectPMS, errorCodePush, err))
		}
	}
	// A pending booking can hold captured funds too: a guest-confirmed intent
	// or a charge taken before approval.
	if current.IsCharged() {
		intent, err := workflow.payments.GetPaymentIntent(ctx, current.References.PaymentIntentRef)
		if err != nil {
			return Booking{}, workflow.logFailure(ctx, operationCancel, current, WrapError(errorOperationWorkflow, errorSubjectPayment, errorCodeLookup, err))
		}
		if intent.Status.IsCaptured() {
			if err := workflow.payments.Refund(ctx, current.References.PaymentIntentRef, refundIdempotencyPrefix+current.ID.String()); err != nil {
				return Booking{}, workflow.logFailure(ctx, operationCancel, current, WrapError(errorOperationWorkflow, errorSubjectPayment, errorCodeRefund, err))
			}
		}
	}
	return workflow.service.transition(ctx, current.ID, StatusCancelled, ReferencePatch{}, sourceWorkflow)
}

// DueCharges lists approved, uncharged bookings whose charge date is on or
// before the given day.
func (workflow *Workflow) DueCharges(ctx context.Context, on CalendarDate) ([]Booking, error) {
	approved, err := workflow.service.ListByStatus(ctx, StatusApproved)
	if err != nil {
		return nil, err
	}
	due := make([]Booking, 0, len(approved))
	for _, candidate := range approved {
		if candidate.IsCharged() || candidate.ChargeDate.After(on) {
			continue
		}
		due = append(due, candidate)
	}
	return due, nil
}

// ChargeResult is the outcome of one due charge.
type ChargeResult struct {
	BookingID BookingID
	Status    Status
	Err       error
}

// ChargeDue charges every due booking one at a time. Declines and upstream
// failures are recorded and the loop continues; other errors stop it.
func (workflow *Workflow) ChargeDue(ctx context.Context, on CalendarDate) ([]ChargeResult, error) {
	due, err := workflow.DueCharges(ctx, on)
	if err != nil {
		return nil, err
	}
	results := make([]ChargeResult, 0, len(due))
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		charged, err := workflow.Charge(ctx, candidate.ID)
		if err != nil {
			if errors.Is(err, ErrPaymentDeclined) || errors.Is(err, ErrUpstream) {
				results = append(results, ChargeResult{BookingID: candidate.ID, Status: candidate.Status, Err: err})
				continue
			}
			return results, err
		}
		results = append(results, ChargeResult{BookingID: charged.ID, Status: charged.Status})
	}
	return results, nil
}

func (workflow *Workflow) logFailure(ctx context.Context, operation string, current Booking, err error) error {
	logOperation(ctx, workflow.service.logger, OperationLog{
		Operation:  operation,
		BookingID:  current.ID,
		PropertyID: current.Stay.PropertyID,
		Status:     current.Status,
		Amount:     current.TotalPrice,
		Source:     sourceWorkflow,
		Error:      err,
	})
	return err
}

// Now returns the workflow clock.
func (workflow *Workflow) Now() time.Time {
	return workflow.service.nowFn()
}
