package booking

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package and by the store and
// client implementations matches exactly one of these through errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUpstream          = errors.New("upstream error")
	ErrPaymentDeclined   = errors.New("payment declined")
)

// Domain-level error values returned by the booking service.
var (
	ErrInvalidBookingID          = fmt.Errorf("%w: invalid booking id", ErrValidation)
	ErrInvalidPropertyID         = fmt.Errorf("%w: invalid property id", ErrValidation)
	ErrInvalidGuestName          = fmt.Errorf("%w: invalid guest name", ErrValidation)
	ErrInvalidGuestEmail         = fmt.Errorf("%w: invalid guest email", ErrValidation)
	ErrInvalidCalendarDate       = fmt.Errorf("%w: invalid calendar date", ErrValidation)
	ErrInvalidStay               = fmt.Errorf("%w: invalid stay", ErrValidation)
	ErrInvalidAmountCents        = fmt.Errorf("%w: invalid amount cents", ErrValidation)
	ErrInvalidCurrency           = fmt.Errorf("%w: invalid currency", ErrValidation)
	ErrInvalidStatus             = fmt.Errorf("%w: invalid status", ErrValidation)
	ErrInvalidStatusHint         = fmt.Errorf("%w: invalid status hint", ErrValidation)
	ErrInvalidChargeDate         = fmt.Errorf("%w: invalid charge date", ErrValidation)
	ErrInvalidReference          = fmt.Errorf("%w: invalid reference", ErrValidation)
	ErrInvalidMetadataJSON       = fmt.Errorf("%w: invalid metadata json", ErrValidation)
	ErrInvalidServiceConfig      = fmt.Errorf("%w: invalid service config", ErrConfiguration)
	ErrMissingPropertyCredential = fmt.Errorf("%w: missing property credential", ErrConfiguration)
	ErrUnknownBooking            = fmt.Errorf("%w: unknown booking", ErrNotFound)
	ErrUnknownProperty           = fmt.Errorf("%w: unknown property", ErrNotFound)
	ErrBookingExists             = fmt.Errorf("%w: booking already exists", ErrConflict)
	ErrStaleBooking              = fmt.Errorf("%w: booking was modified concurrently", ErrConflict)
	ErrExternalReferenceInUse    = fmt.Errorf("%w: external reference already in use", ErrConflict)
	ErrExternalReferenceMismatch = fmt.Errorf("%w: external reference already set", ErrConflict)
	ErrAlreadyCharged            = fmt.Errorf("%w: booking already charged", ErrConflict)
	ErrReconcileInProgress       = fmt.Errorf("%w: reconciliation already running", ErrConflict)
	ErrReconcileLockLost         = fmt.Errorf("%w: reconciliation lock lost", ErrConflict)
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// TransitionError reports a status change the state machine does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (transitionError TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, transitionError.From, transitionError.To)
}

// Is matches ErrInvalidTransition.
func (transitionError TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// UpstreamError is a failed call to the PMS or the payments processor.
// Body holds the raw upstream payload and must not be shown to guests.
type UpstreamError struct {
	Service    string
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func (upstreamError *UpstreamError) Error() string {
	if upstreamError.StatusCode != 0 {
		return fmt.Sprintf("%s %s: upstream status %d: %s", upstreamError.Service, upstreamError.Operation, upstreamError.StatusCode, upstreamError.Body)
	}
	return fmt.Sprintf("%s %s: %v", upstreamError.Service, upstreamError.Operation, upstreamError.Err)
}

func (upstreamError *UpstreamError) Unwrap() error {
	return upstreamError.Err
}

// Is matches ErrUpstream.
func (upstreamError *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// PaymentDeclinedError is a charge the processor refused. It needs manual
// resolution and is never retried automatically.
type PaymentDeclinedError struct {
	Code          string
	DeclineCode   string
	Message       string
	PaymentIntent string
}

func (declinedError *PaymentDeclinedError) Error() string {
	if declinedError.DeclineCode != "" {
		return fmt.Sprintf("%v: %s (%s): %s", ErrPaymentDeclined, declinedError.Code, declinedError.DeclineCode, declinedError.Message)
	}
	return fmt.Sprintf("%v: %s: %s", ErrPaymentDeclined, declinedError.Code, declinedError.Message)
}

// Is matches ErrPaymentDeclined.
func (declinedError *PaymentDeclinedError) Is(target error) bool {
	return target == ErrPaymentDeclined
}
