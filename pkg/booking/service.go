package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	sourceGuest     = "guest"
	sourceAdmin     = "admin"
	sourceWorkflow  = "workflow"
	sourceReconcile = "reconcile"

	operationPublishEvent = "publish_event"
)

// Service contains the booking lifecycle logic over a Store.
type Service struct {
	store     Store
	nowFn     func() time.Time
	newID     func() string
	logger    OperationLogger
	publisher EventPublisher
	directory PropertyDirectory
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Today returns the service clock's UTC calendar date.
func (service *Service) Today() CalendarDate {
	return CalendarDateOf(service.nowFn())
}

// Create validates a submission and stores it as a pending booking.
func (service *Service) Create(ctx context.Context, input CreateInput) (Booking, error) {
	booking, operationError := service.create(ctx, input)
	logOperation(ctx, service.logger, OperationLog{
		Operation:  operationCreate,
		BookingID:  booking.ID,
		PropertyID: booking.Stay.PropertyID,
		Status:     booking.Status,
		Amount:     booking.TotalPrice,
		Source:     sourceGuest,
		Error:      operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	service.publish(ctx, Event{
		Type:       EventBookingCreated,
		BookingID:  booking.ID.String(),
		PropertyID: booking.Stay.PropertyID.String(),
		Status:     booking.Status.String(),
		Source:     sourceGuest,
		OccurredAt: booking.CreatedAt,
	})
	return booking, nil
}

func (service *Service) create(ctx context.Context, input CreateInput) (Booking, error) {
	bookingID, err := NewBookingID(service.newID())
	if err != nil {
		return Booking{}, err
	}
	booking, err := NewBooking(bookingID, input, service.nowFn())
	if err != nil {
		return Booking{}, err
	}
	if service.directory != nil {
		if _, err := service.directory.Property(booking.Stay.PropertyID); err != nil {
			return Booking{}, err
		}
	}
	if err := service.store.InsertBooking(ctx, booking); err != nil {
		return Booking{}, err
	}
	return booking, nil
}

// Get returns one booking.
func (service *Service) Get(ctx context.Context, bookingID BookingID) (Booking, error) {
	return service.store.GetBooking(ctx, bookingID)
}

// ListByStatus returns bookings in status ordered by creation time ascending.
func (service *Service) ListByStatus(ctx context.Context, status Status) ([]Booking, error) {
	if _, err := ParseStatus(status.String()); err != nil {
		return nil, err
	}
	return service.store.ListBookingsByStatus(ctx, status)
}

// UpdateStatus moves a booking to status and attaches the optional references.
func (service *Service) UpdateStatus(ctx context.Context, bookingID BookingID, status Status, patch ReferencePatch) (Booking, error) {
	if _, err := ParseStatus(status.String()); err != nil {
		return Booking{}, err
	}
	return service.transition(ctx, bookingID, status, patch, sourceAdmin)
}

// AttachReferences records references without changing the booking status.
func (service *Service) AttachReferences(ctx context.Context, bookingID BookingID, patch ReferencePatch) (Booking, error) {
	return service.attachReferences(ctx, bookingID, patch, sourceAdmin)
}

func (service *Service) transition(ctx context.Context, bookingID BookingID, status Status, patch ReferencePatch, source string) (Booking, error) {
	var previous Status
	updated, operationError := service.writeWithRetry(ctx, bookingID, func(current Booking, retried bool) (BookingUpdate, bool, error) {
		previous = current.Status
		if retried && current.Status == status {
			return BookingUpdate{}, false, nil
		}
		if err := ValidateTransition(current.Status, status); err != nil {
			return BookingUpdate{}, false, err
		}
		references, err := current.ApplyReferences(patch)
		if err != nil {
			return BookingUpdate{}, false, err
		}
		return BookingUpdate{
			BookingID:       current.ID,
			ExpectedVersion: current.Version,
			Status:          status,
			References:      references,
			UpdatedAt:       service.nowFn().UTC(),
		}, true, nil
	})
	logOperation(ctx, service.logger, OperationLog{
		Operation:      operationUpdateStatus,
		BookingID:      bookingID,
		PropertyID:     updated.Stay.PropertyID,
		PreviousStatus: previous,
		Status:         status,
		Amount:         updated.TotalPrice,
		Source:         source,
		Error:          operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	if previous != updated.Status {
		service.publish(ctx, Event{
			Type:           EventBookingStatusChanged,
			BookingID:      updated.ID.String(),
			PropertyID:     updated.Stay.PropertyID.String(),
			Status:         updated.Status.String(),
			PreviousStatus: previous.String(),
			Source:         source,
			OccurredAt:     updated.UpdatedAt,
		})
	}
	return updated, nil
}

// advance walks path one transition at a time. The patch is attached with the
// first step. When a step fails it returns the last stored booking, zero if
// nothing was written, along with the error.
func (service *Service) advance(ctx context.Context, bookingID BookingID, path []Status, patch ReferencePatch, source string) (Booking, error) {
	var current Booking
	if len(path) == 0 {
		return service.attachReferences(ctx, bookingID, patch, source)
	}
	for index, status := range path {
		stepPatch := ReferencePatch{}
		if index == 0 {
			stepPatch = patch
		}
		next, err := service.transition(ctx, bookingID, status, stepPatch, source)
		if err != nil {
			return current, err
		}
		current = next
	}
	return current, nil
}

func (service *Service) attachReferences(ctx context.Context, bookingID BookingID, patch ReferencePatch, source string) (Booking, error) {
	changed := false
	updated, operationError := service.writeWithRetry(ctx, bookingID, func(current Booking, retried bool) (BookingUpdate, bool, error) {
		references, err := current.ApplyReferences(patch)
		if err != nil {
			return BookingUpdate{}, false, err
		}
		if references == current.References {
			return BookingUpdate{}, false, nil
		}
		changed = true
		return BookingUpdate{
			BookingID:       current.ID,
			ExpectedVersion: current.Version,
			Status:          current.Status,
			References:      references,
			UpdatedAt:       service.nowFn().UTC(),
		}, true, nil
	})
	logOperation(ctx, service.logger, OperationLog{
		Operation:  operationAttachReferences,
		BookingID:  bookingID,
		PropertyID: updated.Stay.PropertyID,
		Status:     updated.Status,
		Source:     source,
		Error:      operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	if changed {
		service.publish(ctx, Event{
			Type:       EventBookingReferenced,
			BookingID:  updated.ID.String(),
			PropertyID: updated.Stay.PropertyID.String(),
			Status:     updated.Status.String(),
			Source:     source,
			OccurredAt: updated.UpdatedAt,
		})
	}
	return updated, nil
}

// writeWithRetry reads the booking, lets plan build a compare-and-swap update
// and writes it. A lost race is re-read and planned once more.
func (service *Service) writeWithRetry(ctx context.Context, bookingID BookingID, plan func(current Booking, retried bool) (BookingUpdate, bool, error)) (Booking, error) {
	var lastError error
	for attempt := 0; attempt < 2; attempt++ {
		current, err := service.store.GetBooking(ctx, bookingID)
		if err != nil {
			return Booking{}, err
		}
		update, write, err := plan(current, attempt > 0)
		if err != nil {
			return current, err
		}
		if !write {
			return current, nil
		}
		updated, err := service.store.UpdateBooking(ctx, update)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ErrStaleBooking) {
			return current, err
		}
		lastError = err
	}
	return Booking{}, lastError
}

func (service *Service) publish(ctx context.Context, event Event) {
	if service.publisher == nil {
		return
	}
	if err := service.publisher.Publish(ctx, event); err != nil {
		bookingID, _ := NewBookingID(event.BookingID)
		logOperation(ctx, service.logger, OperationLog{
			Operation: operationPublishEvent,
			BookingID: bookingID,
			Status:    Status(event.Status),
			Source:    event.Source,
			Error:     err,
		})
	}
}
