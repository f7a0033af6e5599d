package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome classifies what reconciliation did with one booking.
type Outcome string

const (
	OutcomeMissingUpstreamReference Outcome = "missing_upstream_reference"
	OutcomeInSync                   Outcome = "in_sync"
	OutcomeUpdated                  Outcome = "updated"
	OutcomeManualReview             Outcome = "manual_review"
	OutcomeError                    Outcome = "error"
)

// The lease is renewed every third of its TTL while a run is active.
const (
	defaultReconcileLockTTL = time.Minute
	reconcileLeaseRenewals  = 3
)

// Summary counts the bookings a run examined and corrected.
type Summary struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
}

// Detail is the per-booking line of a report.
type Detail struct {
	BookingID string  `json:"bookingId"`
	Outcome   Outcome `json:"outcome"`
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Report is the result of one reconciliation run.
type Report struct {
	Summary Summary  `json:"summary"`
	Details []Detail `json:"details"`
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithConcurrency bounds how many bookings are checked at once.
func WithConcurrency(limit int) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if limit > 0 {
			reconciler.concurrency = limit
		}
	}
}

// WithRunLock serializes runs through lock. The lease is taken for ttl and
// renewed until the run ends, so ttl only bounds how long a crashed holder
// blocks the next run.
func WithRunLock(lock RunLock, ttl time.Duration) ReconcilerOption {
	return func(reconciler *Reconciler) {
		reconciler.lock = lock
		if ttl > 0 {
			reconciler.lockTTL = ttl
		}
	}
}

// Reconciler cross-checks open bookings against the PMS and the payments
// processor and corrects local state only. It never writes upstream.
type Reconciler struct {
	service      *Service
	reservations ReservationSystem
	payments     PaymentProcessor
	directory    PropertyDirectory
	concurrency  int
	lock         RunLock
	lockTTL      time.Duration
}

// NewReconciler wires a Reconciler.
func NewReconciler(service *Service, reservations ReservationSystem, payments PaymentProcessor, directory PropertyDirectory, options ...ReconcilerOption) (*Reconciler, error) {
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
	reconciler := &Reconciler{
		service:      service,
		reservations: reservations,
		payments:     payments,
		directory:    directory,
		concurrency:  defaultReconcileConcurrency,
		lockTTL:      defaultReconcileLockTTL,
	}
	for _, option := range options {
		if option != nil {
			option(reconciler)
		}
	}
	return reconciler, nil
}

// Run reconciles every pending and approved booking. Upstream failures are
// recorded per booking; any other failure aborts the run and is returned with
// the partial report. A run that loses its lock lease is aborted with
// ErrReconcileLockLost.
func (reconciler *Reconciler) Run(ctx context.Context) (Report, error) {
	runCtx := ctx
	if reconciler.lock != nil {
		lease, acquired, err := reconciler.lock.Acquire(ctx, reconcileLockKey, reconciler.lockTTL)
		if err != nil {
			return Report{Details: []Detail{}}, WrapError(errorOperationService, errorSubjectBooking, errorCodeLookup, err)
		}
		if !acquired {
			return Report{Details: []Detail{}}, ErrReconcileInProgress
		}
		leaseCtx, abort := context.WithCancelCause(ctx)
		stopRenewing := reconciler.renewLease(leaseCtx, abort, lease)
		defer func() {
			stopRenewing()
			abort(nil)
			_ = lease.Release(context.WithoutCancel(ctx))
		}()
		runCtx = leaseCtx
	}

	report, err := reconciler.run(runCtx)
	if cause := context.Cause(runCtx); errors.Is(cause, ErrReconcileLockLost) {
		return report, cause
	}
	return report, err
}

// renewLease extends lease until stop is called or ctx ends. A failed extend
// aborts the run.
func (reconciler *Reconciler) renewLease(ctx context.Context, abort context.CancelCauseFunc, lease Lease) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(reconciler.lockTTL / reconcileLeaseRenewals)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lease.Extend(ctx, reconciler.lockTTL); err != nil {
					abort(fmt.Errorf("%w: %v", ErrReconcileLockLost, err))
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (reconciler *Reconciler) run(ctx context.Context) (Report, error) {
	candidates, err := reconciler.candidates(ctx)
	if err != nil {
		return Report{Details: []Detail{}}, err
	}

	details := make([]Detail, len(candidates))
	evaluated := make([]bool, len(candidates))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(reconciler.concurrency)
	for index, candidate := range candidates {
		group.Go(func() error {
			detail, err := reconciler.reconcileBooking(groupCtx, candidate)
			if err != nil {
				// A partly applied correction still counts when the run aborts.
				if detail.Outcome == OutcomeUpdated {
					details[index] = detail
					evaluated[index] = true
				}
				return err
			}
			details[index] = detail
			evaluated[index] = true
			return nil
		})
	}
	runError := group.Wait()

	report := Report{Details: make([]Detail, 0, len(candidates))}
	for index, detail := range details {
		if !evaluated[index] {
			continue
		}
		report.Summary.Checked++
		if detail.Outcome == OutcomeUpdated {
			report.Summary.Updated++
		}
		report.Details = append(report.Details, detail)
	}
	return report, runError
}

func (reconciler *Reconciler) candidates(ctx context.Context) ([]Booking, error) {
	pending, err := reconciler.service.ListByStatus(ctx, StatusPending)
	if err != nil {
		return nil, err
	}
	approved, err := reconciler.service.ListByStatus(ctx, StatusApproved)
	if err != nil {
		return nil, err
	}
	candidates := append(pending, approved...)
	slices.SortStableFunc(candidates, func(left Booking, right Booking) int {
		if compared := left.CreatedAt.Compare(right.CreatedAt); compared != 0 {
			return compared
		}
		return strings.Compare(left.ID.String(), right.ID.String())
	})
	return candidates, nil
}

func (reconciler *Reconciler) reconcileBooking(ctx context.Context, current Booking) (Detail, error) {
	detail := Detail{BookingID: current.ID.String(), From: current.Status.String()}
	if current.References.PMSBookingRef == "" {
		detail.Outcome = OutcomeMissingUpstreamReference
		return reconciler.record(ctx, current, detail), nil
	}
	credential, err := reconciler.directory.Credential(current.Stay.PropertyID)
	if err != nil {
		return detail, err
	}

	reservation, err := reconciler.reservations.GetReservation(ctx, credential, current.References.PMSBookingRef)
	if err != nil {
		return reconciler.recordFailure(ctx, current, detail, WrapError(errorOperationService, errorSubjectPMS, errorCodeLookup, err))
	}
	captured := false
	if current.IsCharged() {
		intent, err := reconciler.payments.GetPaymentIntent(ctx, current.References.PaymentIntentRef)
		if err != nil {
			return reconciler.recordFailure(ctx, current, detail, WrapError(errorOperationService, errorSubjectPayment, errorCodeLookup, err))
		}
		captured = intent.Status.IsCaptured()
	}

	desired, known := desiredStatus(reservation.Status, captured)
	if !known {
		detail.Outcome = OutcomeManualReview
		detail.Error = fmt.Sprintf("unmapped pms status %q", reservation.RawStatus)
		return reconciler.record(ctx, current, detail), nil
	}
	detail.To = desired.String()
	if desired == current.Status {
		detail.Outcome = OutcomeInSync
		return reconciler.record(ctx, current, detail), nil
	}
	path, reachable := TransitionPath(current.Status, desired)
	if !reachable {
		detail.Outcome = OutcomeManualReview
		return reconciler.record(ctx, current, detail), nil
	}
	reached, err := reconciler.service.advance(ctx, current.ID, path, ReferencePatch{}, sourceReconcile)
	if err != nil {
		recoverable := errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidTransition)
		detail.Error = err.Error()
		if reached.Status != "" {
			// Part of the path was stored; the report has to match the store.
			detail.Outcome = OutcomeUpdated
			detail.To = reached.Status.String()
		} else if recoverable {
			detail.Outcome = OutcomeError
		}
		if !recoverable {
			if detail.Outcome != "" {
				detail = reconciler.record(ctx, current, detail)
			}
			return detail, err
		}
		return reconciler.record(ctx, current, detail), nil
	}
	detail.Outcome = OutcomeUpdated
	return reconciler.record(ctx, current, detail), nil
}

// recordFailure keeps upstream failures local to the booking.
func (reconciler *Reconciler) recordFailure(ctx context.Context, current Booking, detail Detail, err error) (Detail, error) {
	if !errors.Is(err, ErrUpstream) && !errors.Is(err, ErrPaymentDeclined) {
		return detail, err
	}
	detail.Outcome = OutcomeError
	detail.Error = err.Error()
	return reconciler.record(ctx, current, detail), nil
}

func (reconciler *Reconciler) record(ctx context.Context, current Booking, detail Detail) Detail {
	entry := OperationLog{
		Operation:      operationReconcile,
		BookingID:      current.ID,
		PropertyID:     current.Stay.PropertyID,
		PreviousStatus: current.Status,
		Status:         Status(detail.To),
		Source:         sourceReconcile,
		Outcome:        string(detail.Outcome),
	}
	if detail.Error != "" {
		entry.Error = errors.New(detail.Error)
	}
	logOperation(ctx, reconciler.service.logger, entry)
	return detail
}

// desiredStatus derives the local status from the PMS status and whether the
// processor captured the charge.
func desiredStatus(external Status, captured bool) (Status, bool) {
	switch external {
	case StatusCancelled:
		return StatusCancelled, true
	case StatusApproved:
		if captured {
			return StatusPaid, true
		}
		return StatusApproved, true
	case StatusPending:
		return StatusPending, true
	default:
		return "", false
	}
}
