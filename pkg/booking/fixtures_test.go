package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, time.March, 10, 15, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

type stubStore struct {
	mu       sync.Mutex
	bookings map[string]Booking

	insertErr error
	getErr    error
	listErr   error
	updateErr error
	// staleWrites makes the next n UpdateBooking calls lose their race.
	staleWrites int
	// staleAfter makes every UpdateBooking after the first n successful ones
	// lose its race.
	staleAfter int
	updates    int
}

func newStubStore() *stubStore {
	return &stubStore{bookings: make(map[string]Booking)}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) InsertBooking(ctx context.Context, booking Booking) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.insertErr != nil {
		return store.insertErr
	}
	if _, exists := store.bookings[booking.ID.String()]; exists {
		return ErrBookingExists
	}
	store.bookings[booking.ID.String()] = booking
	return nil
}

func (store *stubStore) GetBooking(ctx context.Context, bookingID BookingID) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.getErr != nil {
		return Booking{}, store.getErr
	}
	booking, exists := store.bookings[bookingID.String()]
	if !exists {
		return Booking{}, ErrUnknownBooking
	}
	return booking, nil
}

func (store *stubStore) ListBookingsByStatus(ctx context.Context, status Status) ([]Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.listErr != nil {
		return nil, store.listErr
	}
	matches := make([]Booking, 0)
	for _, booking := range store.bookings {
		if booking.Status == status {
			matches = append(matches, booking)
		}
	}
	sort.Slice(matches, func(left, right int) bool {
		if !matches[left].CreatedAt.Equal(matches[right].CreatedAt) {
			return matches[left].CreatedAt.Before(matches[right].CreatedAt)
		}
		return matches[left].ID.String() < matches[right].ID.String()
	})
	return matches, nil
}

func (store *stubStore) UpdateBooking(ctx context.Context, update BookingUpdate) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.updateErr != nil {
		return Booking{}, store.updateErr
	}
	current, exists := store.bookings[update.BookingID.String()]
	if !exists {
		return Booking{}, ErrUnknownBooking
	}
	if store.staleAfter > 0 && store.updates >= store.staleAfter {
		current.Version++
		store.bookings[current.ID.String()] = current
		return Booking{}, ErrStaleBooking
	}
	if store.staleWrites > 0 {
		store.staleWrites--
		current.Version++
		store.bookings[current.ID.String()] = current
		return Booking{}, ErrStaleBooking
	}
	if current.Version != update.ExpectedVersion {
		return Booking{}, ErrStaleBooking
	}
	if ref := update.References.PMSBookingRef; ref != "" {
		for id, other := range store.bookings {
			if id != current.ID.String() && other.References.PMSBookingRef == ref {
				return Booking{}, ErrExternalReferenceInUse
			}
		}
	}
	current.Status = update.Status
	current.References = update.References
	current.UpdatedAt = update.UpdatedAt
	current.Version++
	store.bookings[current.ID.String()] = current
	store.updates++
	return current, nil
}

func (store *stubStore) put(booking Booking) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.bookings[booking.ID.String()] = booking
}

func (store *stubStore) mustBooking(test *testing.T, bookingID BookingID) Booking {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	booking, exists := store.bookings[bookingID.String()]
	if !exists {
		test.Fatalf("booking %s not stored", bookingID)
	}
	return booking
}

type stubDirectory struct {
	properties  map[string]Property
	credentials map[string]PropertyCredential
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		properties: map[string]Property{
			"echo-villa": {ID: PropertyID{value: "echo-villa"}, Name: "Echo Villa", Currency: Currency{value: "usd"}},
			"bay-loft":   {ID: PropertyID{value: "bay-loft"}, Name: "Bay Loft", Currency: Currency{value: "eur"}},
		},
		credentials: map[string]PropertyCredential{
			"echo-villa": {AccountID: "acct-echo", APIKey: "key-echo", ListingID: "listing-echo"},
		},
	}
}

func (directory *stubDirectory) Property(propertyID PropertyID) (Property, error) {
	property, exists := directory.properties[propertyID.String()]
	if !exists {
		return Property{}, fmt.Errorf("%w: %s", ErrUnknownProperty, propertyID)
	}
	return property, nil
}

func (directory *stubDirectory) Credential(propertyID PropertyID) (PropertyCredential, error) {
	credential, exists := directory.credentials[propertyID.String()]
	if !exists {
		return PropertyCredential{}, fmt.Errorf("%w: %s", ErrMissingPropertyCredential, propertyID)
	}
	return credential, nil
}

type statusPush struct {
	reference string
	status    ExternalStatus
}

type fakeReservations struct {
	mu           sync.Mutex
	nextRef      string
	createErr    error
	updateErr    error
	getErr       map[string]error
	reservations map[string]ExternalReservation
	created      []ReservationRequest
	pushes       []statusPush
	gets         int
}

func newFakeReservations() *fakeReservations {
	return &fakeReservations{
		nextRef:      "pms-new",
		getErr:       make(map[string]error),
		reservations: make(map[string]ExternalReservation),
	}
}

func (reservations *fakeReservations) CreateReservation(ctx context.Context, credential PropertyCredential, request ReservationRequest) (ExternalReservation, error) {
	reservations.mu.Lock()
	defer reservations.mu.Unlock()
	if reservations.createErr != nil {
		return ExternalReservation{}, reservations.createErr
	}
	reservations.created = append(reservations.created, request)
	reservation := ExternalReservation{Reference: reservations.nextRef, Status: StatusApproved, RawStatus: "new"}
	reservations.reservations[reservation.Reference] = reservation
	return reservation, nil
}

func (reservations *fakeReservations) UpdateReservationStatus(ctx context.Context, credential PropertyCredential, reference string, status ExternalStatus) error {
	reservations.mu.Lock()
	defer reservations.mu.Unlock()
	if reservations.updateErr != nil {
		return reservations.updateErr
	}
	reservations.pushes = append(reservations.pushes, statusPush{reference: reference, status: status})
	return nil
}

func (reservations *fakeReservations) GetReservation(ctx context.Context, credential PropertyCredential, reference string) (ExternalReservation, error) {
	reservations.mu.Lock()
	defer reservations.mu.Unlock()
	reservations.gets++
	if err := reservations.getErr[reference]; err != nil {
		return ExternalReservation{}, err
	}
	reservation, exists := reservations.reservations[reference]
	if !exists {
		return ExternalReservation{}, &UpstreamError{Service: "pms", Operation: "get reservation", StatusCode: 404, Body: "not found"}
	}
	return reservation, nil
}

func (reservations *fakeReservations) setStatus(reference string, status Status) {
	reservations.mu.Lock()
	defer reservations.mu.Unlock()
	reservations.reservations[reference] = ExternalReservation{Reference: reference, Status: status, RawStatus: status.String()}
}

type fakePayments struct {
	mu          sync.Mutex
	intents     map[string]PaymentIntent
	captureErr  error
	captureErrs map[string]error
	refundErr   error
	getErr      error
	captures    []ChargeRequest
	refunds     []string
	customers   int
	setups      int
	created     []PaymentIntentRequest
}

func newFakePayments() *fakePayments {
	return &fakePayments{intents: make(map[string]PaymentIntent), captureErrs: make(map[string]error)}
}

func (payments *fakePayments) CreateCustomer(ctx context.Context, name string, email string) (string, error) {
	payments.mu.Lock()
	defer payments.mu.Unlock()
	payments.customers++
	return fmt.Sprintf("cus_%d", payments.customers), nil
}

func (payments *fakePayments) CreatePaymentIntent(ctx context.Context, request PaymentIntentRequest) (PaymentIntent, error) {
	payments.mu.Lock()
	defer payments.mu.Unlock()
	payments.created = append(payments.created, request)
	intent := PaymentIntent{Reference: "pi_prepared", ClientSecret: "pi_prepared_secret", Status: PaymentIntentRequiresConfirm, AmountCents: request.Amount.Int64(), Currency: request.Currency.String()}
	payments.intents[intent.Reference] = intent
	return intent, nil
}

func (payments *fakePayments) CreateSetupIntent(ctx context.Context, customerRef string, metadata map[string]string) (SetupIntent, error) {
	payments.mu.Lock()
	defer payments.mu.Unlock()
	payments.setups++
	return SetupIntent{Reference: "seti_prepared", ClientSecret: "seti_prepared_secret", Status: "requires_payment_method"}, nil
}

func (payments *fakePayments) CaptureCharge(ctx context.Context, request ChargeRequest) (PaymentIntent, error) {
	payments.mu.Lock()
	defer payments.mu.Unlock()
	payments.captures = append(payments.captures, request)
	if payments.captureErr != nil {
		return PaymentIntent{}, payments.captureErr
	}
	if err := payments.captureErrs[request.IdempotencyKey]; err != nil {
		return PaymentIntent{}, err
	}
	reference := "pi_" + strings.TrimPrefix(request.IdempotencyKey, chargeIdempotencyPrefix)
	intent := PaymentIntent{Reference: reference, Status: PaymentIntentSucceeded, AmountCents: request.Amount.Int64(), Currency: request.Currency.String()}
	payments.intents[reference] = intent
	return intent, nil
}

func (payments *fakePayments) GetPaymentIntent(ctx context.Context, reference string) (PaymentIntent, error) {
	payments.mu.Lock()
	defer payments.mu.Unlock()
	if payments.getErr != nil {
		return PaymentIntent{}, payments.getErr
	}
	intent, exists := payments.intents[reference]
	if !exists {
		return PaymentIntent{}, &UpstreamError{Service: "payments", Operation: "get payment intent", StatusCode: 404, Body: "no such intent"}
	}
	return intent, nil
}

func (payments *fakePayments) Refund(ctx context.Context, paymentIntentRef string, idempotencyKey string) error {
	payments.mu.Lock()
	defer payments.mu.Unlock()
	if payments.refundErr != nil {
		return payments.refundErr
	}
	payments.refunds = append(payments.refunds, paymentIntentRef)
	return nil
}

func (payments *fakePayments) setIntent(reference string, status PaymentIntentStatus) {
	payments.mu.Lock()
	defer payments.mu.Unlock()
	payments.intents[reference] = PaymentIntent{Reference: reference, Status: status}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recordingLogger) LogOperation(ctx context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recordingLogger) operations(operation string) []OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	matches := make([]OperationLog, 0)
	for _, entry := range logger.entries {
		if entry.Operation == operation {
			matches = append(matches, entry)
		}
	}
	return matches
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (publisher *recordingPublisher) Publish(ctx context.Context, event Event) error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if publisher.err != nil {
		return publisher.err
	}
	publisher.events = append(publisher.events, event)
	return nil
}

func sequentialIDs(prefix string) func() string {
	var (
		mu      sync.Mutex
		counter int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return fmt.Sprintf("%s-%d", prefix, counter)
	}
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustBookingID(test *testing.T, raw string) BookingID {
	test.Helper()
	bookingID, err := NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	return bookingID
}

func mustCalendarDate(test *testing.T, raw string) CalendarDate {
	test.Helper()
	date, err := ParseCalendarDate(raw)
	if err != nil {
		test.Fatalf("calendar date: %v", err)
	}
	return date
}

func validCreateInput() CreateInput {
	return CreateInput{
		PropertyID:       "echo-villa",
		GuestName:        "Ada Guest",
		GuestEmail:       "ada@example.com",
		CheckIn:          "2025-04-01",
		CheckOut:         "2025-04-05",
		TotalPriceCents:  84000,
		StatusHint:       "pending",
		CustomerRef:      "cus_ada",
		PaymentMethodRef: "pm_ada",
		ChargeDate:       "2025-03-25",
		Metadata:         `{"source":"web"}`,
	}
}

// seedBooking stores a booking with the given status and references, created
// offset minutes after fixedNow.
func seedBooking(test *testing.T, store *stubStore, id string, status Status, references References, offset int) Booking {
	test.Helper()
	input := validCreateInput()
	input.CustomerRef = "cus_" + id
	input.PaymentMethodRef = "pm_" + id
	booking, err := NewBooking(mustBookingID(test, id), input, fixedNow)
	if err != nil {
		test.Fatalf("new booking: %v", err)
	}
	booking.Status = status
	if references.CustomerRef != "" {
		booking.References.CustomerRef = references.CustomerRef
	}
	if references.PaymentMethodRef != "" {
		booking.References.PaymentMethodRef = references.PaymentMethodRef
	}
	booking.References.PaymentIntentRef = references.PaymentIntentRef
	booking.References.PMSBookingRef = references.PMSBookingRef
	booking.CreatedAt = fixedNow.Add(time.Duration(offset) * time.Minute)
	booking.UpdatedAt = booking.CreatedAt
	store.put(booking)
	return booking
}
