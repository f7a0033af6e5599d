package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintBookingPrimary   = "bookings_pkey"
	constraintPMSBookingRef    = "uniq_bookings_pms_booking_ref"
	pgUniqueViolationCode      = "23505"
	errorOperationStore        = "store"
	errorSubjectBooking        = "booking"
	errorSubjectSchema         = "schema"
	errorSubjectTransaction    = "transaction"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeDuplicate         = "duplicate"
	errorCodeEnsure            = "ensure"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeReferenceConflict = "reference_conflict"
	errorCodeUpdate            = "update"

	sqlEnsureSchema = `
		create table if not exists bookings (
			booking_id text primary key,
			property_id text not null,
			guest_name text not null,
			guest_email text not null,
			check_in date not null,
			check_out date not null,
			total_price_cents bigint not null check (total_price_cents > 0),
			status text not null,
			charge_mode text not null,
			charge_date date not null,
			customer_ref text not null,
			payment_method_ref text not null,
			payment_intent_ref text,
			pms_booking_ref text,
			metadata jsonb not null default '{}'::jsonb,
			version bigint not null default 1,
			created_at timestamptz not null,
			updated_at timestamptz not null
		);
		create unique index if not exists uniq_bookings_pms_booking_ref on bookings(pms_booking_ref);
		create index if not exists idx_bookings_status_created on bookings(status, created_at, booking_id);
	`

	bookingColumns = `
		booking_id, property_id, guest_name, guest_email, check_in, check_out,
		total_price_cents, status, charge_mode, charge_date, customer_ref,
		payment_method_ref, coalesce(payment_intent_ref,''), coalesce(pms_booking_ref,''),
		coalesce(metadata::text,'{}'), version, created_at, updated_at
	`

	sqlInsertBooking = `
		insert into bookings(
			booking_id, property_id, guest_name, guest_email, check_in, check_out,
			total_price_cents, status, charge_mode, charge_date, customer_ref,
			payment_method_ref, payment_intent_ref, pms_booking_ref, metadata,
			version, created_at, updated_at
		)
		values(
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			nullif($13,''), nullif($14,''),
			coalesce(nullif($15,''),'{}')::jsonb,
			$16, $17, $18
		)
	`

	sqlSelectBooking = `select ` + bookingColumns + ` from bookings where booking_id = $1`

	sqlListBookingsByStatus = `select ` + bookingColumns + ` from bookings where status = $1 order by created_at asc, booking_id asc`

	sqlUpdateBooking = `
		update bookings
		set status = $3,
			payment_intent_ref = nullif($4,''),
			pms_booking_ref = nullif($5,''),
			version = version + 1,
			updated_at = $6
		where booking_id = $1 and version = $2
		returning ` + bookingColumns

	sqlBookingExists = `select exists(select 1 from bookings where booking_id = $1)`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements booking.Store using a pgx connection pool (autocommit) or,
// inside WithTx, an active transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// EnsureSchema creates the bookings table and its indexes when missing.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.db.Exec(ctx, sqlEnsureSchema); err != nil {
		return booking.WrapError(errorOperationStore, errorSubjectSchema, errorCodeEnsure, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return booking.WrapError(errorOperationStore, errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return booking.WrapError(errorOperationStore, errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) InsertBooking(ctx context.Context, record booking.Booking) error {
	createdAt := record.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := record.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err := store.db.Exec(ctx, sqlInsertBooking,
		record.ID.String(),
		record.Stay.PropertyID.String(),
		record.Guest.Name,
		record.Guest.Email,
		record.Stay.CheckIn.Time(),
		record.Stay.CheckOut.Time(),
		record.TotalPrice.Int64(),
		record.Status.String(),
		record.ChargeMode.String(),
		record.ChargeDate.Time(),
		record.References.CustomerRef,
		record.References.PaymentMethodRef,
		record.References.PaymentIntentRef,
		record.References.PMSBookingRef,
		record.Metadata.String(),
		record.Version,
		createdAt,
		updatedAt,
	)
	if isUniqueViolation(err, constraintPMSBookingRef) {
		return wrapStoreError(errorCodeReferenceConflict, booking.ErrExternalReferenceInUse)
	}
	if isUniqueViolation(err, constraintBookingPrimary) {
		return wrapStoreError(errorCodeDuplicate, booking.ErrBookingExists)
	}
	if err != nil {
		return wrapStoreError(errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	record, err := scanBooking(store.db.QueryRow(ctx, sqlSelectBooking, bookingID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Booking{}, wrapStoreError(errorCodeGet, booking.ErrUnknownBooking)
	}
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorCodeGet, err)
	}
	return record, nil
}

func (store *Store) ListBookingsByStatus(ctx context.Context, status booking.Status) ([]booking.Booking, error) {
	rows, err := store.db.Query(ctx, sqlListBookingsByStatus, status.String())
	if err != nil {
		return nil, wrapStoreError(errorCodeList, err)
	}
	defer rows.Close()

	records := make([]booking.Booking, 0)
	for rows.Next() {
		record, err := scanBooking(rows)
		if err != nil {
			return nil, wrapStoreError(errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorCodeList, err)
	}
	return records, nil
}

func (store *Store) UpdateBooking(ctx context.Context, update booking.BookingUpdate) (booking.Booking, error) {
	updatedAt := update.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	record, err := scanBooking(store.db.QueryRow(ctx, sqlUpdateBooking,
		update.BookingID.String(),
		update.ExpectedVersion,
		update.Status.String(),
		update.References.PaymentIntentRef,
		update.References.PMSBookingRef,
		updatedAt,
	))
	if isUniqueViolation(err, constraintPMSBookingRef) {
		return booking.Booking{}, wrapStoreError(errorCodeReferenceConflict, booking.ErrExternalReferenceInUse)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := store.db.QueryRow(ctx, sqlBookingExists, update.BookingID.String()).Scan(&exists); err != nil {
			return booking.Booking{}, wrapStoreError(errorCodeUpdate, err)
		}
		if !exists {
			return booking.Booking{}, wrapStoreError(errorCodeUpdate, booking.ErrUnknownBooking)
		}
		return booking.Booking{}, wrapStoreError(errorCodeUpdate, booking.ErrStaleBooking)
	}
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorCodeUpdate, err)
	}
	return record, nil
}

func wrapStoreError(code string, err error) error {
	return booking.WrapError(errorOperationStore, errorSubjectBooking, code, err)
}

func scanBooking(row pgx.Row) (booking.Booking, error) {
	var (
		bookingIDValue   string
		propertyIDValue  string
		guestName        string
		guestEmail       string
		checkIn          time.Time
		checkOut         time.Time
		totalPriceCents  int64
		statusValue      string
		chargeModeValue  string
		chargeDate       time.Time
		customerRef      string
		paymentMethodRef string
		paymentIntentRef string
		pmsBookingRef    string
		metadataValue    string
		version          int64
		createdAt        time.Time
		updatedAt        time.Time
	)
	if err := row.Scan(
		&bookingIDValue, &propertyIDValue, &guestName, &guestEmail, &checkIn, &checkOut,
		&totalPriceCents, &statusValue, &chargeModeValue, &chargeDate, &customerRef,
		&paymentMethodRef, &paymentIntentRef, &pmsBookingRef,
		&metadataValue, &version, &createdAt, &updatedAt,
	); err != nil {
		return booking.Booking{}, err
	}
	bookingID, err := booking.NewBookingID(bookingIDValue)
	if err != nil {
		return booking.Booking{}, err
	}
	propertyID, err := booking.NewPropertyID(propertyIDValue)
	if err != nil {
		return booking.Booking{}, err
	}
	stay, err := booking.NewStay(propertyID, booking.CalendarDateOf(checkIn), booking.CalendarDateOf(checkOut))
	if err != nil {
		return booking.Booking{}, err
	}
	guest, err := booking.NewGuest(guestName, guestEmail)
	if err != nil {
		return booking.Booking{}, err
	}
	totalPrice, err := booking.NewAmountCents(totalPriceCents)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseStatus(statusValue)
	if err != nil {
		return booking.Booking{}, err
	}
	chargeMode, err := booking.ParseChargeMode(chargeModeValue)
	if err != nil {
		return booking.Booking{}, err
	}
	metadata, err := booking.NewMetadataJSON(metadataValue)
	if err != nil {
		return booking.Booking{}, err
	}
	return booking.Booking{
		ID:         bookingID,
		Stay:       stay,
		Guest:      guest,
		TotalPrice: totalPrice,
		Status:     status,
		ChargeMode: chargeMode,
		ChargeDate: booking.CalendarDateOf(chargeDate),
		References: booking.References{
			CustomerRef:      customerRef,
			PaymentMethodRef: paymentMethodRef,
			PaymentIntentRef: paymentIntentRef,
			PMSBookingRef:    pmsBookingRef,
		},
		Metadata:  metadata,
		Version:   version,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
