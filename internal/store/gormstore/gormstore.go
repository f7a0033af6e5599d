package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	constraintBookingPrimary   = "bookings_pkey"
	constraintPMSBookingRef    = "uniq_bookings_pms_booking_ref"
	columnBookingID            = "bookings.booking_id"
	columnPMSBookingRef        = "bookings.pms_booking_ref"
	defaultMetadataJSON        = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintCode       = 19
	errorOperationStore        = "store"
	errorSubjectBooking        = "booking"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeReferenceConflict = "reference_conflict"
	errorCodeUpdate            = "update"
)

// Store implements booking.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the bookings schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Booking{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) InsertBooking(ctx context.Context, record booking.Booking) error {
	model := Booking{
		BookingID:        record.ID.String(),
		PropertyID:       record.Stay.PropertyID.String(),
		GuestName:        record.Guest.Name,
		GuestEmail:       record.Guest.Email,
		CheckIn:          record.Stay.CheckIn.Time(),
		CheckOut:         record.Stay.CheckOut.Time(),
		TotalPriceCents:  record.TotalPrice.Int64(),
		Status:           record.Status.String(),
		ChargeMode:       record.ChargeMode.String(),
		ChargeDate:       record.ChargeDate.Time(),
		CustomerRef:      record.References.CustomerRef,
		PaymentMethodRef: record.References.PaymentMethodRef,
		PaymentIntentRef: optionalString(record.References.PaymentIntentRef),
		PMSBookingRef:    optionalString(record.References.PMSBookingRef),
		Metadata:         datatypesJSON(record.Metadata.String()),
		Version:          record.Version,
		CreatedAt:        record.CreatedAt.UTC(),
		UpdatedAt:        record.UpdatedAt.UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
		model.UpdatedAt = model.CreatedAt
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintPMSBookingRef, columnPMSBookingRef) {
		return wrapStoreError(errorCodeReferenceConflict, booking.ErrExternalReferenceInUse)
	}
	if isUniqueViolation(err, constraintBookingPrimary, columnBookingID) {
		return wrapStoreError(errorCodeDuplicate, booking.ErrBookingExists)
	}
	if err != nil {
		return wrapStoreError(errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	var model Booking
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, wrapStoreError(errorCodeGet, booking.ErrUnknownBooking)
		}
		return booking.Booking{}, wrapStoreError(errorCodeGet, err)
	}
	record, err := mapBooking(model)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) ListBookingsByStatus(ctx context.Context, status booking.Status) ([]booking.Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("status = ?", status.String()).
		Order("created_at ASC").
		Order("booking_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorCodeList, err)
	}
	records := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		record, err := mapBooking(row)
		if err != nil {
			return nil, wrapStoreError(errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// UpdateBooking writes status and references when the stored version still
// matches the expected one.
func (store *Store) UpdateBooking(ctx context.Context, update booking.BookingUpdate) (booking.Booking, error) {
	updatedAt := update.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ? AND version = ?", update.BookingID.String(), update.ExpectedVersion).
		Updates(map[string]interface{}{
			"status":             update.Status.String(),
			"payment_intent_ref": optionalString(update.References.PaymentIntentRef),
			"pms_booking_ref":    optionalString(update.References.PMSBookingRef),
			"version":            gorm.Expr("version + 1"),
			"updated_at":         updatedAt,
		})
	if isUniqueViolation(result.Error, constraintPMSBookingRef, columnPMSBookingRef) {
		return booking.Booking{}, wrapStoreError(errorCodeReferenceConflict, booking.ErrExternalReferenceInUse)
	}
	if result.Error != nil {
		return booking.Booking{}, wrapStoreError(errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetBooking(ctx, update.BookingID); err != nil {
			return booking.Booking{}, err
		}
		return booking.Booking{}, wrapStoreError(errorCodeUpdate, booking.ErrStaleBooking)
	}
	return store.GetBooking(ctx, update.BookingID)
}

func wrapStoreError(code string, err error) error {
	return booking.WrapError(errorOperationStore, errorSubjectBooking, code, err)
}

func mapBooking(row Booking) (booking.Booking, error) {
	bookingID, err := booking.NewBookingID(row.BookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	propertyID, err := booking.NewPropertyID(row.PropertyID)
	if err != nil {
		return booking.Booking{}, err
	}
	stay, err := booking.NewStay(propertyID, booking.CalendarDateOf(row.CheckIn), booking.CalendarDateOf(row.CheckOut))
	if err != nil {
		return booking.Booking{}, err
	}
	guest, err := booking.NewGuest(row.GuestName, row.GuestEmail)
	if err != nil {
		return booking.Booking{}, err
	}
	totalPrice, err := booking.NewAmountCents(row.TotalPriceCents)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseStatus(row.Status)
	if err != nil {
		return booking.Booking{}, err
	}
	chargeMode, err := booking.ParseChargeMode(row.ChargeMode)
	if err != nil {
		return booking.Booking{}, err
	}
	metadata, err := booking.NewMetadataJSON(string(row.Metadata))
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
		ChargeDate: booking.CalendarDateOf(row.ChargeDate),
		References: booking.References{
			CustomerRef:      row.CustomerRef,
			PaymentMethodRef: row.PaymentMethodRef,
			PaymentIntentRef: stringOrEmpty(row.PaymentIntentRef),
			PMSBookingRef:    stringOrEmpty(row.PMSBookingRef),
		},
		Metadata:  metadata,
		Version:   row.Version,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isUniqueViolation matches a unique violation on the named postgres
// constraint or, for sqlite, on the named column.
func isUniqueViolation(err error, constraint string, column string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), column)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return strings.Contains(err.Error(), column) || strings.Contains(err.Error(), constraint)
	}
	return false
}
