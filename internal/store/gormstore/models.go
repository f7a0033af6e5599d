package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Booking mirrors the bookings table.
type Booking struct {
	BookingID        string         `gorm:"primaryKey"`
	PropertyID       string         `gorm:"not null;index:idx_bookings_property"`
	GuestName        string         `gorm:"not null"`
	GuestEmail       string         `gorm:"not null"`
	CheckIn          time.Time      `gorm:"not null"`
	CheckOut         time.Time      `gorm:"not null"`
	TotalPriceCents  int64          `gorm:"not null"`
	Status           string         `gorm:"not null;index:idx_bookings_status_created,priority:1"`
	ChargeMode       string         `gorm:"not null"`
	ChargeDate       time.Time      `gorm:"not null"`
	CustomerRef      string         `gorm:"not null"`
	PaymentMethodRef string         `gorm:"not null"`
	PaymentIntentRef *string        `gorm:""`
	PMSBookingRef    *string        `gorm:"uniqueIndex:uniq_bookings_pms_booking_ref"`
	Metadata         datatypes.JSON `gorm:"type:jsonb;not null"`
	Version          int64          `gorm:"not null"`
	CreatedAt        time.Time      `gorm:"not null;index:idx_bookings_status_created,priority:2"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

func (booking *Booking) BeforeCreate(tx *gorm.DB) error {
	if booking.BookingID == "" {
		booking.BookingID = uuid.NewString()
	}
	if booking.Version == 0 {
		booking.Version = 1
	}
	return nil
}
