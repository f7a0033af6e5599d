package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationWritesFields(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	operationLogger := NewOperationLogger(zap.New(core))
	bookingID, err := booking.NewBookingID("b-1")
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}

	operationLogger.LogOperation(context.Background(), booking.OperationLog{
		Operation:      "update_status",
		BookingID:      bookingID,
		PreviousStatus: booking.StatusPending,
		Status:         booking.StatusApproved,
		Amount:         84000,
		Source:         "admin",
		Outcome:        "ok",
	})
	operationLogger.LogOperation(context.Background(), booking.OperationLog{
		Operation: "charge",
		BookingID: bookingID,
		Outcome:   "error",
		Error:     errors.New("card declined"),
	})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		test.Fatalf("expected two entries, got %d", len(entries))
	}
	first := entries[0]
	if first.Level != zapcore.InfoLevel || first.Message != operationMessage {
		test.Fatalf("unexpected first entry %+v", first)
	}
	fields := first.ContextMap()
	if fields["booking_id"] != "b-1" || fields["status"] != "approved" || fields["previous_status"] != "pending" || fields["amount_cents"] != int64(84000) {
		test.Fatalf("unexpected fields %+v", fields)
	}
	if _, exists := fields["property_id"]; exists {
		test.Fatalf("expected an empty property id to be omitted")
	}
	second := entries[1]
	if second.Level != zapcore.WarnLevel || second.ContextMap()["error"] != "card declined" {
		test.Fatalf("unexpected second entry %+v", second)
	}
}

func TestNilLoggerIsSafe(test *testing.T) {
	test.Parallel()
	NewOperationLogger(nil).LogOperation(context.Background(), booking.OperationLog{Operation: "create"})
}
