// Package logging adapts booking operation logs to zap.
package logging

import (
	"context"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"go.uber.org/zap"
)

const operationMessage = "booking operation"

// OperationLogger writes booking.OperationLog entries as structured zap
// records. Failed operations are logged at warn level.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger wraps logger; a nil logger discards everything.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger}
}

// LogOperation implements booking.OperationLogger.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("outcome", entry.Outcome),
	}
	if bookingID := entry.BookingID.String(); bookingID != "" {
		fields = append(fields, zap.String("booking_id", bookingID))
	}
	if propertyID := entry.PropertyID.String(); propertyID != "" {
		fields = append(fields, zap.String("property_id", propertyID))
	}
	if entry.PreviousStatus != "" {
		fields = append(fields, zap.String("previous_status", entry.PreviousStatus.String()))
	}
	if entry.Status != "" {
		fields = append(fields, zap.String("status", entry.Status.String()))
	}
	if entry.Amount > 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Source != "" {
		fields = append(fields, zap.String("source", entry.Source))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn(operationMessage, append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info(operationMessage, fields...)
}
