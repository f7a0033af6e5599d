package booking

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by booking operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing booking operation.
type OperationLog struct {
	Operation      string
	BookingID      BookingID
	PropertyID     PropertyID
	PreviousStatus Status
	Status         Status
	Amount         AmountCents
	Source         string
	Outcome        string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEventPublisher wires a publisher for booking lifecycle events.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithPropertyDirectory makes Create reject properties missing from the catalog.
func WithPropertyDirectory(directory PropertyDirectory) ServiceOption {
	return func(service *Service) {
		service.directory = directory
	}
}

// WithIDGenerator replaces the booking id generator.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}

func logOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Outcome == "" {
		if entry.Error != nil {
			entry.Outcome = operationStatusError
		} else {
			entry.Outcome = operationStatusOK
		}
	}
	logger.LogOperation(ctx, entry)
}
