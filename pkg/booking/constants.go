package booking

const (
	operationCreate           = "create"
	operationUpdateStatus     = "update_status"
	operationAttachReferences = "attach_references"
	operationApprove          = "approve"
	operationCharge           = "charge"
	operationCancel           = "cancel"
	operationReconcile        = "reconcile"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService  = "service"
	errorOperationWorkflow = "workflow"
	errorSubjectBooking    = "booking"
	errorSubjectPMS        = "pms"
	errorSubjectPayment    = "payment"
	errorCodeLookup        = "lookup"
	errorCodeTransition    = "transition"
	errorCodeReference     = "reference"
	errorCodeCapture       = "capture"
	errorCodeRefund        = "refund"
	errorCodePush          = "push"

	calendarDateLayout = "2006-01-02"

	chargeIdempotencyPrefix = "charge:"
	refundIdempotencyPrefix = "refund:"

	defaultReconcileConcurrency = 4
	reconcileLockKey            = "rentals:reconcile"
)
