package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type httpHandler struct {
	logger        *zap.Logger
	service       *booking.Service
	workflow      *booking.Workflow
	reconciler    *booking.Reconciler
	authenticator *Authenticator
	sessions      sessionIssuer
}

type prepareRequest struct {
	PropertyID string `json:"propertyId"`
	GuestName  string `json:"guestName"`
	GuestEmail string `json:"guestEmail"`
	CheckIn    string `json:"checkIn"`
	CheckOut   string `json:"checkOut"`
	TotalPrice int64  `json:"totalPrice"`
	ChargeDate string `json:"chargeDate"`
}

type prepareResponse struct {
	ChargeMode       string `json:"chargeMode"`
	CustomerRef      string `json:"customerRef"`
	PaymentIntentRef string `json:"paymentIntentRef,omitempty"`
	SetupIntentRef   string `json:"setupIntentRef,omitempty"`
	ClientSecret     string `json:"clientSecret"`
	Currency         string `json:"currency"`
}

type createBookingRequest struct {
	PropertyID       string          `json:"propertyId"`
	GuestName        string          `json:"guestName"`
	GuestEmail       string          `json:"guestEmail"`
	CheckIn          string          `json:"checkIn"`
	CheckOut         string          `json:"checkOut"`
	TotalPrice       int64           `json:"totalPrice"`
	Status           string          `json:"status"`
	CustomerRef      string          `json:"customerRef"`
	PaymentMethodRef string          `json:"paymentMethodRef"`
	PaymentIntentRef string          `json:"paymentIntentRef"`
	PMSBookingRef    string          `json:"pmsBookingRef"`
	ChargeDate       string          `json:"chargeDate"`
	Metadata         json.RawMessage `json:"metadata"`
}

type guestBookingResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ChargeMode string `json:"chargeMode"`
	ChargeDate string `json:"chargeDate"`
}

type bookingResponse struct {
	ID               string          `json:"id"`
	PropertyID       string          `json:"propertyId"`
	GuestName        string          `json:"guestName"`
	GuestEmail       string          `json:"guestEmail"`
	CheckIn          string          `json:"checkIn"`
	CheckOut         string          `json:"checkOut"`
	Nights           int             `json:"nights"`
	TotalPrice       int64           `json:"totalPrice"`
	Status           string          `json:"status"`
	ChargeMode       string          `json:"chargeMode"`
	ChargeDate       string          `json:"chargeDate"`
	CustomerRef      string          `json:"customerRef"`
	PaymentMethodRef string          `json:"paymentMethodRef"`
	PaymentIntentRef string          `json:"paymentIntentRef,omitempty"`
	PMSBookingRef    string          `json:"pmsBookingRef,omitempty"`
	Metadata         json.RawMessage `json:"metadata"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type statusRequest struct {
	Status           string `json:"status"`
	PaymentIntentRef string `json:"paymentIntentRef"`
	PMSBookingRef    string `json:"pmsBookingRef"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type chargeResultResponse struct {
	BookingID string `json:"bookingId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (handler *httpHandler) handlePreparePayment(ctx *gin.Context) {
	var request prepareRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	prepared, err := handler.workflow.PreparePayment(ctx.Request.Context(), booking.PrepareInput{
		PropertyID:      request.PropertyID,
		GuestName:       request.GuestName,
		GuestEmail:      request.GuestEmail,
		CheckIn:         request.CheckIn,
		CheckOut:        request.CheckOut,
		TotalPriceCents: request.TotalPrice,
		ChargeDate:      request.ChargeDate,
	})
	if err != nil {
		handler.respondError(ctx, "prepare payment", err, audienceGuest)
		return
	}
	ctx.JSON(http.StatusOK, prepareResponse{
		ChargeMode:       prepared.ChargeMode.String(),
		CustomerRef:      prepared.CustomerRef,
		PaymentIntentRef: prepared.PaymentIntentRef,
		SetupIntentRef:   prepared.SetupIntentRef,
		ClientSecret:     prepared.ClientSecret,
		Currency:         prepared.Currency.String(),
	})
}

func (handler *httpHandler) handleCreateBooking(ctx *gin.Context) {
	var request createBookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	created, err := handler.service.Create(ctx.Request.Context(), booking.CreateInput{
		PropertyID:       request.PropertyID,
		GuestName:        request.GuestName,
		GuestEmail:       request.GuestEmail,
		CheckIn:          request.CheckIn,
		CheckOut:         request.CheckOut,
		TotalPriceCents:  request.TotalPrice,
		StatusHint:       request.Status,
		CustomerRef:      request.CustomerRef,
		PaymentMethodRef: request.PaymentMethodRef,
		PaymentIntentRef: request.PaymentIntentRef,
		PMSBookingRef:    request.PMSBookingRef,
		ChargeDate:       request.ChargeDate,
		Metadata:         string(request.Metadata),
	})
	if err != nil {
		handler.respondError(ctx, "create booking", err, audienceGuest)
		return
	}
	ctx.JSON(http.StatusCreated, guestBookingResponse{
		ID:         created.ID.String(),
		Status:     created.Status.String(),
		ChargeMode: created.ChargeMode.String(),
		ChargeDate: created.ChargeDate.String(),
	})
}

func (handler *httpHandler) handleLogin(ctx *gin.Context) {
	var request loginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	account, err := handler.authenticator.Verify(request.Email, request.Password)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", err.Error()))
		return
	}
	token, expiresAt, err := handler.sessions.mint(account)
	if err != nil {
		handler.logger.Error("session mint failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "session unavailable"))
		return
	}
	handler.sessions.setCookie(ctx, token, int(handler.sessions.cfg.TTL.Seconds()))
	ctx.JSON(http.StatusOK, gin.H{
		"email":   account.Email,
		"role":    account.Role,
		"expires": expiresAt.Unix(),
	})
}

func (handler *httpHandler) handleLogout(ctx *gin.Context) {
	handler.sessions.setCookie(ctx, "", -1)
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleListBookings(ctx *gin.Context) {
	status, err := booking.ParseStatus(ctx.DefaultQuery("status", booking.StatusPending.String()))
	if err != nil {
		handler.respondError(ctx, "list bookings", err, audienceAdmin)
		return
	}
	bookings, err := handler.service.ListByStatus(ctx.Request.Context(), status)
	if err != nil {
		handler.respondError(ctx, "list bookings", err, audienceAdmin)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": bookingResponses(bookings)})
}

func (handler *httpHandler) handleGetBooking(ctx *gin.Context) {
	bookingID, ok := handler.bookingID(ctx)
	if !ok {
		return
	}
	found, err := handler.service.Get(ctx.Request.Context(), bookingID)
	if err != nil {
		handler.respondError(ctx, "get booking", err, audienceAdmin)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingResponse(found)})
}

func (handler *httpHandler) handleUpdateStatus(ctx *gin.Context) {
	bookingID, ok := handler.bookingID(ctx)
	if !ok {
		return
	}
	var request statusRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	status, err := booking.ParseStatus(request.Status)
	if err != nil {
		handler.respondError(ctx, "update status", err, audienceAdmin)
		return
	}
	updated, err := handler.service.UpdateStatus(ctx.Request.Context(), bookingID, status, booking.ReferencePatch{
		PaymentIntentRef: request.PaymentIntentRef,
		PMSBookingRef:    request.PMSBookingRef,
	})
	if err != nil {
		handler.respondError(ctx, "update status", err, audienceAdmin)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingResponse(updated)})
}

func (handler *httpHandler) handleApprove(ctx *gin.Context) {
	handler.runWorkflow(ctx, "approve", handler.workflow.Approve)
}

func (handler *httpHandler) handleCharge(ctx *gin.Context) {
	handler.runWorkflow(ctx, "charge", handler.workflow.Charge)
}

func (handler *httpHandler) handleCancel(ctx *gin.Context) {
	handler.runWorkflow(ctx, "cancel", handler.workflow.Cancel)
}

func (handler *httpHandler) runWorkflow(ctx *gin.Context, operation string, step func(context.Context, booking.BookingID) (booking.Booking, error)) {
	bookingID, ok := handler.bookingID(ctx)
	if !ok {
		return
	}
	updated, err := step(ctx.Request.Context(), bookingID)
	if err != nil {
		handler.respondError(ctx, operation, err, audienceAdmin)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingResponse(updated)})
}

func (handler *httpHandler) handleDueCharges(ctx *gin.Context) {
	on := booking.CalendarDateOf(handler.sessions.nowFn())
	if raw := strings.TrimSpace(ctx.Query("on")); raw != "" {
		parsed, err := booking.ParseCalendarDate(raw)
		if err != nil {
			handler.respondError(ctx, "due charges", err, audienceAdmin)
			return
		}
		on = parsed
	}
	due, err := handler.workflow.DueCharges(ctx.Request.Context(), on)
	if err != nil {
		handler.respondError(ctx, "due charges", err, audienceAdmin)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"on": on.String(), "bookings": bookingResponses(due)})
}

func (handler *httpHandler) handleRunDueCharges(ctx *gin.Context) {
	on := booking.CalendarDateOf(handler.sessions.nowFn())
	results, err := handler.workflow.ChargeDue(ctx.Request.Context(), on)
	if err != nil {
		handler.respondError(ctx, "charge due", err, audienceAdmin)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"on": on.String(), "results": newChargeResults(results)})
}

func (handler *httpHandler) handleReconcile(ctx *gin.Context) {
	report, err := handler.reconciler.Run(ctx.Request.Context())
	if err != nil {
		handler.logger.Error("reconcile failed", zap.Error(err), zap.Int("checked", report.Summary.Checked))
		status, code := classify(err)
		ctx.JSON(status, gin.H{
			"error":  gin.H{"code": code, "message": err.Error()},
			"report": report,
		})
		return
	}
	ctx.JSON(http.StatusOK, report)
}

func (handler *httpHandler) bookingID(ctx *gin.Context) (booking.BookingID, bool) {
	bookingID, err := booking.NewBookingID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
		return booking.BookingID{}, false
	}
	return bookingID, true
}

func newBookingResponse(stored booking.Booking) bookingResponse {
	return bookingResponse{
		ID:               stored.ID.String(),
		PropertyID:       stored.Stay.PropertyID.String(),
		GuestName:        stored.Guest.Name,
		GuestEmail:       stored.Guest.Email,
		CheckIn:          stored.Stay.CheckIn.String(),
		CheckOut:         stored.Stay.CheckOut.String(),
		Nights:           stored.Stay.Nights(),
		TotalPrice:       stored.TotalPrice.Int64(),
		Status:           stored.Status.String(),
		ChargeMode:       stored.ChargeMode.String(),
		ChargeDate:       stored.ChargeDate.String(),
		CustomerRef:      stored.References.CustomerRef,
		PaymentMethodRef: stored.References.PaymentMethodRef,
		PaymentIntentRef: stored.References.PaymentIntentRef,
		PMSBookingRef:    stored.References.PMSBookingRef,
		Metadata:         json.RawMessage(stored.Metadata.String()),
		Version:          stored.Version,
		CreatedAt:        stored.CreatedAt,
		UpdatedAt:        stored.UpdatedAt,
	}
}

func bookingResponses(bookings []booking.Booking) []bookingResponse {
	responses := make([]bookingResponse, 0, len(bookings))
	for _, stored := range bookings {
		responses = append(responses, newBookingResponse(stored))
	}
	return responses
}

func newChargeResults(results []booking.ChargeResult) []chargeResultResponse {
	responses := make([]chargeResultResponse, 0, len(results))
	for _, result := range results {
		response := chargeResultResponse{BookingID: result.BookingID.String(), Status: result.Status.String()}
		if result.Err != nil {
			response.Error = result.Err.Error()
		}
		responses = append(responses, response)
	}
	return responses
}
