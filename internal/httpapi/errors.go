package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type audience int

const (
	audienceGuest audience = iota
	audienceAdmin
)

const (
	guestUpstreamMessage = "we could not reach our booking partners, please try again shortly"
	guestInternalMessage = "something went wrong, please try again later"
)

// classify maps an error category to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, booking.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, booking.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, booking.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error, viewer audience) {
	status, code := classify(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		handler.logger.Error(operation+" failed", zap.Error(err), zap.String("code", code))
		if viewer == audienceGuest {
			message = guestInternalMessage
			if status == http.StatusBadGateway {
				message = guestUpstreamMessage
			}
		}
	}
	if status == http.StatusPaymentRequired && viewer == audienceGuest {
		var declined *booking.PaymentDeclinedError
		if errors.As(err, &declined) && declined.Message != "" {
			message = declined.Message
		}
	}
	ctx.JSON(status, errorResponse(code, message))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
