// Package httpapi exposes the booking lifecycle over JSON HTTP with gin.
package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// Config holds the HTTP surface settings.
type Config struct {
	AllowedOrigins []string
	Session        SessionConfig
}

// Dependencies are the domain components the handlers call into.
type Dependencies struct {
	Logger        *zap.Logger
	Service       *booking.Service
	Workflow      *booking.Workflow
	Reconciler    *booking.Reconciler
	Authenticator *Authenticator
	Now           func() time.Time
}

// NewRouter validates the session settings and builds the gin engine.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Service == nil || deps.Workflow == nil || deps.Reconciler == nil || deps.Authenticator == nil {
		return nil, fmt.Errorf("%w: http dependencies are incomplete", booking.ErrInvalidServiceConfig)
	}
	if strings.TrimSpace(cfg.Session.SigningKey) == "" || strings.TrimSpace(cfg.Session.Issuer) == "" || strings.TrimSpace(cfg.Session.CookieName) == "" {
		return nil, fmt.Errorf("%w: session signing key, issuer and cookie name are required", booking.ErrInvalidServiceConfig)
	}
	if cfg.Session.TTL <= 0 {
		return nil, fmt.Errorf("%w: session ttl must be positive", booking.ErrInvalidServiceConfig)
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.Session.SigningKey),
		Issuer:     cfg.Session.Issuer,
		CookieName: cfg.Session.CookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	handler := &httpHandler{
		logger:        logger,
		service:       deps.Service,
		workflow:      deps.Workflow,
		reconciler:    deps.Reconciler,
		authenticator: deps.Authenticator,
		sessions:      sessionIssuer{cfg: cfg.Session, nowFn: nowFn},
	}
	return setupRouter(cfg, handler, validator), nil
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/payments/prepare", handler.handlePreparePayment)
	api.POST("/bookings", handler.handleCreateBooking)
	api.POST("/admin/session", handler.handleLogin)
	api.DELETE("/admin/session", handler.handleLogout)

	admin := api.Group("/admin")
	admin.Use(validator.GinMiddleware(claimsContextKey), requireRole(RoleAdmin, RoleOwner))
	admin.GET("/bookings", handler.handleListBookings)
	admin.GET("/bookings/:id", handler.handleGetBooking)
	admin.POST("/bookings/:id/status", handler.handleUpdateStatus)
	admin.POST("/bookings/:id/approve", handler.handleApprove)
	admin.POST("/bookings/:id/charge", handler.handleCharge)
	admin.POST("/bookings/:id/cancel", handler.handleCancel)
	admin.GET("/charges/due", handler.handleDueCharges)
	admin.POST("/charges/run", handler.handleRunDueCharges)
	admin.POST("/reconcile", handler.handleReconcile)

	return router
}
