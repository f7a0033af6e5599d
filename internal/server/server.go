// Package server wires configuration into the booking components and runs the
// HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/internal/catalog"
	"github.com/MarkoPoloResearchLab/rentals/internal/database"
	"github.com/MarkoPoloResearchLab/rentals/internal/events"
	"github.com/MarkoPoloResearchLab/rentals/internal/httpapi"
	"github.com/MarkoPoloResearchLab/rentals/internal/logging"
	"github.com/MarkoPoloResearchLab/rentals/internal/payments"
	"github.com/MarkoPoloResearchLab/rentals/internal/pms"
	"github.com/MarkoPoloResearchLab/rentals/internal/runlock"
	"github.com/MarkoPoloResearchLab/rentals/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/rentals/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"go.uber.org/zap"
)

// Runtime holds the wired booking components.
type Runtime struct {
	Directory  *catalog.Directory
	Service    *booking.Service
	Workflow   *booking.Workflow
	Reconciler *booking.Reconciler
	closers    []func() error
}

// Close releases every resource Build opened, last opened first.
func (runtime *Runtime) Close() error {
	var closeErr error
	for index := len(runtime.closers) - 1; index >= 0; index-- {
		closeErr = errors.Join(closeErr, runtime.closers[index]())
	}
	runtime.closers = nil
	return closeErr
}

// Build opens the store and the upstream clients and wires the service,
// workflow and reconciler.
func Build(ctx context.Context, cfg Config, logger *zap.Logger) (*Runtime, error) {
	runtime := &Runtime{}
	built, err := build(ctx, cfg, logger, runtime)
	if err != nil {
		_ = runtime.Close()
		return nil, err
	}
	return built, nil
}

func build(ctx context.Context, cfg Config, logger *zap.Logger, runtime *Runtime) (*Runtime, error) {
	directory, err := catalog.LoadFile(cfg.CatalogPath, []byte(cfg.CredentialsJSON))
	if err != nil {
		return nil, err
	}
	runtime.Directory = directory

	store, err := openStore(ctx, cfg, runtime)
	if err != nil {
		return nil, err
	}

	var publisher booking.EventPublisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		runtime.closers = append(runtime.closers, amqpPublisher.Close)
		publisher = amqpPublisher
	}

	var lock booking.RunLock = runlock.NewLocal()
	if cfg.RedisURL != "" {
		redisLock, client, err := runlock.NewRedisFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		runtime.closers = append(runtime.closers, client.Close)
		lock = redisLock
	}

	reservations, err := pms.NewClient(pms.Config{BaseURL: cfg.PMSBaseURL, Timeout: cfg.PMSTimeout, TokenTTL: cfg.PMSTokenTTL})
	if err != nil {
		return nil, err
	}
	processor, err := payments.NewClient(payments.Config{BaseURL: cfg.PaymentsBaseURL, SecretKey: cfg.PaymentsSecretKey, Timeout: cfg.PaymentsTimeout})
	if err != nil {
		return nil, err
	}

	clock := func() time.Time { return time.Now().UTC() }
	service, err := booking.NewService(store, clock,
		booking.WithOperationLogger(logging.NewOperationLogger(logger)),
		booking.WithEventPublisher(publisher),
		booking.WithPropertyDirectory(directory),
	)
	if err != nil {
		return nil, fmt.Errorf("booking service init: %w", err)
	}
	workflow, err := booking.NewWorkflow(service, reservations, processor, directory)
	if err != nil {
		return nil, fmt.Errorf("workflow init: %w", err)
	}
	reconciler, err := booking.NewReconciler(service, reservations, processor, directory,
		booking.WithConcurrency(cfg.ReconcileConcurrency),
		booking.WithRunLock(lock, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("reconciler init: %w", err)
	}
	runtime.Service = service
	runtime.Workflow = workflow
	runtime.Reconciler = reconciler
	return runtime, nil
}

func openStore(ctx context.Context, cfg Config, runtime *Runtime) (booking.Store, error) {
	if cfg.StoreBackend == StoreBackendPgx {
		pool, err := database.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database open: %w", err)
		}
		runtime.closers = append(runtime.closers, func() error {
			pool.Close()
			return nil
		})
		store := pgstore.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	handle, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	runtime.closers = append(runtime.closers, handle.Close)
	if err := database.PrepareSchema(handle); err != nil {
		return nil, err
	}
	return gormstore.New(handle.DB), nil
}

// Run serves the HTTP API until ctx is cancelled, with the optional periodic
// reconcile and charge-due jobs running alongside.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	runtime, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			logger.Warn("runtime close error", zap.Error(closeErr))
		}
	}()

	authenticator, err := httpapi.NewAuthenticator(cfg.AdminAccounts)
	if err != nil {
		return err
	}
	router, err := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Session: httpapi.SessionConfig{
			SigningKey:   cfg.SessionSigningKey,
			Issuer:       cfg.SessionIssuer,
			CookieName:   cfg.SessionCookieName,
			TTL:          cfg.SessionTTL,
			SecureCookie: cfg.SessionSecureCookie,
		},
	}, httpapi.Dependencies{
		Logger:        logger,
		Service:       runtime.Service,
		Workflow:      runtime.Workflow,
		Reconciler:    runtime.Reconciler,
		Authenticator: authenticator,
	})
	if err != nil {
		return err
	}

	jobsCtx, stopJobs := context.WithCancel(ctx)
	scheduler := newScheduler(logger, runtime)
	scheduler.start(jobsCtx, "reconcile", cfg.ReconcileInterval, scheduler.reconcile)
	scheduler.start(jobsCtx, "charge_due", cfg.ChargeDueInterval, scheduler.chargeDue)
	// Runs before the runtime close above, so no job sees a closed store.
	defer func() {
		stopJobs()
		scheduler.wait()
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rentald listening", zap.String("addr", cfg.ListenAddr), zap.String("store_backend", cfg.StoreBackend))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
