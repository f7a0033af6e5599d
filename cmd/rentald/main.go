package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/rentals/internal/server"
	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "RENTALS"
	envFile   = ".env"

	flagListenAddr           = "listen-addr"
	flagDatabaseURL          = "database-url"
	flagStoreBackend         = "store-backend"
	flagCatalogPath          = "catalog-path"
	flagCredentialsJSON      = "pms-credentials"
	flagPMSBaseURL           = "pms-base-url"
	flagPMSTimeout           = "pms-timeout"
	flagPMSTokenTTL          = "pms-token-ttl"
	flagPaymentsBaseURL      = "payments-base-url"
	flagPaymentsSecretKey    = "payments-secret-key"
	flagPaymentsTimeout      = "payments-timeout"
	flagRedisURL             = "redis-url"
	flagAMQPURL              = "amqp-url"
	flagAMQPExchange         = "amqp-exchange"
	flagAllowedOrigins       = "allowed-origins"
	flagSessionSigningKey    = "session-signing-key"
	flagSessionIssuer        = "session-issuer"
	flagSessionCookieName    = "session-cookie-name"
	flagSessionTTL           = "session-ttl"
	flagSessionSecureCookie  = "session-secure-cookie"
	flagAdminAccounts        = "admin-accounts"
	flagReconcileConcurrency = "reconcile-concurrency"
	flagReconcileInterval    = "reconcile-interval"
	flagChargeDueInterval    = "charge-due-interval"
	flagChargeOn             = "on"
)

func main() {
	cmd := newRootCommand(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rentald: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(output io.Writer) *cobra.Command {
	cfg := &server.Config{}
	settings := viper.New()
	root := &cobra.Command{
		Use:           "rentald",
		Short:         "Vacation-rental booking lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, settings, cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.String(flagDatabaseURL, "sqlite:///tmp/rentals.db", "Database URL (postgres:// or sqlite://)")
	flags.String(flagStoreBackend, server.StoreBackendGorm, "Store backend: gorm or pgx")
	flags.String(flagCatalogPath, "", "Path to the property catalog JSON file")
	flags.String(flagCredentialsJSON, "", "JSON object of PMS credentials keyed by property id")
	flags.String(flagPMSBaseURL, "", "PMS API base URL")
	flags.Duration(flagPMSTimeout, 0, "PMS request timeout")
	flags.Duration(flagPMSTokenTTL, 0, "Upper bound for cached PMS access tokens")
	flags.String(flagPaymentsBaseURL, "", "Payments API base URL")
	flags.String(flagPaymentsSecretKey, "", "Payments secret key")
	flags.Duration(flagPaymentsTimeout, 0, "Payments request timeout")
	flags.String(flagRedisURL, "", "Redis URL for the shared reconcile lock")
	flags.String(flagAMQPURL, "", "AMQP URL for booking events")
	flags.String(flagAMQPExchange, "", "AMQP exchange for booking events")
	flags.Int(flagReconcileConcurrency, 0, "Bookings reconciled in parallel")

	root.AddCommand(newServeCommand(settings, cfg), newReconcileCommand(cfg, output), newChargeDueCommand(settings, cfg, output))
	return root
}

func newServeCommand(settings *viper.Viper, cfg *server.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the booking HTTP API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadServeConfig(cmd, settings, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withLogger(func(logger *zap.Logger) error {
				return server.Run(ctx, *cfg, logger)
			})
		},
	}
	flags := cmd.Flags()
	flags.String(flagListenAddr, ":8080", "HTTP listen address")
	flags.String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	flags.String(flagSessionSigningKey, "", "HMAC key for admin session cookies")
	flags.String(flagSessionIssuer, "", "Issuer of admin session cookies")
	flags.String(flagSessionCookieName, "", "Admin session cookie name")
	flags.Duration(flagSessionTTL, 0, "Admin session lifetime")
	flags.Bool(flagSessionSecureCookie, false, "Mark the session cookie Secure")
	flags.String(flagAdminAccounts, "", "Comma-separated email:role:bcrypt-hash admin accounts")
	flags.Duration(flagReconcileInterval, 0, "Run reconciliation periodically (0 disables)")
	flags.Duration(flagChargeDueInterval, 0, "Charge due bookings periodically (0 disables)")
	return cmd
}

func newReconcileCommand(cfg *server.Config, output io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile open bookings against the PMS and payments and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withLogger(func(logger *zap.Logger) error {
				runtime, err := server.Build(ctx, *cfg, logger)
				if err != nil {
					return err
				}
				defer func() { _ = runtime.Close() }()
				report, runErr := runtime.Reconciler.Run(ctx)
				if err := writeJSON(output, report); err != nil {
					return err
				}
				return runErr
			})
		},
	}
}

type chargeOutput struct {
	On      string              `json:"on"`
	Results []chargeResultEntry `json:"results"`
}

type chargeResultEntry struct {
	BookingID string `json:"bookingId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func newChargeDueCommand(settings *viper.Viper, cfg *server.Config, output io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charge-due",
		Short: "Charge every approved booking whose charge date has arrived",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			on, err := chargeDate(cmd)
			if err != nil {
				return err
			}
			return withLogger(func(logger *zap.Logger) error {
				runtime, err := server.Build(ctx, *cfg, logger)
				if err != nil {
					return err
				}
				defer func() { _ = runtime.Close() }()
				if on.IsZero() {
					on = booking.CalendarDateOf(runtime.Workflow.Now())
				}
				results, runErr := runtime.Workflow.ChargeDue(ctx, on)
				entries := make([]chargeResultEntry, 0, len(results))
				for _, result := range results {
					entry := chargeResultEntry{BookingID: result.BookingID.String(), Status: result.Status.String()}
					if result.Err != nil {
						entry.Error = result.Err.Error()
					}
					entries = append(entries, entry)
				}
				if err := writeJSON(output, chargeOutput{On: on.String(), Results: entries}); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().String(flagChargeOn, "", "Charge date to process (YYYY-MM-DD, defaults to today UTC)")
	return cmd
}

func chargeDate(cmd *cobra.Command) (booking.CalendarDate, error) {
	raw, err := cmd.Flags().GetString(flagChargeOn)
	if err != nil || strings.TrimSpace(raw) == "" {
		return booking.CalendarDate{}, err
	}
	return booking.ParseCalendarDate(raw)
}

// loadConfig reads .env when present, then binds flags and RENTALS_* env vars.
func loadConfig(cmd *cobra.Command, settings *viper.Viper, cfg *server.Config) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	// DATABASE_URL is honored without the prefix, like most hosting platforms set it.
	if err := settings.BindEnv(flagDatabaseURL, envPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return err
	}

	cfg.DatabaseURL = settings.GetString(flagDatabaseURL)
	cfg.StoreBackend = settings.GetString(flagStoreBackend)
	cfg.CatalogPath = settings.GetString(flagCatalogPath)
	cfg.CredentialsJSON = settings.GetString(flagCredentialsJSON)
	cfg.PMSBaseURL = settings.GetString(flagPMSBaseURL)
	cfg.PMSTimeout = settings.GetDuration(flagPMSTimeout)
	cfg.PMSTokenTTL = settings.GetDuration(flagPMSTokenTTL)
	cfg.PaymentsBaseURL = settings.GetString(flagPaymentsBaseURL)
	cfg.PaymentsSecretKey = settings.GetString(flagPaymentsSecretKey)
	cfg.PaymentsTimeout = settings.GetDuration(flagPaymentsTimeout)
	cfg.RedisURL = settings.GetString(flagRedisURL)
	cfg.AMQPURL = settings.GetString(flagAMQPURL)
	cfg.AMQPExchange = settings.GetString(flagAMQPExchange)
	cfg.ReconcileConcurrency = settings.GetInt(flagReconcileConcurrency)
	return cfg.Validate()
}

func loadServeConfig(cmd *cobra.Command, settings *viper.Viper, cfg *server.Config) error {
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	accounts, err := server.ParseAdminAccounts(settings.GetString(flagAdminAccounts))
	if err != nil {
		return err
	}
	cfg.ListenAddr = settings.GetString(flagListenAddr)
	cfg.AllowedOrigins = server.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = settings.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = settings.GetString(flagSessionIssuer)
	cfg.SessionCookieName = settings.GetString(flagSessionCookieName)
	cfg.SessionTTL = settings.GetDuration(flagSessionTTL)
	cfg.SessionSecureCookie = settings.GetBool(flagSessionSecureCookie)
	cfg.AdminAccounts = accounts
	cfg.ReconcileInterval = settings.GetDuration(flagReconcileInterval)
	cfg.ChargeDueInterval = settings.GetDuration(flagChargeDueInterval)
	return cfg.ValidateServe()
}

func withLogger(run func(logger *zap.Logger) error) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	return run(logger)
}

func writeJSON(output io.Writer, value any) error {
	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
