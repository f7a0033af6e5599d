// Package payments adapts the Stripe API to booking.PaymentProcessor.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
)

const (
	serviceName = "payments"

	operationCreateCustomer      = "create customer"
	operationCreatePaymentIntent = "create payment intent"
	operationCreateSetupIntent   = "create setup intent"
	operationCaptureCharge       = "capture charge"
	operationGetPaymentIntent    = "get payment intent"
	operationRefund              = "refund"

	defaultDeclineCode = "card_declined"

	DefaultBaseURL = stripe.APIURL
	defaultTimeout = 15 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	SecretKey  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements booking.PaymentProcessor on its own stripe backend rather
// than the package-global one.
type Client struct {
	baseURL string
	api     *stripeclient.API
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, fmt.Errorf("%w: payments secret key is required", booking.ErrInvalidServiceConfig)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: payments base url: %v", booking.ErrInvalidServiceConfig, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	// No SDK retries; callers retry with their idempotency keys.
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(baseURL),
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		EnableTelemetry:   stripe.Bool(false),
	})
	api := stripeclient.New(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &Client{baseURL: baseURL, api: api}, nil
}

// CreateCustomer registers the guest and returns the customer reference.
func (client *Client) CreateCustomer(ctx context.Context, name string, email string) (string, error) {
	params := &stripe.CustomerParams{Name: stripe.String(name), Email: stripe.String(email)}
	params.Context = ctx
	customer, err := client.api.Customers.New(params)
	if err != nil {
		return "", responseError(operationCreateCustomer, err)
	}
	if customer.ID == "" {
		return "", missingID(operationCreateCustomer)
	}
	return customer.ID, nil
}

// CreatePaymentIntent creates an intent the guest confirms in the browser.
func (client *Client) CreatePaymentIntent(ctx context.Context, request booking.PaymentIntentRequest) (booking.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:           stripe.Int64(request.Amount.Int64()),
		Currency:         stripe.String(request.Currency.String()),
		Customer:         stripe.String(request.CustomerRef),
		SetupFutureUsage: stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	addMetadata(params.AddMetadata, request.Metadata)
	intent, err := client.api.PaymentIntents.New(params)
	return paymentIntent(operationCreatePaymentIntent, intent, err)
}

// CreateSetupIntent authorizes a payment method for a later off-session
// charge.
func (client *Client) CreateSetupIntent(ctx context.Context, customerRef string, metadata map[string]string) (booking.SetupIntent, error) {
	params := &stripe.SetupIntentParams{
		Customer: stripe.String(customerRef),
		Usage:    stripe.String(string(stripe.SetupIntentUsageOffSession)),
	}
	params.Context = ctx
	addMetadata(params.AddMetadata, metadata)
	setupIntent, err := client.api.SetupIntents.New(params)
	if err != nil {
		return booking.SetupIntent{}, responseError(operationCreateSetupIntent, err)
	}
	if setupIntent.ID == "" {
		return booking.SetupIntent{}, missingID(operationCreateSetupIntent)
	}
	return booking.SetupIntent{Reference: setupIntent.ID, ClientSecret: setupIntent.ClientSecret, Status: string(setupIntent.Status)}, nil
}

// CaptureCharge confirms a new off-session intent against the saved payment
// method.
func (client *Client) CaptureCharge(ctx context.Context, request booking.ChargeRequest) (booking.PaymentIntent, error) {
	if strings.TrimSpace(request.IdempotencyKey) == "" {
		return booking.PaymentIntent{}, fmt.Errorf("%w: idempotency key is required", booking.ErrValidation)
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(request.Amount.Int64()),
		Currency:      stripe.String(request.Currency.String()),
		Customer:      stripe.String(request.CustomerRef),
		PaymentMethod: stripe.String(request.PaymentMethodRef),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(request.IdempotencyKey)
	addMetadata(params.AddMetadata, request.Metadata)
	intent, err := client.api.PaymentIntents.New(params)
	return paymentIntent(operationCaptureCharge, intent, err)
}

// GetPaymentIntent fetches the processor state of an intent.
func (client *Client) GetPaymentIntent(ctx context.Context, reference string) (booking.PaymentIntent, error) {
	if strings.TrimSpace(reference) == "" {
		return booking.PaymentIntent{}, fmt.Errorf("%w: payment intent reference is required", booking.ErrInvalidReference)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := client.api.PaymentIntents.Get(reference, params)
	return paymentIntent(operationGetPaymentIntent, intent, err)
}

// Refund returns the full amount of a captured intent.
func (client *Client) Refund(ctx context.Context, paymentIntentRef string, idempotencyKey string) error {
	if strings.TrimSpace(paymentIntentRef) == "" {
		return fmt.Errorf("%w: payment intent reference is required", booking.ErrInvalidReference)
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentRef)}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	if _, err := client.api.Refunds.New(params); err != nil {
		return responseError(operationRefund, err)
	}
	return nil
}

func paymentIntent(operation string, intent *stripe.PaymentIntent, err error) (booking.PaymentIntent, error) {
	if err != nil {
		return booking.PaymentIntent{}, responseError(operation, err)
	}
	if intent == nil || intent.ID == "" {
		return booking.PaymentIntent{}, missingID(operation)
	}
	return booking.PaymentIntent{
		Reference:    intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       booking.PaymentIntentStatus(intent.Status),
		AmountCents:  intent.Amount,
		Currency:     string(intent.Currency),
	}, nil
}

// responseError turns a card decline into PaymentDeclinedError and anything
// else into UpstreamError.
func responseError(operation string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &booking.UpstreamError{Service: serviceName, Operation: operation, Err: err}
	}
	if stripeErr.HTTPStatusCode == http.StatusPaymentRequired || stripeErr.Type == stripe.ErrorTypeCard {
		declined := &booking.PaymentDeclinedError{
			Code:        string(stripeErr.Code),
			DeclineCode: string(stripeErr.DeclineCode),
			Message:     stripeErr.Msg,
		}
		if declined.Code == "" {
			declined.Code = defaultDeclineCode
		}
		if stripeErr.PaymentIntent != nil {
			declined.PaymentIntent = stripeErr.PaymentIntent.ID
		}
		return declined
	}
	body := stripeErr.Msg
	if stripeErr.LastResponse != nil && len(stripeErr.LastResponse.RawJSON) > 0 {
		body = string(stripeErr.LastResponse.RawJSON)
	}
	return &booking.UpstreamError{Service: serviceName, Operation: operation, StatusCode: stripeErr.HTTPStatusCode, Body: body, Err: err}
}

func missingID(operation string) error {
	return &booking.UpstreamError{Service: serviceName, Operation: operation, Err: errors.New("response is missing the object id")}
}

func addMetadata(add func(key string, value string), metadata map[string]string) {
	for key, value := range metadata {
		add(key, value)
	}
}
