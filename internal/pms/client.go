// Package pms is the client for the external property-management system.
package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	serviceName = "pms"

	operationToken             = "token"
	operationCreateReservation = "create reservation"
	operationUpdateStatus      = "update reservation status"
	operationGetReservation    = "get reservation"

	pathToken        = "/oauth/token"
	pathReservations = "/reservations"

	defaultTimeout  = 10 * time.Second
	defaultTokenTTL = time.Hour
	tokenExpirySkew = time.Minute
	maxBodyBytes    = 64 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	TokenTTL   time.Duration
	HTTPClient *http.Client
}

// Client implements booking.ReservationSystem over the PMS REST API. Access
// tokens come from one OAuth client-credentials source per PMS account.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokenTTL   time.Duration

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: pms base url is required", booking.ErrInvalidServiceConfig)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: pms base url: %v", booking.ErrInvalidServiceConfig, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokenTTL:   tokenTTL,
		sources:    make(map[string]oauth2.TokenSource),
	}, nil
}

type reservationPayload struct {
	ListingID  string `json:"listingId,omitempty"`
	ExternalID string `json:"externalId"`
	GuestName  string `json:"guestName"`
	GuestEmail string `json:"guestEmail"`
	CheckIn    string `json:"checkIn"`
	CheckOut   string `json:"checkOut"`
	TotalPrice int64  `json:"totalPrice"`
	Currency   string `json:"currency"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type reservationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateReservation submits the stay and returns the PMS reference and the
// mapped status.
func (client *Client) CreateReservation(ctx context.Context, credential booking.PropertyCredential, request booking.ReservationRequest) (booking.ExternalReservation, error) {
	payload := reservationPayload{
		ListingID:  credential.ListingID,
		ExternalID: request.BookingID.String(),
		GuestName:  request.Guest.Name,
		GuestEmail: request.Guest.Email,
		CheckIn:    request.Stay.CheckIn.String(),
		CheckOut:   request.Stay.CheckOut.String(),
		TotalPrice: request.TotalPrice.Int64(),
		Currency:   request.Currency.String(),
	}
	var response reservationResponse
	if err := client.doJSON(ctx, credential, operationCreateReservation, http.MethodPost, pathReservations, payload, &response); err != nil {
		return booking.ExternalReservation{}, err
	}
	return client.reservation(operationCreateReservation, response)
}

// UpdateReservationStatus pushes confirmed or cancelled to the PMS.
func (client *Client) UpdateReservationStatus(ctx context.Context, credential booking.PropertyCredential, reference string, status booking.ExternalStatus) error {
	if strings.TrimSpace(reference) == "" {
		return fmt.Errorf("%w: pms reference is required", booking.ErrInvalidReference)
	}
	path := pathReservations + "/" + url.PathEscape(reference) + "/status"
	return client.doJSON(ctx, credential, operationUpdateStatus, http.MethodPut, path, statusPayload{Status: string(status)}, nil)
}

// GetReservation fetches the current PMS view of a reservation.
func (client *Client) GetReservation(ctx context.Context, credential booking.PropertyCredential, reference string) (booking.ExternalReservation, error) {
	if strings.TrimSpace(reference) == "" {
		return booking.ExternalReservation{}, fmt.Errorf("%w: pms reference is required", booking.ErrInvalidReference)
	}
	var response reservationResponse
	path := pathReservations + "/" + url.PathEscape(reference)
	if err := client.doJSON(ctx, credential, operationGetReservation, http.MethodGet, path, nil, &response); err != nil {
		return booking.ExternalReservation{}, err
	}
	return client.reservation(operationGetReservation, response)
}

func (client *Client) reservation(operation string, response reservationResponse) (booking.ExternalReservation, error) {
	if strings.TrimSpace(response.ID) == "" {
		return booking.ExternalReservation{}, &booking.UpstreamError{Service: serviceName, Operation: operation, Err: errors.New("response is missing the reservation id")}
	}
	status, err := MapStatus(response.Status)
	if err != nil {
		return booking.ExternalReservation{}, &booking.UpstreamError{Service: serviceName, Operation: operation, Err: err}
	}
	return booking.ExternalReservation{Reference: response.ID, Status: status, RawStatus: response.Status}, nil
}

// MapStatus translates a PMS status into the local vocabulary.
func MapStatus(raw string) (booking.Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "inquiry", "request", "pending":
		return booking.StatusPending, nil
	case "new", "confirmed", "modified":
		return booking.StatusApproved, nil
	case "cancelled", "canceled", "declined", "expired":
		return booking.StatusCancelled, nil
	default:
		return "", fmt.Errorf("unmapped pms status %q", raw)
	}
}

func (client *Client) doJSON(ctx context.Context, credential booking.PropertyCredential, operation string, method string, path string, payload any, target any) error {
	token, err := client.accessToken(credential)
	if err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &booking.UpstreamError{Service: serviceName, Operation: operation, Err: err}
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, body)
	if err != nil {
		return &booking.UpstreamError{Service: serviceName, Operation: operation, Err: err}
	}
	token.SetAuthHeader(request)
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return &booking.UpstreamError{Service: serviceName, Operation: operation, Err: err}
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return &booking.UpstreamError{Service: serviceName, Operation: operation, StatusCode: response.StatusCode, Err: err}
	}
	if response.StatusCode == http.StatusUnauthorized {
		client.invalidate(credential.AccountID)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &booking.UpstreamError{Service: serviceName, Operation: operation, StatusCode: response.StatusCode, Body: string(raw)}
	}
	if target == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return &booking.UpstreamError{Service: serviceName, Operation: operation, StatusCode: response.StatusCode, Body: string(raw), Err: err}
	}
	return nil
}

func (client *Client) accessToken(credential booking.PropertyCredential) (*oauth2.Token, error) {
	if strings.TrimSpace(credential.AccountID) == "" || strings.TrimSpace(credential.APIKey) == "" {
		return nil, fmt.Errorf("%w: pms account id and api key are required", booking.ErrMissingPropertyCredential)
	}
	token, err := client.tokenSource(credential).Token()
	if err != nil {
		client.invalidate(credential.AccountID)
		return nil, tokenError(err)
	}
	return token, nil
}

// tokenSource returns the cached source for the account, creating it on first
// use. Token requests are bounded by the client's http timeout, not by the
// caller's context.
func (client *Client) tokenSource(credential booking.PropertyCredential) oauth2.TokenSource {
	client.mu.Lock()
	defer client.mu.Unlock()
	if source, exists := client.sources[credential.AccountID]; exists {
		return source
	}
	fetch := cappedSource{
		ctx: context.WithValue(context.Background(), oauth2.HTTPClient, client.httpClient),
		config: &clientcredentials.Config{
			ClientID:     credential.AccountID,
			ClientSecret: credential.APIKey,
			TokenURL:     client.baseURL + pathToken,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		ttl: client.tokenTTL,
	}
	source := oauth2.ReuseTokenSourceWithExpiry(nil, fetch, tokenExpirySkew)
	client.sources[credential.AccountID] = source
	return source
}

func (client *Client) invalidate(accountID string) {
	client.mu.Lock()
	defer client.mu.Unlock()
	delete(client.sources, accountID)
}

// cappedSource fetches a new token on every call and shortens the
// server-issued expiry to the configured TTL.
type cappedSource struct {
	ctx    context.Context
	config *clientcredentials.Config
	ttl    time.Duration
}

func (capped cappedSource) Token() (*oauth2.Token, error) {
	token, err := capped.config.Token(capped.ctx)
	if err != nil {
		return nil, err
	}
	if limit := time.Now().Add(capped.ttl); token.Expiry.IsZero() || token.Expiry.After(limit) {
		token.Expiry = limit
	}
	return token, nil
}

func tokenError(err error) error {
	var retrieveError *oauth2.RetrieveError
	if errors.As(err, &retrieveError) && retrieveError.Response != nil {
		return &booking.UpstreamError{Service: serviceName, Operation: operationToken, StatusCode: retrieveError.Response.StatusCode, Body: string(retrieveError.Body), Err: err}
	}
	return &booking.UpstreamError{Service: serviceName, Operation: operationToken, Err: err}
}
