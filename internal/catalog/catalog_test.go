package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
)

const sampleCatalog = `{
  "properties": [
    {"id": "Echo-Villa", "name": "Echo Villa", "currency": "USD", "pms": {"accountId": "acct-1", "apiKey": "key-1", "listingId": "L-100"}},
    {"id": "bay-loft", "name": "Bay Loft", "currency": "eur"}
  ]
}`

func mustPropertyID(test *testing.T, raw string) booking.PropertyID {
	test.Helper()
	propertyID, err := booking.NewPropertyID(raw)
	if err != nil {
		test.Fatalf("property id: %v", err)
	}
	return propertyID
}

func TestParseBuildsDirectory(test *testing.T) {
	test.Parallel()
	directory, err := Parse([]byte(sampleCatalog), nil)
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	property, err := directory.Property(mustPropertyID(test, "echo-villa"))
	if err != nil {
		test.Fatalf("property: %v", err)
	}
	if property.Name != "Echo Villa" || property.Currency.String() != "usd" {
		test.Fatalf("unexpected property %+v", property)
	}
	credential, err := directory.Credential(mustPropertyID(test, "echo-villa"))
	if err != nil {
		test.Fatalf("credential: %v", err)
	}
	if credential.AccountID != "acct-1" || credential.ListingID != "L-100" {
		test.Fatalf("unexpected credential %+v", credential)
	}
	if len(directory.Properties()) != 2 || directory.Properties()[0].ID.String() != "bay-loft" {
		test.Fatalf("unexpected property listing %+v", directory.Properties())
	}
}

func TestLookupErrorsAreTyped(test *testing.T) {
	test.Parallel()
	directory, err := Parse([]byte(sampleCatalog), nil)
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if _, err := directory.Property(mustPropertyID(test, "ghost")); !errors.Is(err, booking.ErrUnknownProperty) {
		test.Fatalf("expected ErrUnknownProperty, got %v", err)
	}
	_, err = directory.Credential(mustPropertyID(test, "bay-loft"))
	if !errors.Is(err, booking.ErrMissingPropertyCredential) || !errors.Is(err, booking.ErrConfiguration) {
		test.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := directory.Credential(mustPropertyID(test, "ghost")); !errors.Is(err, booking.ErrMissingPropertyCredential) {
		test.Fatalf("expected ErrMissingPropertyCredential for unknown property, got %v", err)
	}
}

func TestCredentialsBlobOverridesCatalog(test *testing.T) {
	test.Parallel()
	blob := `{"bay-loft": {"accountId": "acct-2", "apiKey": "key-2"}, "echo-villa": {"accountId": "acct-3", "apiKey": "key-3"}}`
	directory, err := Parse([]byte(sampleCatalog), []byte(blob))
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	loft, err := directory.Credential(mustPropertyID(test, "bay-loft"))
	if err != nil || loft.AccountID != "acct-2" {
		test.Fatalf("unexpected loft credential %+v (%v)", loft, err)
	}
	echo, err := directory.Credential(mustPropertyID(test, "echo-villa"))
	if err != nil || echo.AccountID != "acct-3" {
		test.Fatalf("unexpected echo credential %+v (%v)", echo, err)
	}
}

func TestParseRejectsInvalidInput(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name        string
		catalog     string
		credentials string
		expected    error
	}{
		{name: "not json", catalog: `{`, expected: ErrInvalidCatalog},
		{name: "empty id", catalog: `{"properties":[{"id":" ","currency":"usd"}]}`, expected: ErrInvalidCatalog},
		{name: "bad currency", catalog: `{"properties":[{"id":"a","currency":"dollars"}]}`, expected: ErrInvalidCatalog},
		{name: "duplicate id", catalog: `{"properties":[{"id":"a","currency":"usd"},{"id":"A","currency":"usd"}]}`, expected: ErrInvalidCatalog},
		{name: "incomplete credential", catalog: `{"properties":[{"id":"a","currency":"usd","pms":{"accountId":"x"}}]}`, expected: ErrInvalidCatalog},
		{name: "credential for unknown property", catalog: `{"properties":[{"id":"a","currency":"usd"}]}`, credentials: `{"b":{"accountId":"x","apiKey":"y"}}`, expected: ErrInvalidCredentials},
		{name: "credentials not json", catalog: `{"properties":[]}`, credentials: `[`, expected: ErrInvalidCredentials},
	}
	for _, testCase := range testCases {
		_, err := Parse([]byte(testCase.catalog), []byte(testCase.credentials))
		if !errors.Is(err, testCase.expected) || !errors.Is(err, booking.ErrConfiguration) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expected, err)
		}
	}
}

func TestLoadFile(test *testing.T) {
	test.Parallel()
	path := filepath.Join(test.TempDir(), "properties.json")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		test.Fatalf("write catalog: %v", err)
	}
	directory, err := LoadFile(path, nil)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if _, err := directory.Property(mustPropertyID(test, "bay-loft")); err != nil {
		test.Fatalf("property: %v", err)
	}
	if _, err := LoadFile(filepath.Join(test.TempDir(), "missing.json"), nil); !errors.Is(err, ErrInvalidCatalog) {
		test.Fatalf("expected ErrInvalidCatalog for missing file, got %v", err)
	}
}
