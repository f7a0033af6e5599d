// Package catalog loads the static property catalog and the per-property PMS
// credentials once at process start.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
)

var (
	ErrInvalidCatalog     = fmt.Errorf("%w: invalid property catalog", booking.ErrConfiguration)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid property credentials", booking.ErrConfiguration)
)

type fileCatalog struct {
	Properties []fileProperty `json:"properties"`
}

type fileProperty struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Currency string          `json:"currency"`
	PMS      *fileCredential `json:"pms,omitempty"`
}

type fileCredential struct {
	AccountID string `json:"accountId"`
	APIKey    string `json:"apiKey"`
	ListingID string `json:"listingId"`
}

// Directory is an immutable booking.PropertyDirectory.
type Directory struct {
	properties  map[string]booking.Property
	credentials map[string]booking.PropertyCredential
}

// LoadFile reads a catalog file and an optional credentials blob.
func LoadFile(path string, credentialsJSON []byte) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidCatalog, path, err)
	}
	return Parse(raw, credentialsJSON)
}

// Parse builds a Directory from the catalog document and an optional
// credentials blob keyed by property id. Credentials in the blob override the
// ones embedded in the catalog.
func Parse(catalogJSON []byte, credentialsJSON []byte) (*Directory, error) {
	var document fileCatalog
	if err := json.Unmarshal(catalogJSON, &document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	directory := &Directory{
		properties:  make(map[string]booking.Property, len(document.Properties)),
		credentials: make(map[string]booking.PropertyCredential),
	}
	for index, entry := range document.Properties {
		propertyID, err := booking.NewPropertyID(entry.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: property %d: %v", ErrInvalidCatalog, index, err)
		}
		if _, exists := directory.properties[propertyID.String()]; exists {
			return nil, fmt.Errorf("%w: duplicate property %s", ErrInvalidCatalog, propertyID)
		}
		currency, err := booking.NewCurrency(entry.Currency)
		if err != nil {
			return nil, fmt.Errorf("%w: property %s: %v", ErrInvalidCatalog, propertyID, err)
		}
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = propertyID.String()
		}
		directory.properties[propertyID.String()] = booking.Property{ID: propertyID, Name: name, Currency: currency}
		if entry.PMS != nil {
			credential, err := newCredential(*entry.PMS)
			if err != nil {
				return nil, fmt.Errorf("%w: property %s: %v", ErrInvalidCatalog, propertyID, err)
			}
			directory.credentials[propertyID.String()] = credential
		}
	}

	if len(strings.TrimSpace(string(credentialsJSON))) == 0 {
		return directory, nil
	}
	var overrides map[string]fileCredential
	if err := json.Unmarshal(credentialsJSON, &overrides); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	for rawID, entry := range overrides {
		propertyID, err := booking.NewPropertyID(rawID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		if _, exists := directory.properties[propertyID.String()]; !exists {
			return nil, fmt.Errorf("%w: credential for unknown property %s", ErrInvalidCredentials, propertyID)
		}
		credential, err := newCredential(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: property %s: %v", ErrInvalidCredentials, propertyID, err)
		}
		directory.credentials[propertyID.String()] = credential
	}
	return directory, nil
}

func newCredential(entry fileCredential) (booking.PropertyCredential, error) {
	credential := booking.PropertyCredential{
		AccountID: strings.TrimSpace(entry.AccountID),
		APIKey:    strings.TrimSpace(entry.APIKey),
		ListingID: strings.TrimSpace(entry.ListingID),
	}
	if credential.AccountID == "" || credential.APIKey == "" {
		return booking.PropertyCredential{}, errors.New("account id and api key are required")
	}
	return credential, nil
}

// Property returns the catalog entry for propertyID.
func (directory *Directory) Property(propertyID booking.PropertyID) (booking.Property, error) {
	property, exists := directory.properties[propertyID.String()]
	if !exists {
		return booking.Property{}, fmt.Errorf("%w: %s", booking.ErrUnknownProperty, propertyID)
	}
	return property, nil
}

// Credential returns the PMS credential for propertyID.
func (directory *Directory) Credential(propertyID booking.PropertyID) (booking.PropertyCredential, error) {
	credential, exists := directory.credentials[propertyID.String()]
	if !exists {
		return booking.PropertyCredential{}, fmt.Errorf("%w: %s", booking.ErrMissingPropertyCredential, propertyID)
	}
	return credential, nil
}

// Properties lists the catalog sorted by id.
func (directory *Directory) Properties() []booking.Property {
	properties := make([]booking.Property, 0, len(directory.properties))
	for _, property := range directory.properties {
		properties = append(properties, property)
	}
	sort.Slice(properties, func(left, right int) bool {
		return properties[left].ID.String() < properties[right].ID.String()
	})
	return properties
}
