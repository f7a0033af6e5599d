package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin = "admin"
	RoleOwner = "owner"

	claimsContextKey = "auth_claims"
)

var (
	ErrInvalidAccount     = errors.New("invalid admin account")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// AdminAccount is an operator allowed to sign in. PasswordHash is a bcrypt
// hash.
type AdminAccount struct {
	Email        string
	Role         string
	PasswordHash string
}

// Authenticator checks admin passwords against bcrypt hashes.
type Authenticator struct {
	accounts  map[string]AdminAccount
	dummyHash []byte
}

// NewAuthenticator validates accounts and indexes them by lowercase email.
func NewAuthenticator(accounts []AdminAccount) (*Authenticator, error) {
	indexed := make(map[string]AdminAccount, len(accounts))
	for _, account := range accounts {
		email := strings.ToLower(strings.TrimSpace(account.Email))
		if email == "" {
			return nil, fmt.Errorf("%w: email is required", ErrInvalidAccount)
		}
		role := strings.ToLower(strings.TrimSpace(account.Role))
		if role != RoleAdmin && role != RoleOwner {
			return nil, fmt.Errorf("%w: %s has unsupported role %q", ErrInvalidAccount, email, account.Role)
		}
		if _, err := bcrypt.Cost([]byte(account.PasswordHash)); err != nil {
			return nil, fmt.Errorf("%w: %s password hash: %v", ErrInvalidAccount, email, err)
		}
		if _, exists := indexed[email]; exists {
			return nil, fmt.Errorf("%w: duplicate account %s", ErrInvalidAccount, email)
		}
		indexed[email] = AdminAccount{Email: email, Role: role, PasswordHash: account.PasswordHash}
	}
	dummyHash, err := bcrypt.GenerateFromPassword([]byte("unused-password"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &Authenticator{accounts: indexed, dummyHash: dummyHash}, nil
}

// Verify returns the account when the password matches. Unknown emails still
// pay for one bcrypt comparison.
func (authenticator *Authenticator) Verify(email string, password string) (AdminAccount, error) {
	account, exists := authenticator.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		_ = bcrypt.CompareHashAndPassword(authenticator.dummyHash, []byte(password))
		return AdminAccount{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return AdminAccount{}, ErrInvalidCredentials
	}
	return account, nil
}

// SessionConfig controls the signed admin session cookie.
type SessionConfig struct {
	SigningKey   string
	Issuer       string
	CookieName   string
	TTL          time.Duration
	SecureCookie bool
}

// sessionIssuer mints the HS256 cookies the tauth validator accepts.
type sessionIssuer struct {
	cfg   SessionConfig
	nowFn func() time.Time
}

func (issuer sessionIssuer) mint(account AdminAccount) (string, time.Time, error) {
	issuedAt := issuer.nowFn().UTC()
	expiresAt := issuedAt.Add(issuer.cfg.TTL)
	claims := &sessionvalidator.Claims{
		UserID:          account.Email,
		UserEmail:       account.Email,
		UserDisplayName: account.Email,
		UserRoles:       []string{account.Role},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer.cfg.Issuer,
			Subject:   account.Email,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(issuer.cfg.SigningKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expiresAt, nil
}

func (issuer sessionIssuer) setCookie(ctx *gin.Context, value string, maxAge int) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(issuer.cfg.CookieName, value, maxAge, "/", "", issuer.cfg.SecureCookie, true)
}

// requireRole rejects requests whose validated session lacks an admin or
// owner role.
func requireRole(roles ...string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		for _, held := range claims.GetUserRoles() {
			for _, role := range roles {
				if strings.EqualFold(held, role) {
					ctx.Next()
					return
				}
			}
		}
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}
