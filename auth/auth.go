/*
Package auth implements registration, login and JWT token handling for the
billing API.

Passwords are hashed with bcrypt. Authentication issues an HS256 access
token plus a longer-lived refresh token; Refresh exchanges a valid refresh
token for a fresh pair without re-checking the password.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/studyon/billing-engine/billing"
)

// ErrInvalidCredentials covers every way a login or token can be wrong:
// unknown email, bad password, malformed/expired/mistyped token.
var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenPair is what register/login/refresh hand back to the API layer.
type TokenPair struct {
	Token        string
	RefreshToken string
	Roles        []string
}

// Service implements registration, login and token refresh.
type Service struct {
	accounts   billing.AccountStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

// NewService wires an auth service over the account store.
func NewService(accounts billing.AccountStore, secret string, accessTTL, refreshTTL time.Duration) *Service {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Service{
		accounts:   accounts,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a new ROLE_USER account with a zero balance and logs it
// in. Fails with billing.ErrEmailTaken for duplicate emails.
func (s *Service) Register(ctx context.Context, email, password string) (*billing.Account, *TokenPair, error) {
	if email == "" || password == "" {
		return nil, nil, billing.ErrInvalidArgument
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}

	account := &billing.Account{
		Email:        email,
		PasswordHash: string(hash),
		Roles:        []string{billing.RoleUser},
		Balance:      decimal.Zero,
		CreatedAt:    s.now(),
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(account)
	if err != nil {
		return nil, nil, err
	}
	return account, pair, nil
}

// Login authenticates by email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*billing.Account, *TokenPair, error) {
	if email == "" || password == "" {
		return nil, nil, ErrInvalidCredentials
	}

	account, err := s.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, billing.ErrAccountNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(account)
	if err != nil {
		return nil, nil, err
	}
	return account, pair, nil
}

// Refresh exchanges a valid refresh token for a fresh token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.parse(refreshToken, "refresh")
	if err != nil {
		return nil, err
	}

	userID, err := subjectID(claims)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	account, err := s.accounts.AccountByID(ctx, userID)
	if errors.Is(err, billing.ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	return s.issuePair(account)
}

// Identity is what an access token proves about the caller.
type Identity struct {
	UserID int64
	Email  string
	Roles  []string
}

// Authenticate validates an access token and returns the caller identity.
func (s *Service) Authenticate(token string) (*Identity, error) {
	claims, err := s.parse(token, "access")
	if err != nil {
		return nil, err
	}

	userID, err := subjectID(claims)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	identity := &Identity{UserID: userID}
	identity.Email, _ = claims["email"].(string)
	if raw, ok := claims["roles"].([]any); ok {
		for _, r := range raw {
			if role, ok := r.(string); ok {
				identity.Roles = append(identity.Roles, role)
			}
		}
	}
	return identity, nil
}

// HasRole reports whether the identity carries the given role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (s *Service) issuePair(account *billing.Account) (*TokenPair, error) {
	now := s.now()

	access, err := s.sign(jwt.MapClaims{
		"sub":   strconv.FormatInt(account.ID, 10),
		"email": account.Email,
		"roles": account.Roles,
		"typ":   "access",
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
	})
	if err != nil {
		return nil, err
	}

	refresh, err := s.sign(jwt.MapClaims{
		"sub": strconv.FormatInt(account.ID, 10),
		"typ": "refresh",
		"iat": now.Unix(),
		"exp": now.Add(s.refreshTTL).Unix(),
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{Token: access, RefreshToken: refresh, Roles: account.Roles}, nil
}

func (s *Service) sign(claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) parse(token, wantType string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidCredentials
	}
	if typ, _ := claims["typ"].(string); typ != wantType {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

func subjectID(claims jwt.MapClaims) (int64, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return 0, fmt.Errorf("missing subject")
	}
	return strconv.ParseInt(sub, 10, 64)
}
