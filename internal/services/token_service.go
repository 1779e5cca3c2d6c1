package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/tenantstore"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenService verifies session tokens minted by the account backend.
// Registration, login and password flows live over there; this service
// only needs to establish which tenant and client session a request
// belongs to.
type TokenService struct {
	jwtSecret string
}

func NewTokenService(jwtSecret string) *TokenService {
	return &TokenService{jwtSecret: jwtSecret}
}

type SessionClaims struct {
	TenantID  string
	SessionID string
}

// Mint signs a session token for the given tenant and client session.
// Production tokens come from the account backend; this mirrors its
// claim layout for tooling and tests.
func (s *TokenService) Mint(tenantID, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"tenant_id": tenantID,
		"jti":       sessionID,
		"exp":       now.Add(ttl).Unix(),
		"iat":       now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

func (s *TokenService) Verify(tokenString string) (*SessionClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	rawTenant, ok := claims["tenant_id"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	tenantID, err := tenantstore.NormalizeTenantID(rawTenant)
	if err != nil {
		return nil, ErrInvalidToken
	}

	sessionID, ok := claims["jti"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &SessionClaims{
		TenantID:  tenantID,
		SessionID: sessionID,
	}, nil
}
