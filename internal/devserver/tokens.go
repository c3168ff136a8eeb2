package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the token_type claim.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	errTokenInvalid   = errors.New("token is invalid or expired")
	errTokenWrongType = errors.New("token has wrong type")
)

// claims mirrors the payload of the portal's JWTs.
type claims struct {
	TokenType  string `json:"token_type"`
	UserID     int64  `json:"user_id"`
	Generation int64  `json:"gen"`
	jwt.RegisteredClaims
}

type tokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func (ti *tokenIssuer) issue(tokenType string, userID, generation int64) (string, error) {
	ttl := ti.accessTTL
	if tokenType == tokenTypeRefresh {
		ttl = ti.refreshTTL
	}
	now := ti.now()
	c := &claims{
		TokenType:  tokenType,
		UserID:     userID,
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("signed string: %w", err)
	}
	return signed, nil
}

// parse validates signature, expiry and type.
func (ti *tokenIssuer) parse(raw, tokenType string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (any, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTokenInvalid, err)
	}
	if c.TokenType != tokenType {
		return nil, errTokenWrongType
	}
	return c, nil
}
