package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"guildchat/internal/snowflake"
)

// tokenTTL matches the 24h expiry clients are issued on login.
const tokenTTL = 24 * time.Hour

type claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Issuer signs bearer tokens for authenticated users.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Issue creates a signed token for userID with the current time as issuance.
func (i *Issuer) Issue(userID snowflake.ID) (string, error) {
	return i.IssueAt(userID, time.Now())
}

// IssueAt creates a token with an explicit issuance time. Exposed so the
// revocation watermark can be exercised in tests.
func (i *Issuer) IssueAt(userID snowflake.ID, iat time.Time) (string, error) {
	c := claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(tokenTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// decodeToken verifies the signature and expiry and returns the embedded
// user id and issuance time.
func decodeToken(token, secret string) (snowflake.ID, time.Time, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return 0, time.Time{}, ErrInvalid
	}
	userID, err := snowflake.Parse(c.UserID)
	if err != nil {
		return 0, time.Time{}, ErrInvalid
	}
	if c.IssuedAt == nil {
		return 0, time.Time{}, ErrInvalid
	}
	return userID, c.IssuedAt.Time, nil
}
