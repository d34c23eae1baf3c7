package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"guildchat/internal/models"
	"guildchat/internal/snowflake"
)

var (
	// ErrInvalid covers malformed, unsigned, expired tokens and tokens for
	// users that no longer exist.
	ErrInvalid = errors.New("auth: invalid token")
	// ErrStale means the token predates the credential's last_changed
	// watermark (password change revokes all earlier tokens).
	ErrStale = errors.New("auth: token predates credential change")
	// ErrRevoked means the credential has been explicitly invalidated.
	ErrRevoked = errors.New("auth: credential revoked")
)

// CredentialSource is the persistence view the gate needs. ErrNotFound from
// the store maps to ErrInvalid here.
type CredentialSource interface {
	GetCredential(ctx context.Context, userID snowflake.ID) (models.Credential, error)
}

// Gate validates bearer tokens against stored credential state. It never
// mutates credentials; revocation happens in the write path by advancing
// last_changed or clearing is_valid.
type Gate struct {
	secret string
	creds  CredentialSource
	log    *slog.Logger
}

func NewGate(secret string, creds CredentialSource, log *slog.Logger) *Gate {
	return &Gate{secret: secret, creds: creds, log: log}
}

// Authenticate verifies the token and checks it against the owning user's
// credential. Returns the user id on success.
func (g *Gate) Authenticate(ctx context.Context, token string) (snowflake.ID, error) {
	userID, issuedAt, err := decodeToken(token, g.secret)
	if err != nil {
		return 0, ErrInvalid
	}

	cred, err := g.creds.GetCredential(ctx, userID)
	if err != nil {
		g.log.Debug("credential_lookup_failed", "user_id", userID.String(), "error", err)
		return 0, ErrInvalid
	}
	if !cred.IsValid {
		return 0, ErrRevoked
	}
	// iat has second precision; truncate the watermark so a token issued in
	// the same second as the change is not spuriously rejected.
	if issuedAt.Before(cred.LastChanged.Truncate(time.Second)) {
		return 0, ErrStale
	}
	return userID, nil
}
