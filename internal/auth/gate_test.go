package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"guildchat/internal/models"
	"guildchat/internal/snowflake"
)

const testSecret = "test-signing-secret"

type fakeCredSource struct {
	creds map[snowflake.ID]models.Credential
}

func (f *fakeCredSource) GetCredential(_ context.Context, userID snowflake.ID) (models.Credential, error) {
	c, ok := f.creds[userID]
	if !ok {
		return models.Credential{}, errors.New("not found")
	}
	return c, nil
}

func testGate(creds map[snowflake.ID]models.Credential) (*Gate, *Issuer) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGate(testSecret, &fakeCredSource{creds: creds}, log), NewIssuer(testSecret)
}

func TestAuthenticate_Success(t *testing.T) {
	userID := snowflake.ID(123456789)
	gate, issuer := testGate(map[snowflake.ID]models.Credential{
		userID: {UserID: userID, IsValid: true, LastChanged: time.Now().Add(-time.Hour)},
	})

	tok, err := issuer.Issue(userID)
	if err != nil {
		t.Fatal(err)
	}

	got, err := gate.Authenticate(context.Background(), tok)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != userID {
		t.Errorf("authenticated user = %d, want %d", got, userID)
	}
}

func TestAuthenticate_InvalidTokens(t *testing.T) {
	userID := snowflake.ID(42)
	gate, _ := testGate(map[snowflake.ID]models.Credential{
		userID: {UserID: userID, IsValid: true},
	})
	otherIssuer := NewIssuer("some-other-secret")

	badSig, err := otherIssuer.Issue(userID)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := NewIssuer(testSecret).IssueAt(userID, time.Now().Add(-48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"wrong signature", badSig},
		{"expired", expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := gate.Authenticate(context.Background(), tt.token); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	gate, issuer := testGate(map[snowflake.ID]models.Credential{})
	tok, err := issuer.Issue(snowflake.ID(999))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Authenticate(context.Background(), tok); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for unknown user, got %v", err)
	}
}

func TestAuthenticate_Revoked(t *testing.T) {
	userID := snowflake.ID(7)
	gate, issuer := testGate(map[snowflake.ID]models.Credential{
		userID: {UserID: userID, IsValid: false},
	})
	tok, err := issuer.Issue(userID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Authenticate(context.Background(), tok); !errors.Is(err, ErrRevoked) {
		t.Errorf("expected ErrRevoked, got %v", err)
	}
}

func TestAuthenticate_StaleAfterPasswordChange(t *testing.T) {
	userID := snowflake.ID(7)
	changed := time.Now()
	gate, issuer := testGate(map[snowflake.ID]models.Credential{
		userID: {UserID: userID, IsValid: true, LastChanged: changed},
	})

	// Issued well before the change: rejected.
	old, err := issuer.IssueAt(userID, changed.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Authenticate(context.Background(), old); !errors.Is(err, ErrStale) {
		t.Errorf("expected ErrStale for pre-change token, got %v", err)
	}

	// Issued after the change: accepted.
	fresh, err := issuer.IssueAt(userID, changed.Add(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Authenticate(context.Background(), fresh); err != nil {
		t.Errorf("expected post-change token to succeed, got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}

	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(hash, "correct horse battery") {
		t.Error("expected matching password to verify")
	}
	if CheckPassword(hash, "wrong password!") {
		t.Error("expected non-matching password to fail")
	}
}
