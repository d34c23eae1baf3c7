package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"guildchat/internal/auth"
	"guildchat/internal/config"
	"guildchat/internal/logging"
	"guildchat/internal/models"
	"guildchat/internal/security"
	"guildchat/internal/snowflake"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCreds struct {
	creds map[snowflake.ID]models.Credential
}

func (f *fakeCreds) GetCredential(_ context.Context, userID snowflake.ID) (models.Credential, error) {
	cred, ok := f.creds[userID]
	if !ok {
		return models.Credential{}, auth.ErrInvalid
	}
	return cred, nil
}

// testServer builds a Server with just enough wiring for middleware tests.
func testServer(t *testing.T, secret string, creds *fakeCreds) *Server {
	t.Helper()
	log := logging.NewWithWriter(io.Discard, "error")
	return &Server{
		log:     log,
		gate:    auth.NewGate(secret, creds, log),
		issuer:  auth.NewIssuer(secret),
		limiter: security.NewLimiterStore(rate.Limit(1000), 1000, time.Minute),
		cfg:     config.Config{CORSOrigins: []string{"https://app.example.com"}},
	}
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	return resp.Error.Code
}

func TestAuthMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	s := testServer(t, "test-secret", &fakeCreds{})
	router := gin.New()
	router.GET("/protected", s.authMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"no header", "", "missing_token"},
		{"wrong scheme", "Basic abc", "missing_token"},
		{"empty bearer", "Bearer ", "missing_token"},
		{"garbage token", "Bearer not.a.jwt", "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if got := decodeErrorCode(t, w.Body.Bytes()); got != tt.code {
				t.Errorf("expected error code %q, got %q", tt.code, got)
			}
		})
	}
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	userID := snowflake.ID(175928847299117063)
	creds := &fakeCreds{creds: map[snowflake.ID]models.Credential{
		userID: {UserID: userID, IsValid: true, LastChanged: time.Now().Add(-time.Hour)},
	}}
	s := testServer(t, "test-secret", creds)

	token, err := s.issuer.Issue(userID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	var got snowflake.ID
	router := gin.New()
	router.GET("/protected", s.authMiddleware(), func(c *gin.Context) {
		got = currentUser(c)
		c.Status(http.StatusOK)
	})

	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got != userID {
		t.Errorf("expected user id %s in context, got %s", userID, got)
	}
}

func TestAuthMiddleware_MapsGateErrors(t *testing.T) {
	userID := snowflake.ID(175928847299117063)
	creds := &fakeCreds{creds: map[snowflake.ID]models.Credential{}}
	s := testServer(t, "test-secret", creds)
	router := gin.New()
	router.GET("/protected", s.authMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	hit := func(token string) (int, string) {
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code, decodeErrorCode(t, w.Body.Bytes())
	}

	t.Run("revoked credential", func(t *testing.T) {
		creds.creds[userID] = models.Credential{UserID: userID, IsValid: false}
		token, _ := s.issuer.Issue(userID)
		code, errCode := hit(token)
		if code != http.StatusUnauthorized || errCode != "credential_revoked" {
			t.Errorf("expected 401 credential_revoked, got %d %s", code, errCode)
		}
	})

	t.Run("stale token", func(t *testing.T) {
		creds.creds[userID] = models.Credential{
			UserID: userID, IsValid: true, LastChanged: time.Now(),
		}
		token, _ := s.issuer.IssueAt(userID, time.Now().Add(-time.Hour))
		code, errCode := hit(token)
		if code != http.StatusUnauthorized || errCode != "token_stale" {
			t.Errorf("expected 401 token_stale, got %d %s", code, errCode)
		}
	})
}

func TestPathID_RejectsGarbage(t *testing.T) {
	router := gin.New()
	router.GET("/things/:thing_id", func(c *gin.Context) {
		id, ok := pathID(c, "thing_id")
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	tests := []struct {
		name     string
		id       string
		expected int
	}{
		{"valid snowflake", "175928847299117063", http.StatusOK},
		{"not a number", "abc", http.StatusBadRequest},
		{"negative", "-5", http.StatusBadRequest},
		{"empty-ish", "%20", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/things/"+tt.id, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.expected {
				t.Errorf("expected status %d, got %d", tt.expected, w.Code)
			}
		})
	}
}

func TestQueryID_OptionalParameter(t *testing.T) {
	router := gin.New()
	router.GET("/messages", func(c *gin.Context) {
		after, ok := queryID(c, "after")
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"after": after.String()})
	})

	t.Run("absent means zero", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/messages", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})

	t.Run("garbage is 400", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/messages?after=xyz", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestRateLimitMiddleware_Throttles(t *testing.T) {
	s := testServer(t, "test-secret", &fakeCreds{})
	s.limiter = security.NewLimiterStore(rate.Limit(1), 2, time.Minute)

	router := gin.New()
	router.GET("/ping", s.rateLimitMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req, _ := http.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = "10.0.0.1:4242"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst requests should pass, got %v", codes)
	}
	limited := false
	for _, code := range codes[2:] {
		if code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Errorf("expected a 429 after exhausting the burst, got %v", codes)
	}
}

func TestRateLimitMiddleware_KeysOnUserAfterAuth(t *testing.T) {
	alice := snowflake.ID(175928847299117063)
	bob := snowflake.ID(175928847299117064)
	creds := &fakeCreds{creds: map[snowflake.ID]models.Credential{
		alice: {UserID: alice, IsValid: true, LastChanged: time.Now().Add(-time.Hour)},
		bob:   {UserID: bob, IsValid: true, LastChanged: time.Now().Add(-time.Hour)},
	}}
	s := testServer(t, "test-secret", creds)
	s.limiter = security.NewLimiterStore(rate.Limit(0.01), 1, time.Minute)

	router := gin.New()
	router.GET("/ping", s.authMiddleware(), s.rateLimitMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	hit := func(token string) int {
		req, _ := http.NewRequest("GET", "/ping", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.RemoteAddr = "10.0.0.1:4242"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	aliceToken, _ := s.issuer.Issue(alice)
	bobToken, _ := s.issuer.Issue(bob)

	// One bucket per user, not per IP: both users' first request passes
	// even from the same address.
	if code := hit(aliceToken); code != http.StatusOK {
		t.Fatalf("alice's first request = %d, want 200", code)
	}
	if code := hit(bobToken); code != http.StatusOK {
		t.Fatalf("bob's first request = %d, want 200 (limiter keyed on IP instead of user?)", code)
	}
	if code := hit(aliceToken); code != http.StatusTooManyRequests {
		t.Errorf("alice's second request = %d, want 429", code)
	}
}

func TestCORSMiddleware_AllowsConfiguredOrigin(t *testing.T) {
	s := testServer(t, "test-secret", &fakeCreds{})
	router := gin.New()
	router.Use(s.corsMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("allowed origin echoed", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/ping", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("expected origin echoed, got %q", got)
		}
	})

	t.Run("unknown origin gets no header", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/ping", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no CORS header, got %q", got)
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		req, _ := http.NewRequest("OPTIONS", "/ping", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("expected 204 for preflight, got %d", w.Code)
		}
	})
}
