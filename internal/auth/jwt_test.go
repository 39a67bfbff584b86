package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voice-platform/internal/config"

	"github.com/gin-gonic/gin"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "tenant-1", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || !pair.ExpiresAt.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("unexpected pair %+v", pair)
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.TenantID != "tenant-1" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	p, _ := m.IssuePair(now, "u", "t", "owner")
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, now); !errors.Is(err, ErrTokenType) {
		t.Fatalf("expected ErrTokenType, got %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeRefresh, now); err != nil {
		t.Fatalf("refresh token should verify as refresh, got %v", err)
	}
}

func TestVerifyRequiresTenant(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	p, _ := m.IssuePair(now, "u", "", "owner")
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, now); !errors.Is(err, ErrMissingClaim) {
		t.Fatalf("expected ErrMissingClaim, got %v", err)
	}
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)
	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		id, _ := IdentityFrom(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"tenant_id": id.TenantID, "role": id.Role})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	p, _ := m.IssuePair(time.Now(), "u", "tenant-1", "viewer")
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+p.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != `{"role":"viewer","tenant_id":"tenant-1"}` {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}
