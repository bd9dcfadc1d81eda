package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService("", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssueAndVerify(t *testing.T) {
	svc, err := NewService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	tok, err := svc.Issue("ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.Type != "Bearer" || tok.Value == "" {
		t.Errorf("unexpected token: %+v", tok)
	}
	if time.Until(tok.ExpiresAt) > time.Hour || time.Until(tok.ExpiresAt) < 55*time.Minute {
		t.Errorf("unexpected expiry: %v", tok.ExpiresAt)
	}

	subject, err := svc.Verify(tok.Value)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "ops" {
		t.Errorf("subject = %q, want ops", subject)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewService("secret-a", time.Hour)
	verifier, _ := NewService("secret-b", time.Hour)

	tok, err := issuer.Issue("ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(tok.Value); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc, _ := NewService("test-secret", time.Millisecond)

	tok, err := svc.Issue("ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := svc.Verify(tok.Value); err == nil {
		t.Fatal("expected verification failure for expired token")
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	svc, _ := NewService("test-secret", time.Hour)

	claims := jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := svc.Verify(raw); err == nil {
		t.Fatal("expected verification failure for alg=none token")
	}
}

func TestVerifyRejectsEmpty(t *testing.T) {
	svc, _ := NewService("test-secret", time.Hour)
	if _, err := svc.Verify(""); err == nil {
		t.Fatal("expected verification failure for empty token")
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	svc, _ := NewService("test-secret", 0)
	tok, err := svc.Issue("ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(tok.ExpiresAt) < 23*time.Hour {
		t.Errorf("expected default 24h TTL, expires %v", tok.ExpiresAt)
	}
}

func authTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinAuth(svc))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString(SubjectKey)})
	})
	return r
}

func TestGinAuthEnforcement(t *testing.T) {
	svc, _ := NewService("test-secret", time.Hour)
	router := authTestRouter(svc)

	tok, err := svc.Issue("ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", "", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", "", http.StatusUnauthorized},
		{"valid bearer", "Bearer " + tok.Value, "", http.StatusOK},
		{"valid query token", "", tok.Value, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/ping"
			if tt.query != "" {
				target += "?access_token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestGinAuthDisabled(t *testing.T) {
	router := authTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when auth disabled", w.Code)
	}
}
