package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/whats"
)

const testSecret = "app-secret"

func signedRouter(secret string) (*gin.Engine, *[]byte) {
	var seen []byte
	r := gin.New()
	r.Use(VerifySignature(secret))
	r.POST("/webhook", func(c *gin.Context) {
		seen = RawBody(c)
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, "%d", len(body))
	})
	return r, &seen
}

func TestVerifySignature_Valid(t *testing.T) {
	r, seen := signedRouter(testSecret)
	body := []byte(`{"object":"whatsapp_business_account"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256="+whats.Sign(testSecret, body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(*seen, body) {
		t.Fatalf("RawBody = %q", *seen)
	}
	// The handler can still read the buffered body.
	if w.Body.String() != "38" {
		t.Fatalf("handler read %s bytes", w.Body.String())
	}
}

func TestVerifySignature_Invalid(t *testing.T) {
	r, _ := signedRouter(testSecret)
	body := []byte(`{"object":"whatsapp_business_account"}`)

	for name, sig := range map[string]string{
		"missing":      "",
		"wrong secret": "sha256=" + whats.Sign("other-secret", body),
		"garbage":      "sha256=zzzz",
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
		if sig != "" {
			req.Header.Set("X-Hub-Signature-256", sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want 403", name, w.Code)
		}
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	r, _ := signedRouter(testSecret)
	body := []byte(`{"object":"whatsapp_business_account"}`)
	sig := "sha256=" + whats.Sign(testSecret, body)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(append(body, ' ')))
	req.Header.Set("X-Hub-Signature-256", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for tampered body", w.Code)
	}
}

func TestVerifySignature_DisabledWithoutSecret(t *testing.T) {
	r, seen := signedRouter("")
	body := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want verification disabled", w.Code)
	}
	if !bytes.Equal(*seen, body) {
		t.Fatal("raw body must be buffered even without a secret")
	}
}
