package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakeSecrets struct {
	secrets map[string]string
}

func (f *fakeSecrets) GetSigningSecret(ctx context.Context, source string) (string, error) {
	s, ok := f.secrets[source]
	if !ok {
		return "", ErrSecretNotFound
	}
	return s, nil
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"eventId":"evt-1"}`)

	sig := Sign("topsecret", payload)
	if !VerifySignature("topsecret", payload, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature("wrong", payload, sig) {
		t.Fatal("signature accepted with wrong secret")
	}
	if VerifySignature("topsecret", []byte("tampered"), sig) {
		t.Fatal("signature accepted for tampered payload")
	}
	if VerifySignature("topsecret", payload, "not-hex") {
		t.Fatal("non-hex signature accepted")
	}
}

func signedRequest(t *testing.T, mw gin.HandlerFunc, source, body, header string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/webhooks/:source", mw, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+source, strings.NewReader(body))
	if header != "" {
		req.Header.Set("X-Webhook-Signature", header)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestSignatureMiddleware(t *testing.T) {
	secrets := &fakeSecrets{secrets: map[string]string{"calendly": "per-source"}}
	mw := SignatureMiddleware(secrets, "shared-fallback")
	body := `{"eventId":"evt-1","type":"lead.created"}`

	t.Run("per source secret accepted", func(t *testing.T) {
		rec := signedRequest(t, mw, "calendly", body, Sign("per-source", []byte(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("sha256 prefix accepted", func(t *testing.T) {
		rec := signedRequest(t, mw, "calendly", body, "sha256="+Sign("per-source", []byte(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("fallback secret for unregistered source", func(t *testing.T) {
		rec := signedRequest(t, mw, "webforms", body, Sign("shared-fallback", []byte(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		rec := signedRequest(t, mw, "calendly", body, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		rec := signedRequest(t, mw, "calendly", body, Sign("shared-fallback", []byte(body)))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("no secret at all rejected", func(t *testing.T) {
		bare := SignatureMiddleware(secrets, "")
		rec := signedRequest(t, bare, "webforms", body, Sign("anything", []byte(body)))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}
