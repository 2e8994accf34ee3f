package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecretSource resolves the signing secret for a webhook source.
type SecretSource interface {
	GetSigningSecret(ctx context.Context, source string) (string, error)
}

// SignatureMiddleware verifies the X-Webhook-Signature header: a hex
// HMAC-SHA256 of the raw body, optionally prefixed with "sha256=". The
// secret comes from the per-source registration, falling back to the
// shared secret. The body is restored on the request for downstream
// handlers.
func SignatureMiddleware(secrets SecretSource, fallbackSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := strings.TrimPrefix(c.GetHeader("X-Webhook-Signature"), "sha256=")
		if signature == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing signature"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		secret, err := secrets.GetSigningSecret(c.Request.Context(), c.Param("source"))
		if errors.Is(err, ErrSecretNotFound) {
			secret = fallbackSecret
		} else if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "secret lookup failed"})
			return
		}
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown webhook source"})
			return
		}

		if !VerifySignature(secret, body, signature) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		c.Next()
	}
}

// VerifySignature checks a hex HMAC-SHA256 signature over the payload in
// constant time.
func VerifySignature(secret string, payload []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// Sign computes the hex HMAC-SHA256 signature senders put in
// X-Webhook-Signature.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
