package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/whats"
)

const (
	// signatureHeader carries the HMAC of the delivery body.
	signatureHeader = "X-Hub-Signature-256"
	// rawBodyKey is the Gin context key for the verified raw body.
	rawBodyKey = "rawBody"
	// maxWebhookBody caps how much of a delivery is read for verification.
	maxWebhookBody = 1 << 20
)

// VerifySignature authenticates webhook deliveries. It reads the raw request
// body, checks its HMAC-SHA256 against the X-Hub-Signature-256 header under
// secret, and stores the verified bytes in the context so the handler binds
// against exactly what was signed. Requests that fail verification are
// rejected with 403 before any handler runs.
//
// An empty secret disables verification (local development); the body is
// still buffered so handlers read it the same way in both modes.
func VerifySignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_request",
				"message":    "unreadable body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if secret != "" {
			sig := c.GetHeader(signatureHeader)
			if !whats.Verify(secret, sig, body) {
				LoggerFrom(c).Warn().Str("signature", sig).Msg("webhook signature rejected")
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"request_id": c.Writer.Header().Get(requestIDHeader),
					"code":       "forbidden",
					"message":    "invalid signature",
				})
				return
			}
		}

		c.Set(rawBodyKey, body)
		c.Next()
	}
}

// RawBody returns the verified body stored by VerifySignature, or nil when
// the middleware did not run.
func RawBody(c *gin.Context) []byte {
	if v, ok := c.Get(rawBodyKey); ok {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}
