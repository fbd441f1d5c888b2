// Package handlers – webhook endpoints
//
// This file implements the two faces of the webhook URL:
//
//   - GET  /webhook: the platform's subscription handshake. The challenge is
//     echoed back verbatim only when hub.mode is "subscribe" and the verify
//     token matches (constant-time compare).
//   - POST /webhook: delivery ingestion. The signature middleware has already
//     authenticated the raw body; the handler decodes it, fans the events out
//     through the dispatcher, and acknowledges with {"success": true}. The
//     acknowledgment is sent regardless of per-event processing failures so
//     the platform does not redeliver events the pipeline already recorded.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-backend/internal/webhook"
)

// TokenValidator checks the hub.verify_token of the subscription handshake.
type TokenValidator interface {
	Validate(token string) bool
}

// WebhookHandler serves the webhook verification and receiving endpoints.
type WebhookHandler struct {
	Tokens   TokenValidator
	Dispatch func(ctx context.Context, p webhook.Payload) error
}

// Subscribe handles the GET verification handshake.
//
// Query parameters:
//   - hub.mode:         must be "subscribe"
//   - hub.verify_token: must match the configured token
//   - hub.challenge:    echoed back verbatim on success
func (h *WebhookHandler) Subscribe(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || !h.Tokens.Validate(token) {
		middleware.LoggerFrom(c).Warn().Str("mode", mode).Msg("webhook verification rejected")
		fail(c, http.StatusForbidden, ErrCodeForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, "%s", challenge)
}

// Receive handles POSTed deliveries. The body has been verified and buffered
// by the signature middleware.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body := middleware.RawBody(c)
	if body == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing body")
		return
	}

	var payload webhook.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("undecodable webhook delivery")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed payload")
		return
	}

	if err := h.Dispatch(c.Request.Context(), payload); err != nil {
		// Events are already recorded; redelivery would only duplicate work.
		middleware.LoggerFrom(c).Error().Err(err).Msg("dispatch completed with errors")
	}
	ok(c, http.StatusOK, gin.H{"success": true})
}
