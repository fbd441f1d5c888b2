// Package whats implements the WhatsApp Cloud API gateway: sending replies
// and reactions, downloading inbound media, the webhook verify-token
// handshake, and HMAC-SHA256 signature verification of webhook deliveries.
package whats

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Graph API endpoint messages are sent through.
const DefaultBaseURL = "https://graph.facebook.com/v22.0"

// EmojiThinking is the acknowledgment reaction sent while a turn is processed.
const EmojiThinking = "\U0001f914"

// oldNumLength is the legacy Brazilian mobile number length. Numbers of this
// length predate the extra ninth digit and need it re-inserted before sending.
const oldNumLength = 12

// Client talks to the WhatsApp Cloud API on behalf of one sender id.
// The zero value is not usable; construct with New.
type Client struct {
	BaseURL     string
	AccessToken string
	SenderID    string
	VerifyToken string

	HTTP *http.Client
}

// New constructs a Client for the given credentials. An empty baseURL falls
// back to the public Graph API endpoint.
func New(baseURL, accessToken, senderID, verifyToken string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		SenderID:    senderID,
		VerifyToken: verifyToken,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
	}
}

// url joins the base URL, the sender id, and the given path segments.
func (c *Client) url(parts ...string) string {
	return strings.Join(append([]string{c.BaseURL, c.SenderID}, parts...), "/")
}

// NormalizeNumber re-inserts the literal "9" at index 4 of legacy 12-digit
// Brazilian numbers (country code + area code + 8 digits). Numbers of any
// other length pass through unchanged.
func NormalizeNumber(num string) string {
	if len(num) == oldNumLength {
		return num[:4] + "9" + num[4:]
	}
	return num
}

// Validate reports whether token matches the configured webhook verify token,
// using a constant-time comparison. A client without a verify token rejects
// everything.
func (c *Client) Validate(token string) bool {
	if c.VerifyToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.VerifyToken), []byte(token)) == 1
}

// Verify checks the X-Hub-Signature-256 header value against the HMAC-SHA256
// of the raw request body under the app secret. The "sha256=" prefix is
// optional. Comparison is constant time.
func Verify(secret, signature string, body []byte) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign computes the hex HMAC-SHA256 of body under secret, without prefix.
// Exposed for tests and for signing self-originated callbacks.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Send delivers a free-form text message to a recipient.
func (c *Client) Send(ctx context.Context, to, text string) error {
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                NormalizeNumber(to),
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": text},
	})
}

// Reply delivers a text message threaded onto the message identified by
// messageID.
func (c *Client) Reply(ctx context.Context, to, messageID, text string) error {
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                NormalizeNumber(to),
		"context":           map[string]string{"message_id": messageID},
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": text},
	})
}

// React attaches an emoji reaction to the message identified by messageID.
func (c *Client) React(ctx context.Context, to, messageID, emoji string) error {
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                NormalizeNumber(to),
		"type":              "reaction",
		"reaction":          map[string]string{"message_id": messageID, "emoji": emoji},
	})
}

// Media downloads the binary content of an uploaded media object. The Cloud
// API requires two steps: resolve the media id to a short-lived URL, then
// fetch the bytes from that URL with the same bearer token.
func (c *Client) Media(ctx context.Context, mediaID string) ([]byte, error) {
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	metaURL := strings.Join([]string{c.BaseURL, mediaID}, "/")
	if err := c.getJSON(ctx, metaURL, &meta); err != nil {
		return nil, fmt.Errorf("resolve media %s: %w", mediaID, err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("resolve media %s: empty url", mediaID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media %s: status %d", mediaID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// post sends a JSON payload to the messages endpoint and decodes failures.
func (c *Client) post(ctx context.Context, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("messages"), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("whatsapp api error")
		return fmt.Errorf("whatsapp api: status %d", resp.StatusCode)
	}
	return nil
}

// getJSON fetches url with the bearer token and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
