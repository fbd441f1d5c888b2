// Package webhook models the inbound WhatsApp Cloud API webhook payload:
// the entry/change/value envelope, the closed set of message variants, and
// delivery status updates. Decoding never fails a whole batch on an
// unrecognized message type; such messages are tagged Unknown and carried
// through with their raw payload intact.
package webhook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// MessageType tags the closed set of inbound message variants.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeDocument MessageType = "document"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeSticker  MessageType = "sticker"
	TypeLocation MessageType = "location"
	TypeUnknown  MessageType = "unknown"
)

// known reports whether t is a member of the closed variant set.
func (t MessageType) known() bool {
	switch t {
	case TypeText, TypeImage, TypeDocument, TypeAudio, TypeVideo, TypeSticker, TypeLocation:
		return true
	}
	return false
}

// UnixTime decodes the platform's timestamp representations: unix seconds as
// a JSON string (the Cloud API wire format), unix seconds as a number, or an
// RFC 3339 string. The zero value means "not provided".
type UnixTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *UnixTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			u.Time = time.Unix(secs, 0).UTC()
			return nil
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
		u.Time = ts.UTC()
		return nil
	}
	var secs int64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	u.Time = time.Unix(secs, 0).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler, writing unix seconds as a string.
func (u UnixTime) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(strconv.FormatInt(u.Unix(), 10))
}

// TextBody is the payload of a text message.
type TextBody struct {
	Body string `json:"body"`
}

// MediaBody is the shared payload of image, document, audio, video, and
// sticker messages. MimeType carries the declared content type whose subtype
// names the stored object's extension.
type MediaBody struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// LocationBody is the payload of a location message.
type LocationBody struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Message is one inbound message event. Exactly one of the payload pointers
// matching Type is set; everything else is nil. Unrecognized wire types
// decode with Type == TypeUnknown and no payload.
type Message struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp UnixTime    `json:"timestamp"`
	Type      MessageType `json:"type"`

	Text     *TextBody     `json:"text,omitempty"`
	Image    *MediaBody    `json:"image,omitempty"`
	Document *MediaBody    `json:"document,omitempty"`
	Audio    *MediaBody    `json:"audio,omitempty"`
	Video    *MediaBody    `json:"video,omitempty"`
	Sticker  *MediaBody    `json:"sticker,omitempty"`
	Location *LocationBody `json:"location,omitempty"`

	raw json.RawMessage
}

// message mirrors Message field-for-field to break UnmarshalJSON recursion.
type message Message

// UnmarshalJSON decodes a message, preserves the verbatim payload for audit
// storage, and collapses any type outside the closed set to TypeUnknown.
func (m *Message) UnmarshalJSON(b []byte) error {
	var alias message
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	*m = Message(alias)
	if !m.Type.known() {
		m.Type = TypeUnknown
	}
	m.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Raw returns the verbatim JSON this message was decoded from.
func (m Message) Raw() json.RawMessage {
	if m.raw != nil {
		return m.raw
	}
	b, _ := json.Marshal(message(m))
	return b
}

// Media returns the media payload for image/document/audio/video/sticker
// messages, nil for everything else.
func (m Message) Media() *MediaBody {
	switch m.Type {
	case TypeImage:
		return m.Image
	case TypeDocument:
		return m.Document
	case TypeAudio:
		return m.Audio
	case TypeVideo:
		return m.Video
	case TypeSticker:
		return m.Sticker
	}
	return nil
}

// Status is a delivery status update for a previously sent message.
type Status struct {
	ID          string   `json:"id"`
	RecipientID string   `json:"recipient_id"`
	Status      string   `json:"status"` // sent | delivered | read
	Timestamp   UnixTime `json:"timestamp"`

	raw json.RawMessage
}

type status Status

// UnmarshalJSON decodes a status update and preserves its verbatim payload.
func (s *Status) UnmarshalJSON(b []byte) error {
	var alias status
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	*s = Status(alias)
	s.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Raw returns the verbatim JSON this status was decoded from.
func (s Status) Raw() json.RawMessage {
	if s.raw != nil {
		return s.raw
	}
	b, _ := json.Marshal(status(s))
	return b
}

// Metadata identifies the receiving business phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Value is the payload of one change: zero or more messages and statuses.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Change is one field change within an entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Entry is one webhook entry; a batch may carry several.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Payload is the decoded webhook POST body.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Messages flattens every message event across all entries and changes,
// in delivery order.
func (p Payload) Messages() []Message {
	var out []Message
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			out = append(out, c.Value.Messages...)
		}
	}
	return out
}

// Statuses flattens every status event across all entries and changes,
// in delivery order.
func (p Payload) Statuses() []Status {
	var out []Status
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			out = append(out, c.Value.Statuses...)
		}
	}
	return out
}
