// Package agent defines the conversation agent consumed by the message
// handlers: an opaque capability that takes a prompt, the conversation
// history, and the sender's tool state, and returns a reply plus the new
// history delta. The OpenAI-backed implementation lives in openai.go.
package agent

import (
	"context"

	"github.com/tbourn/go-wa-backend/internal/tools"
)

// Roles of agent-protocol messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one agent-protocol message. Turns persist slices of these as
// their history delta; history replay feeds them back verbatim.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AttachmentKind tags prompt attachments by how the model should read them.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is a retrieval URL handed to the model alongside the prompt.
type Attachment struct {
	Kind    AttachmentKind
	URL     string
	Caption string
}

// Prompt is the user-visible input of one turn: plain text, or one media
// attachment with an optional caption.
type Prompt struct {
	Text        string
	Attachments []Attachment
}

// Result is the outcome of one agent invocation.
type Result struct {
	// Reply is the text sent back to the sender.
	Reply string
	// Delta is the set of new agent-protocol messages this invocation
	// produced, appended to the turn as its history delta.
	Delta []Message
}

// Agent runs one conversation turn. Implementations must be safe for
// concurrent use; one process-wide instance serves all senders.
type Agent interface {
	Run(ctx context.Context, prompt Prompt, history []Message, state *tools.State) (Result, error)
}
