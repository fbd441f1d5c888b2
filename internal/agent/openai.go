package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-wa-backend/internal/tools"
)

// OpenAI implements Agent against an OpenAI-compatible chat-completions
// endpoint. The client is stateless; all per-turn inputs arrive as arguments.
type OpenAI struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client

	// Jobs backs the cron tools. Nil disables them.
	Jobs Jobs
}

// maxToolRounds bounds the tool loop within one turn.
const maxToolRounds = 4

// NewOpenAI constructs a client. An empty baseURL targets api.openai.com.
func NewOpenAI(baseURL, apiKey, model string, jobs Jobs) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAI{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		HTTP:    &http.Client{Timeout: 90 * time.Second},
		Jobs:    jobs,
	}
}

// chatMessage is the wire shape of one request message. Content is either a
// plain string or a list of content parts (for media prompts).
type chatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []toolDef     `json:"tools,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Run performs one conversation turn: system prompt (formatting rules plus
// the sender's tool state), replayed history, then the new user prompt. When
// the model asks for tool calls they are executed against the sender's tool
// state and their results fed back, up to maxToolRounds completions, before
// the final text reply. The returned delta holds the user message and the
// assistant reply, ready to be attached to the turn.
func (o *OpenAI) Run(ctx context.Context, prompt Prompt, history []Message, state *tools.State) (Result, error) {
	msgs := make([]chatMessage, 0, len(history)+2)
	msgs = append(msgs, chatMessage{Role: RoleSystem, Content: systemPrompt(state)})
	for _, h := range history {
		msgs = append(msgs, chatMessage{Role: h.Role, Content: h.Content})
	}
	userMsg, userText := buildUserMessage(prompt)
	msgs = append(msgs, userMsg)

	defs := toolDefs(o.Jobs != nil)

	var reply string
	var toolCalls int
	for round := 0; ; round++ {
		msg, err := o.complete(ctx, chatCompletionRequest{Model: o.Model, Messages: msgs, Tools: defs})
		if err != nil {
			return Result{}, err
		}
		if len(msg.ToolCalls) == 0 || round == maxToolRounds-1 {
			reply = strings.TrimSpace(msg.Content)
			break
		}

		msgs = append(msgs, chatMessage{Role: RoleAssistant, Content: msg.Content, ToolCalls: msg.ToolCalls})
		for _, call := range msg.ToolCalls {
			toolCalls++
			result := execTool(ctx, o.Jobs, state, call)
			log.Debug().
				Str("sender", senderOf(state)).
				Str("tool", call.Function.Name).
				Str("result", result).
				Msg("tool call")
			msgs = append(msgs, chatMessage{Role: RoleTool, Content: result, ToolCallID: call.ID})
		}
	}

	log.Debug().
		Str("sender", senderOf(state)).
		Int("history", len(history)).
		Int("tool_calls", toolCalls).
		Msg("agent turn complete")

	return Result{
		Reply: reply,
		Delta: []Message{
			{Role: RoleUser, Content: userText},
			{Role: RoleAssistant, Content: reply},
		},
	}, nil
}

// chatMessageOut is the assistant message of one completion.
type chatMessageOut struct {
	Content   string
	ToolCalls []toolCall
}

// complete performs one chat-completions request.
func (o *OpenAI) complete(ctx context.Context, reqBody chatCompletionRequest) (chatMessageOut, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return chatMessageOut{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return chatMessageOut{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.APIKey)
	}

	resp, err := o.HTTP.Do(req)
	if err != nil {
		return chatMessageOut{}, fmt.Errorf("agent: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return chatMessageOut{}, fmt.Errorf("agent: read response: %w", err)
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return chatMessageOut{}, fmt.Errorf("agent: decode response (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return chatMessageOut{}, fmt.Errorf("agent: %s: %s", out.Error.Type, out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK || len(out.Choices) == 0 {
		return chatMessageOut{}, fmt.Errorf("agent: status %d with %d choices", resp.StatusCode, len(out.Choices))
	}

	return chatMessageOut{
		Content:   out.Choices[0].Message.Content,
		ToolCalls: out.Choices[0].Message.ToolCalls,
	}, nil
}

// buildUserMessage converts a Prompt into the wire message and the plain-text
// rendering stored in the history delta.
func buildUserMessage(p Prompt) (chatMessage, string) {
	if len(p.Attachments) == 0 {
		return chatMessage{Role: RoleUser, Content: p.Text}, p.Text
	}

	parts := make([]contentPart, 0, len(p.Attachments)+1)
	var textParts []string
	for _, a := range p.Attachments {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: a.URL}})
		textParts = append(textParts, fmt.Sprintf("[%s] %s", a.Kind, a.URL))
		if a.Caption != "" {
			parts = append(parts, contentPart{Type: "text", Text: a.Caption})
			textParts = append(textParts, a.Caption)
		}
	}
	if p.Text != "" {
		parts = append(parts, contentPart{Type: "text", Text: p.Text})
		textParts = append(textParts, p.Text)
	}
	return chatMessage{Role: RoleUser, Content: parts}, strings.Join(textParts, "\n")
}

// systemPrompt renders the standing instructions plus the sender's tool state.
// WhatsApp renders a limited set of inline tags, so the model is told to use
// only those.
func systemPrompt(state *tools.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	b.WriteString("You are a personal assistant chatting over WhatsApp.\n")
	b.WriteString("You help with todo lists, reminders, and questions about shared media.\n\n")
	b.WriteString("DO NOT RETURN MARKDOWN, ONLY TEXT.\n")
	b.WriteString("You may format text using ONLY these tags:\n")
	b.WriteString("- *TEXT* for bold\n- _TEXT_ for italic\n- ~TEXT~ for strikethrough\n")

	if state != nil {
		if rendered := state.RenderPrompt(); rendered != "" {
			b.WriteString("\n")
			b.WriteString(rendered)
		}
	}
	return b.String()
}

func senderOf(state *tools.State) string {
	if state == nil {
		return ""
	}
	return state.Sender
}
