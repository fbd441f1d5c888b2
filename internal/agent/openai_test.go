package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/tools"
)

// completionServer fakes a chat-completions endpoint, capturing the request.
func completionServer(t *testing.T, reply string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestOpenAI_Run_TextTurn(t *testing.T) {
	srv, captured := completionServer(t, "  hello there  ")
	a := NewOpenAI(srv.URL, "key", "test-model", nil)

	state := &tools.State{Sender: "5511999999999"}
	state.Todo.Add("buy milk")

	history := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hey!"},
	}

	res, err := a.Run(context.Background(), Prompt{Text: "what's on my list?"}, history, state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "hello there" {
		t.Errorf("reply = %q, want trimmed", res.Reply)
	}
	if len(res.Delta) != 2 || res.Delta[0].Role != RoleUser || res.Delta[1].Role != RoleAssistant {
		t.Fatalf("delta = %+v", res.Delta)
	}
	if res.Delta[1].Content != "hello there" {
		t.Errorf("assistant delta = %q", res.Delta[1].Content)
	}

	req := *captured
	if req["model"] != "test-model" {
		t.Errorf("model = %v", req["model"])
	}
	msgs, _ := req["messages"].([]any)
	// system + 2 history + user
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	sys, _ := msgs[0].(map[string]any)
	sysContent, _ := sys["content"].(string)
	if sys["role"] != "system" || !strings.Contains(sysContent, "buy milk") {
		t.Errorf("system prompt missing tool state: %v", sys)
	}
	last, _ := msgs[3].(map[string]any)
	if last["role"] != "user" || last["content"] != "what's on my list?" {
		t.Errorf("user message = %v", last)
	}
}

func TestOpenAI_Run_MediaTurn(t *testing.T) {
	srv, captured := completionServer(t, "nice photo")
	a := NewOpenAI(srv.URL, "key", "test-model", nil)

	prompt := Prompt{Attachments: []Attachment{
		{Kind: AttachmentImage, URL: "https://blob.example/img.jpeg", Caption: "look at this"},
	}}
	res, err := a.Run(context.Background(), prompt, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs, _ := (*captured)["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want system+user", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	parts, ok := user["content"].([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("user content parts = %v", user["content"])
	}
	img, _ := parts[0].(map[string]any)
	if img["type"] != "image_url" {
		t.Errorf("part 0 = %v", img)
	}
	urlObj, _ := img["image_url"].(map[string]any)
	if urlObj["url"] != "https://blob.example/img.jpeg" {
		t.Errorf("image url = %v", urlObj["url"])
	}

	// delta keeps a text rendering of the media prompt
	if !strings.Contains(res.Delta[0].Content, "img.jpeg") || !strings.Contains(res.Delta[0].Content, "look at this") {
		t.Errorf("user delta = %q", res.Delta[0].Content)
	}
}

// fakeJobs records cron tool traffic.
type fakeJobs struct {
	created []string
	deleted []int
	nextIdx int
}

func (f *fakeJobs) Create(_ context.Context, ownerID, schedule string, payload json.RawMessage, oneShot bool) (*domain.ScheduledJob, error) {
	f.nextIdx++
	f.created = append(f.created, schedule)
	return &domain.ScheduledJob{OwnerID: ownerID, Idx: f.nextIdx, Schedule: schedule, Payload: payload, OneShot: oneShot}, nil
}

func (f *fakeJobs) Delete(_ context.Context, _ string, idx int) error {
	f.deleted = append(f.deleted, idx)
	return nil
}

func TestOpenAI_Run_ToolLoop(t *testing.T) {
	jobs := &fakeJobs{}
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests = append(requests, req)
		if len(requests) == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]any{
					"content": "",
					"tool_calls": []map[string]any{
						{"id": "call_1", "type": "function", "function": map[string]any{
							"name": "add_todo", "arguments": `{"text":"buy milk"}`}},
						{"id": "call_2", "type": "function", "function": map[string]any{
							"name": "create_cron_job", "arguments": `{"name":"reminder","description":"daily nudge","schedule":"0 9 * * *","message":"drink water"}`}},
					},
				}}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "all set"}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	a := NewOpenAI(srv.URL, "key", "test-model", jobs)
	state := &tools.State{Sender: "5511999990000"}

	res, err := a.Run(context.Background(), Prompt{Text: "remind me to drink water every morning"}, nil, state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "all set" {
		t.Errorf("reply = %q", res.Reply)
	}
	if len(requests) != 2 {
		t.Fatalf("completions = %d, want 2", len(requests))
	}

	// first request advertises the tools
	if tls, _ := requests[0]["tools"].([]any); len(tls) == 0 {
		t.Error("first request carried no tools")
	}

	// calls landed on the state and the job store
	if len(state.Todo.Items) != 1 || state.Todo.Items[0].Text != "buy milk" {
		t.Errorf("todo items = %+v", state.Todo.Items)
	}
	if len(jobs.created) != 1 || jobs.created[0] != "0 9 * * *" {
		t.Errorf("jobs created = %v", jobs.created)
	}
	if len(state.Cron.Items) != 1 || state.Cron.Items[0].Index != 1 || state.Cron.Items[0].Name != "reminder" {
		t.Errorf("cron entries = %+v", state.Cron.Items)
	}

	// second request replays the assistant's calls plus one tool result each
	msgs, _ := requests[1]["messages"].([]any)
	var toolIDs []string
	for _, m := range msgs {
		mm, _ := m.(map[string]any)
		if mm["role"] == RoleTool {
			id, _ := mm["tool_call_id"].(string)
			toolIDs = append(toolIDs, id)
		}
	}
	if len(toolIDs) != 2 || toolIDs[0] != "call_1" || toolIDs[1] != "call_2" {
		t.Errorf("tool result ids = %v", toolIDs)
	}
}

func TestOpenAI_Run_ToolErrorFedBack(t *testing.T) {
	var requests int
	var toolResult string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if requests == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]any{
					"tool_calls": []map[string]any{
						{"id": "call_1", "type": "function", "function": map[string]any{
							"name": "create_cron_job", "arguments": `{"name":"x","schedule":"* * * * *","message":"hi"}`}},
					},
				}}},
			})
			return
		}
		for _, m := range req.Messages {
			if m.Role == RoleTool {
				toolResult = m.Content
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "sorry, scheduling failed"}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	// nil job store: the cron tool reports failure instead of killing the turn
	a := NewOpenAI(srv.URL, "key", "test-model", nil)
	state := &tools.State{Sender: "5511999990000"}
	res, err := a.Run(context.Background(), Prompt{Text: "schedule something"}, nil, state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "sorry, scheduling failed" {
		t.Errorf("reply = %q", res.Reply)
	}
	if !strings.Contains(toolResult, "error:") {
		t.Errorf("tool result = %q, want error text", toolResult)
	}
	if len(state.Cron.Items) != 0 {
		t.Errorf("cron entries = %+v", state.Cron.Items)
	}
}

func TestOpenAI_Run_APIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	t.Cleanup(srv.Close)

	a := NewOpenAI(srv.URL, "key", "m", nil)
	_, err := a.Run(context.Background(), Prompt{Text: "hi"}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want rate limited", err)
	}
}
