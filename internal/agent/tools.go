package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/tools"
)

// Jobs is the slice of the job store the cron tools need. *services.JobService
// satisfies it. A nil Jobs disables the cron tools but keeps the rest.
type Jobs interface {
	Create(ctx context.Context, ownerID, schedule string, payload json.RawMessage, oneShot bool) (*domain.ScheduledJob, error)
	Delete(ctx context.Context, ownerID string, idx int) error
}

// toolDef advertises one callable function to the model.
type toolDef struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// toolCall is one function invocation the model asked for.
type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func fn(name, description, parameters string) toolDef {
	return toolDef{
		Type: "function",
		Function: toolFunction{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(parameters),
		},
	}
}

// toolDefs lists the tools offered on a turn. The cron pair needs a job
// store behind it, so it is withheld when none is wired.
func toolDefs(haveJobs bool) []toolDef {
	defs := []toolDef{
		fn("add_todo", "Add an item to the sender's todo list.",
			`{"type":"object","properties":{"text":{"type":"string","description":"The todo item text."}},"required":["text"]}`),
		fn("complete_todo", "Mark a todo item as done by its index.",
			`{"type":"object","properties":{"index":{"type":"integer","description":"Index of the item to complete."}},"required":["index"]}`),
		fn("append_log", "Append a timestamped entry to the sender's logbook.",
			`{"type":"object","properties":{"message":{"type":"string","description":"The entry text."}},"required":["message"]}`),
		fn("clear_log", "Erase the sender's logbook.",
			`{"type":"object","properties":{}}`),
	}
	if haveJobs {
		defs = append(defs,
			fn("create_cron_job", "Schedule a recurring message to the sender. The schedule is a standard five-field cron expression.",
				`{"type":"object","properties":{"name":{"type":"string","description":"Short job name."},"description":{"type":"string","description":"What the job is for."},"schedule":{"type":"string","description":"Cron expression, e.g. \"0 9 * * *\"."},"message":{"type":"string","description":"Text delivered on each run."}},"required":["name","schedule","message"]}`),
			fn("delete_cron_job", "Remove a scheduled job by its index.",
				`{"type":"object","properties":{"index":{"type":"integer","description":"Index of the job to remove."}},"required":["index"]}`),
		)
	}
	return defs
}

// execTool dispatches one model-requested call against the sender's tool
// state. Failures come back as the tool result text so the model can react
// instead of the turn dying.
func execTool(ctx context.Context, jobs Jobs, state *tools.State, call toolCall) string {
	out, err := runTool(ctx, jobs, state, call)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return out
}

func runTool(ctx context.Context, jobs Jobs, state *tools.State, call toolCall) (string, error) {
	args := []byte(call.Function.Arguments)
	if len(args) == 0 {
		args = []byte("{}")
	}

	switch call.Function.Name {
	case "add_todo":
		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		item := state.Todo.Add(in.Text)
		return fmt.Sprintf("added todo %d: %s", item.Index, item.Text), nil

	case "complete_todo":
		var in struct {
			Index int `json:"index"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		state.Todo.Complete(in.Index)
		return fmt.Sprintf("completed todo %d", in.Index), nil

	case "append_log":
		var in struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		state.Log.Append(in.Message)
		return "logged", nil

	case "clear_log":
		state.Log.Clear()
		return "logbook cleared", nil

	case "create_cron_job":
		if jobs == nil {
			return "", fmt.Errorf("scheduling is not available")
		}
		var in struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Schedule    string `json:"schedule"`
			Message     string `json:"message"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		payload, err := json.Marshal(map[string]string{"to": state.Sender, "message": in.Message})
		if err != nil {
			return "", err
		}
		job, err := jobs.Create(ctx, state.Sender, in.Schedule, payload, false)
		if err != nil {
			return "", err
		}
		state.Cron.Add(job.Idx, in.Name, in.Description, in.Schedule)
		return fmt.Sprintf("scheduled job %d (%s)", job.Idx, in.Schedule), nil

	case "delete_cron_job":
		if jobs == nil {
			return "", fmt.Errorf("scheduling is not available")
		}
		var in struct {
			Index int `json:"index"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		if err := jobs.Delete(ctx, state.Sender, in.Index); err != nil {
			return "", err
		}
		state.Cron.Remove(in.Index)
		return fmt.Sprintf("deleted job %d", in.Index), nil
	}

	return "", fmt.Errorf("unknown tool %q", call.Function.Name)
}
