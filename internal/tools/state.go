// Package tools holds the per-sender auxiliary state the conversation agent
// works with: a todo list, a logbook, and the list of cron jobs the sender
// has registered. Each collection serializes to one opaque JSON blob in the
// tool_state table, keyed by (sender, kind).
package tools

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kinds of tool state, used as the storage discriminator.
const (
	KindTodo = "todo"
	KindLog  = "log"
	KindCron = "cron"
)

// TodoItem is one entry of a sender's todo list.
type TodoItem struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Done  bool   `json:"done"`
}

// TodoList is a sender's ordered todo list.
type TodoList struct {
	Items []TodoItem `json:"items"`
}

// Add appends a new open item and returns it.
func (l *TodoList) Add(text string) TodoItem {
	item := TodoItem{Index: len(l.Items), Text: text}
	l.Items = append(l.Items, item)
	return item
}

// Complete marks the item at index done. Unknown indexes are ignored.
func (l *TodoList) Complete(index int) {
	for i := range l.Items {
		if l.Items[i].Index == index {
			l.Items[i].Done = true
			return
		}
	}
}

// LogEntry is one timestamped logbook line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Logbook is a sender's append-only journal.
type Logbook struct {
	Items []LogEntry `json:"items"`
}

// Append records a new entry stamped with now and returns it.
func (b *Logbook) Append(message string) LogEntry {
	e := LogEntry{Timestamp: time.Now().UTC(), Message: message}
	b.Items = append(b.Items, e)
	return e
}

// Recent returns up to limit entries, newest first.
func (b *Logbook) Recent(limit int) []LogEntry {
	out := append([]LogEntry(nil), b.Items...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Clear drops every entry.
func (b *Logbook) Clear() {
	b.Items = nil
}

// CronEntry mirrors one scheduled job the sender registered, kept in tool
// state so the agent can enumerate jobs without scanning the job table.
type CronEntry struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Schedule    string `json:"schedule"`
}

// CronList is a sender's registered cron jobs.
type CronList struct {
	Items []CronEntry `json:"items"`
}

// Add appends a new entry and returns it. The index comes from the job store
// so the entry and the scheduled job share the same range key.
func (l *CronList) Add(index int, name, description, schedule string) CronEntry {
	e := CronEntry{Index: index, Name: name, Description: description, Schedule: schedule}
	l.Items = append(l.Items, e)
	return e
}

// Remove drops the entry with the given index. Unknown indexes are ignored.
func (l *CronList) Remove(index int) {
	for i := range l.Items {
		if l.Items[i].Index == index {
			l.Items = append(l.Items[:i], l.Items[i+1:]...)
			return
		}
	}
}

// State bundles every tool collection for one sender, as handed to the agent
// for a single turn.
type State struct {
	Sender string
	Todo   TodoList
	Log    Logbook
	Cron   CronList
}

// RenderPrompt produces the compact textual summary of the tool state that
// is injected into the agent's system prompt.
func (s *State) RenderPrompt() string {
	var b strings.Builder

	if len(s.Todo.Items) > 0 {
		b.WriteString("Todo list:\n")
		for _, item := range s.Todo.Items {
			mark := " "
			if item.Done {
				mark = "x"
			}
			fmt.Fprintf(&b, "- [%s] %d: %s\n", mark, item.Index, item.Text)
		}
	}

	if entries := s.Log.Recent(10); len(entries) > 0 {
		b.WriteString("Recent logbook entries (newest first):\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s: %s\n", e.Timestamp.Format(time.RFC3339), e.Message)
		}
	}

	if len(s.Cron.Items) > 0 {
		b.WriteString("Scheduled jobs:\n")
		for _, e := range s.Cron.Items {
			fmt.Fprintf(&b, "- %d: %s (%s) schedule=%q\n", e.Index, e.Name, e.Description, e.Schedule)
		}
	}

	return b.String()
}
