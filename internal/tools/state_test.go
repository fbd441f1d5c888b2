package tools

import (
	"strings"
	"testing"
	"time"
)

func TestTodoList_AddAndComplete(t *testing.T) {
	var l TodoList
	a := l.Add("buy milk")
	b := l.Add("walk dog")
	if a.Index != 0 || b.Index != 1 {
		t.Fatalf("indexes = %d, %d", a.Index, b.Index)
	}

	l.Complete(1)
	if l.Items[1].Done != true || l.Items[0].Done != false {
		t.Errorf("complete toggled wrong item: %+v", l.Items)
	}
	l.Complete(99) // unknown index is a no-op
	if len(l.Items) != 2 {
		t.Errorf("items mutated: %+v", l.Items)
	}
}

func TestLogbook_RecentNewestFirst(t *testing.T) {
	var b Logbook
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// insert out of order
	b.Items = []LogEntry{
		{Timestamp: base.Add(time.Minute), Message: "second"},
		{Timestamp: base, Message: "first"},
		{Timestamp: base.Add(2 * time.Minute), Message: "third"},
	}

	got := b.Recent(2)
	if len(got) != 2 {
		t.Fatalf("Recent(2) = %d entries", len(got))
	}
	if got[0].Message != "third" || got[1].Message != "second" {
		t.Errorf("order = %q, %q", got[0].Message, got[1].Message)
	}

	b.Clear()
	if len(b.Recent(10)) != 0 {
		t.Error("Clear left entries behind")
	}
}

func TestCronList_AddAndRemove(t *testing.T) {
	var l CronList
	l.Add(1, "reminder", "daily nudge", "0 9 * * *")
	l.Add(2, "report", "weekly digest", "0 8 * * 1")

	l.Remove(1)
	if len(l.Items) != 1 || l.Items[0].Index != 2 {
		t.Fatalf("remove left %+v", l.Items)
	}
	l.Remove(99) // unknown index is a no-op
	if len(l.Items) != 1 {
		t.Errorf("items mutated: %+v", l.Items)
	}
}

func TestState_RenderPrompt(t *testing.T) {
	s := &State{Sender: "5511999999999"}
	if s.RenderPrompt() != "" {
		t.Error("empty state should render nothing")
	}

	s.Todo.Add("buy milk")
	s.Log.Append("note")
	s.Cron.Add(1, "reminder", "daily nudge", "0 9 * * *")

	out := s.RenderPrompt()
	for _, want := range []string{"Todo list:", "buy milk", "logbook", "note", "Scheduled jobs:", `schedule="0 9 * * *"`} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderPrompt missing %q in:\n%s", want, out)
		}
	}
}
