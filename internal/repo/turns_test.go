package repo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

func mkTurn(sender string, ts time.Time, kind domain.TurnKind, id string) *domain.ConversationTurn {
	return &domain.ConversationTurn{
		Sender:    sender,
		Timestamp: ts,
		Kind:      kind,
		MessageID: id,
		Payload:   json.RawMessage(`{"type":"` + string(kind) + `"}`),
	}
}

func TestCreateTurn_Idempotent(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	created, err := CreateTurn(ctx, db, mkTurn("5511999990000", ts, domain.TurnText, "wamid.1"))
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}

	// Redelivery of the same event hits the same key and is dropped.
	created, err = CreateTurn(ctx, db, mkTurn("5511999990000", ts, domain.TurnText, "wamid.1"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if created {
		t.Fatal("redelivery must not create a second row")
	}

	n, err := CountTurns(ctx, db, "5511999990000")
	if err != nil || n != 1 {
		t.Fatalf("count = %d, err=%v, want 1", n, err)
	}
}

func TestCreateTurn_SameTimestampDifferentKind(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, kind := range []domain.TurnKind{domain.TurnText, domain.TurnImage} {
		created, err := CreateTurn(ctx, db, mkTurn("s1", ts, kind, "wamid."+string(kind)))
		if err != nil || !created {
			t.Fatalf("kind %s: created=%v err=%v", kind, created, err)
		}
	}
	n, _ := CountTurns(ctx, db, "s1")
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestAttachDelta(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := CreateTurn(ctx, db, mkTurn("s1", ts, domain.TurnText, "wamid.1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	delta := json.RawMessage(`[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`)
	if err := AttachDelta(ctx, db, "s1", ts, domain.TurnText, delta); err != nil {
		t.Fatalf("attach: %v", err)
	}

	turns, err := LatestTurns(ctx, db, "s1", 10)
	if err != nil || len(turns) != 1 {
		t.Fatalf("latest: %d turns, err=%v", len(turns), err)
	}
	if string(turns[0].Delta) != string(delta) {
		t.Fatalf("delta = %s", turns[0].Delta)
	}
}

func TestLatestTurns_NewestFirstAndLimit(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 15; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		if _, err := CreateTurn(ctx, db, mkTurn("s1", ts, domain.TurnText, "wamid."+ts.Format("150405"))); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	// A different sender must not leak into the result.
	if _, err := CreateTurn(ctx, db, mkTurn("s2", base, domain.TurnText, "wamid.other")); err != nil {
		t.Fatalf("create other: %v", err)
	}

	turns, err := LatestTurns(ctx, db, "s1", 10)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(turns) != 10 {
		t.Fatalf("len = %d, want 10", len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if !turns[i-1].Timestamp.After(turns[i].Timestamp) {
			t.Fatalf("turns not newest first at %d", i)
		}
	}
	if !turns[0].Timestamp.Equal(base.Add(14 * time.Minute)) {
		t.Fatalf("head = %v", turns[0].Timestamp)
	}
}

func TestListTurnsPage(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		if _, err := CreateTurn(ctx, db, mkTurn("s1", ts, domain.TurnText, "wamid.x")); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	page, total, err := ListTurnsPage(ctx, db, "s1", 2, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("total=%d len=%d, want 5/2", total, len(page))
	}
	// Page 2 of a newest-first listing holds hours 2 and 1.
	if !page[0].Timestamp.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("page head = %v", page[0].Timestamp)
	}

	// Out-of-range parameters fall back to defaults.
	page, total, err = ListTurnsPage(ctx, db, "s1", 0, 0)
	if err != nil || total != 5 || len(page) != 5 {
		t.Fatalf("defaults: total=%d len=%d err=%v", total, len(page), err)
	}
}
