// Package services – Dispatcher
//
// This file implements webhook fan-out. Every message and status in a
// delivery batch is recorded in the event store and, for processable
// messages, handed to the conversation pipeline. Recording and processing
// run as independent tasks, all concurrently, and failures are isolated:
// one failing task never aborts its siblings, and Wait reports the first
// error after all of them finish.
package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/webhook"
)

// Dispatcher fans one webhook delivery out to the event store and the
// conversation pipeline.
type Dispatcher struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Conversations handles processable messages.
	Conversations *ConversationService
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(db *gorm.DB, conv *ConversationService) *Dispatcher {
	return &Dispatcher{DB: db, Conversations: conv}
}

// Dispatch records and processes every event in the delivery. All events run
// concurrently; the returned error is the first failure observed, after
// every event has finished.
func (d *Dispatcher) Dispatch(ctx context.Context, p webhook.Payload) error {
	msgs := p.Messages()
	statuses := p.Statuses()

	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.Int("messages", len(msgs)),
			attribute.Int("statuses", len(statuses)),
		),
	)
	defer span.End()

	// Deliberately not errgroup.WithContext: a failing sibling must not
	// cancel the others mid-flight.
	var g errgroup.Group
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error { return d.recordMessage(ctx, msg) })
		if _, ok := turnKind(msg.Type); !ok {
			log.Debug().Str("type", string(msg.Type)).Str("id", msg.ID).Msg("recording unsupported message type without processing")
			continue
		}
		g.Go(func() error { return d.Conversations.Handle(ctx, msg) })
	}
	for _, st := range statuses {
		st := st
		g.Go(func() error { return d.status(ctx, st) })
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("webhook dispatch finished with errors")
		return err
	}
	return nil
}

// recordMessage writes the audit row for one inbound message. It runs as a
// sibling of the conversation pipeline: a broken audit trail must not
// swallow the turn, and vice versa.
func (d *Dispatcher) recordMessage(ctx context.Context, msg webhook.Message) error {
	ev := &domain.EventRecord{
		Kind:       domain.EventMessage,
		PlatformID: msg.ID,
		Sender:     msg.From,
		Timestamp:  msg.Timestamp.Time,
		Payload:    msg.Raw(),
	}
	if _, err := repo.SaveEvent(ctx, d.DB, ev); err != nil {
		return fmt.Errorf("record message %s: %w", msg.ID, err)
	}
	webhookEvents.WithLabelValues(string(domain.EventMessage)).Inc()
	return nil
}

// status records one delivery status update. Statuses carry no work beyond
// the audit row.
func (d *Dispatcher) status(ctx context.Context, st webhook.Status) error {
	ev := &domain.EventRecord{
		Kind:       domain.EventStatus,
		PlatformID: st.ID,
		Sender:     st.RecipientID,
		Timestamp:  st.Timestamp.Time,
		Payload:    st.Raw(),
	}
	if _, err := repo.SaveEvent(ctx, d.DB, ev); err != nil {
		return fmt.Errorf("record status %s: %w", st.ID, err)
	}
	webhookEvents.WithLabelValues(string(domain.EventStatus)).Inc()
	return nil
}
