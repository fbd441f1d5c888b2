// Package services – ConversationService
//
// This file implements the conversation turn pipeline: one inbound text,
// image, or document message is persisted, acknowledged with a reaction,
// enriched with history and tool state, run through the agent, and answered
// with a threaded reply. Media messages are archived to the object store and
// handed to the agent as a presigned URL.
//
// The turn degrades instead of failing: when the agent errors, the raw
// message stays persisted and no reply is sent. Only infrastructure failures
// (storage, gateway) surface as errors to the dispatcher.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/agent"
	"github.com/tbourn/go-wa-backend/internal/blob"
	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/tools"
	"github.com/tbourn/go-wa-backend/internal/webhook"
	"github.com/tbourn/go-wa-backend/internal/whats"
)

// Gateway is the messaging surface the conversation pipeline depends on.
// *whats.Client satisfies it; tests substitute fakes.
type Gateway interface {
	// Reply sends text threaded onto the message identified by messageID.
	Reply(ctx context.Context, to, messageID, text string) error

	// React attaches an emoji reaction to the message identified by messageID.
	React(ctx context.Context, to, messageID, emoji string) error

	// Media downloads the binary content of an uploaded media object.
	Media(ctx context.Context, mediaID string) ([]byte, error)
}

// ConversationService runs inbound messages through the agent pipeline.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Gateway sends replies and reactions and fetches media.
	Gateway Gateway
	// Agent produces the reply for a turn.
	Agent agent.Agent
	// Blob archives media objects. Only needed for image/document turns.
	Blob blob.Store

	// HistoryLimit caps how many past turns feed the agent.
	HistoryLimit int
}

// NewConversationService constructs a ConversationService with the default
// history window.
func NewConversationService(db *gorm.DB, gw Gateway, ag agent.Agent, store blob.Store) *ConversationService {
	return &ConversationService{
		DB:           db,
		Gateway:      gw,
		Agent:        ag,
		Blob:         store,
		HistoryLimit: 10,
	}
}

// turnKind maps a wire message type onto the persisted turn discriminator.
// The second result reports whether the type is processed at all.
func turnKind(t webhook.MessageType) (domain.TurnKind, bool) {
	switch t {
	case webhook.TypeText:
		return domain.TurnText, true
	case webhook.TypeImage:
		return domain.TurnImage, true
	case webhook.TypeDocument:
		return domain.TurnDocument, true
	}
	return "", false
}

// Handle processes one inbound message end to end. Unsupported message types
// return ErrUnsupportedType; duplicate deliveries are no-ops.
func (s *ConversationService) Handle(ctx context.Context, msg webhook.Message) error {
	kind, ok := turnKind(msg.Type)
	if !ok {
		return fmt.Errorf("%w: %q (message %s)", ErrUnsupportedType, msg.Type, msg.ID)
	}

	tr := otel.Tracer("services/Conversation")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", string(msg.Type)),
		),
	)
	defer span.End()

	turn := &domain.ConversationTurn{
		Sender:    msg.From,
		Timestamp: msg.Timestamp.Time,
		Kind:      kind,
		MessageID: msg.ID,
		Payload:   msg.Raw(),
	}
	created, err := repo.CreateTurn(ctx, s.DB, turn)
	if err != nil {
		turnsProcessed.WithLabelValues(string(kind), "store_error").Inc()
		return fmt.Errorf("persist turn %s: %w", msg.ID, err)
	}
	if !created {
		log.Info().Str("id", msg.ID).Msg("duplicate delivery, turn already stored")
		turnsProcessed.WithLabelValues(string(kind), "duplicate").Inc()
		return nil
	}

	// Acknowledge, load history, and load tool state concurrently. The
	// reaction is cosmetic but shares the turn's fate on gateway failure.
	var (
		history []agent.Message
		state   *tools.State
	)
	var g errgroup.Group
	g.Go(func() error {
		return s.Gateway.React(ctx, msg.From, msg.ID, whats.EmojiThinking)
	})
	g.Go(func() error {
		// One extra row: the current turn is already stored and gets
		// filtered out, the window still holds HistoryLimit prior turns.
		turns, err := repo.LatestTurns(ctx, s.DB, msg.From, s.HistoryLimit+1)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		history = historyFromTurns(turns, msg.ID, s.HistoryLimit)
		return nil
	})
	g.Go(func() error {
		st, err := repo.LoadToolState(ctx, s.DB, msg.From)
		if err != nil {
			return fmt.Errorf("load tool state: %w", err)
		}
		state = st
		return nil
	})
	if err := g.Wait(); err != nil {
		turnsProcessed.WithLabelValues(string(kind), "error").Inc()
		return err
	}

	prompt, err := s.buildPrompt(ctx, msg)
	if err != nil {
		turnsProcessed.WithLabelValues(string(kind), "error").Inc()
		return fmt.Errorf("build prompt for %s: %w", msg.ID, err)
	}

	start := time.Now()
	result, err := s.Agent.Run(ctx, prompt, history, state)
	agentLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		// The raw turn stays stored; the sender simply gets no reply.
		log.Warn().Err(err).Str("id", msg.ID).Msg("agent failed, keeping raw turn")
		turnsProcessed.WithLabelValues(string(kind), "agent_error").Inc()
		return nil
	}

	// Persist the delta and send the reply concurrently.
	var g2 errgroup.Group
	g2.Go(func() error {
		delta, err := json.Marshal(result.Delta)
		if err != nil {
			return err
		}
		return repo.AttachDelta(ctx, s.DB, msg.From, msg.Timestamp.Time, kind, delta)
	})
	g2.Go(func() error {
		return s.Gateway.Reply(ctx, msg.From, msg.ID, result.Reply)
	})
	if err := g2.Wait(); err != nil {
		turnsProcessed.WithLabelValues(string(kind), "error").Inc()
		return fmt.Errorf("finish turn %s: %w", msg.ID, err)
	}

	if err := repo.SaveToolState(ctx, s.DB, state); err != nil {
		log.Warn().Err(err).Str("sender", msg.From).Msg("saving tool state failed")
	}

	turnsProcessed.WithLabelValues(string(kind), "ok").Inc()
	return nil
}

// buildPrompt derives the agent prompt from the message. Text turns pass the
// body through; media turns archive the bytes and attach a presigned URL.
func (s *ConversationService) buildPrompt(ctx context.Context, msg webhook.Message) (agent.Prompt, error) {
	if msg.Type == webhook.TypeText {
		return agent.Prompt{Text: msg.Text.Body}, nil
	}

	media := msg.Media()
	if media == nil {
		return agent.Prompt{}, ErrMissingMedia
	}

	key, err := blob.MediaKey(msg.From, media.ID, media.MimeType)
	if err != nil {
		return agent.Prompt{}, err
	}

	data, err := s.Gateway.Media(ctx, media.ID)
	if err != nil {
		return agent.Prompt{}, fmt.Errorf("fetch media %s: %w", media.ID, err)
	}
	if err := s.Blob.Save(ctx, key, data, media.MimeType); err != nil {
		return agent.Prompt{}, fmt.Errorf("archive media %s: %w", media.ID, err)
	}
	url, err := s.Blob.Presigned(ctx, key, blob.DefaultPresignTTL)
	if err != nil {
		return agent.Prompt{}, fmt.Errorf("presign media %s: %w", media.ID, err)
	}

	attachKind := agent.AttachmentImage
	if msg.Type == webhook.TypeDocument {
		attachKind = agent.AttachmentDocument
	}
	return agent.Prompt{
		Text:        media.Caption,
		Attachments: []agent.Attachment{{Kind: attachKind, URL: url, Caption: media.Caption}},
	}, nil
}

// historyFromTurns replays stored deltas in chronological order. The input
// is newest first; the current turn (already stored) and turns without a
// delta are skipped, and at most the limit newest prior turns are replayed.
func historyFromTurns(turns []domain.ConversationTurn, currentID string, limit int) []agent.Message {
	var deltas [][]agent.Message
	for _, t := range turns {
		if t.MessageID == currentID || len(t.Delta) == 0 {
			continue
		}
		if limit > 0 && len(deltas) >= limit {
			break
		}
		var delta []agent.Message
		if err := json.Unmarshal(t.Delta, &delta); err != nil {
			log.Warn().Err(err).Str("id", t.MessageID).Msg("corrupt turn delta, skipping")
			continue
		}
		deltas = append(deltas, delta)
	}

	var history []agent.Message
	for i := len(deltas) - 1; i >= 0; i-- {
		history = append(history, deltas[i]...)
	}
	return history
}
