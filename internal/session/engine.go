// Package session owns the conversation lifecycle: deciding whether a
// customer's conversation is still alive, expiring stale ones and appending
// transcript messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatbot-gateway/internal/domain"
	"chatbot-gateway/internal/repository"
)

// defaultInactivityWindow expires a conversation whose most recent
// user-authored message is older than this, measured at resolve time.
const defaultInactivityWindow = 24 * time.Hour

// TranscriptStore is the persistence contract the engine drives. Every
// mutation must be a single atomic store operation; the engine never does
// read-modify-write across two round trips.
type TranscriptStore interface {
	FindOpenConversations(ctx context.Context, tenantID, customerID string) ([]domain.Conversation, error)
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error
	CloseConversation(ctx context.Context, tenantID, customerID, conversationID string, endedAt time.Time) error
}

// Engine resolves the active conversation for a customer and appends
// transcript messages. It holds no mutable state of its own; all shared
// state lives in the store.
type Engine struct {
	store  TranscriptStore
	logger *zap.Logger
	window time.Duration
}

// NewEngine creates an Engine. A non-positive window falls back to the
// 24-hour default.
func NewEngine(store TranscriptStore, logger *zap.Logger, window time.Duration) (*Engine, error) {
	if store == nil {
		return nil, errors.New("session: transcript store must not be nil")
	}
	if logger == nil {
		return nil, errors.New("session: logger must not be nil")
	}
	if window <= 0 {
		window = defaultInactivityWindow
	}
	return &Engine{store: store, logger: logger, window: window}, nil
}

// ResolveActiveConversation returns the conversation the inbound message
// belongs to. When it creates a fresh conversation the inbound message is
// already embedded as its first entry and isNew is true; when it reuses an
// existing conversation the caller appends the inbound message itself.
func (e *Engine) ResolveActiveConversation(ctx context.Context, tenantID, customerID, inboundContent string) (domain.Conversation, bool, error) {
	open, err := e.store.FindOpenConversations(ctx, tenantID, customerID)
	if err != nil {
		return domain.Conversation{}, false, err
	}

	conv, found := e.selectOpen(open, tenantID, customerID)
	if found {
		now := timeNow()
		if !e.expired(conv, now) {
			return conv, false, nil
		}
		// Best effort: a failed stamp leaves a stale open conversation
		// behind, which the next resolve will try to close again.
		if err := e.store.CloseConversation(ctx, tenantID, customerID, conv.ID, now); err != nil {
			e.logger.Warn("failed to close expired conversation",
				zap.String("conversation_id", conv.ID),
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
	}

	return e.createConversation(ctx, tenantID, customerID, inboundContent)
}

// AppendMessage atomically appends one message to the conversation. The
// engine never deletes conversations, but an id can stop resolving if the
// document is removed out of band; that surfaces as ErrConversationNotFound
// from the store.
func (e *Engine) AppendMessage(ctx context.Context, conversationID string, author domain.Author, content string, timestamp time.Time) (domain.Message, error) {
	msg := domain.Message{
		ID:        newMessageID(),
		Timestamp: timestamp,
		Author:    author,
		Content:   content,
	}
	if err := e.store.AppendMessage(ctx, conversationID, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// selectOpen applies the defensive tie-break: the invariant allows at most
// one open conversation, but if the store ever returns more the engine takes
// the most recently started one and records the anomaly instead of picking
// an arbitrary row or crashing the request.
func (e *Engine) selectOpen(open []domain.Conversation, tenantID, customerID string) (domain.Conversation, bool) {
	// The open index can briefly serve rows whose close already committed;
	// the document's endedAt is authoritative.
	var candidates []domain.Conversation
	for _, conv := range open {
		if conv.Open() {
			candidates = append(candidates, conv)
		}
	}
	if len(candidates) == 0 {
		return domain.Conversation{}, false
	}
	best := candidates[0]
	for _, conv := range candidates[1:] {
		if conv.StartedAt.After(best.StartedAt) {
			best = conv
		}
	}
	if len(candidates) > 1 {
		e.logger.Error("invariant violation: multiple open conversations for customer",
			zap.String("tenant_id", tenantID),
			zap.String("customer_id", customerID),
			zap.Int("open_count", len(candidates)),
			zap.String("selected_conversation_id", best.ID))
	}
	return best, true
}

// expired reports whether the conversation's last user message is older than
// the inactivity window. Bot-only conversations never expire by this rule.
func (e *Engine) expired(conv domain.Conversation, now time.Time) bool {
	last, ok := conv.LastUserMessage()
	if !ok {
		return false
	}
	return now.Sub(last.Timestamp) > e.window
}

func (e *Engine) createConversation(ctx context.Context, tenantID, customerID, inboundContent string) (domain.Conversation, bool, error) {
	now := timeNow()
	conv := domain.Conversation{
		ID:         newConversationID(),
		TenantID:   tenantID,
		CustomerID: customerID,
		StartedAt:  now,
		Messages: []domain.Message{{
			ID:        newMessageID(),
			Timestamp: now,
			Author:    domain.AuthorUser,
			Content:   inboundContent,
		}},
	}

	err := e.store.CreateConversation(ctx, conv)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, repository.ErrUniqueViolation) {
		return domain.Conversation{}, false, err
	}

	// Lost a create race: a concurrent delivery for the same customer just
	// opened the conversation. Re-read and hand it back as a reuse so the
	// caller appends the inbound message to the winner.
	open, ferr := e.store.FindOpenConversations(ctx, tenantID, customerID)
	if ferr != nil {
		return domain.Conversation{}, false, ferr
	}
	winner, found := e.selectOpen(open, tenantID, customerID)
	if !found {
		return domain.Conversation{}, false, fmt.Errorf("session: create conversation raced but no open conversation found: %w", err)
	}
	// The winner must itself be live. If an earlier close failed, the stale
	// conversation still holds the open slot and would come back here;
	// handing it out would extend a session past its window.
	if e.expired(winner, timeNow()) {
		return domain.Conversation{}, false, fmt.Errorf("session: conversation %s is past its inactivity window but still holds the open slot: %w", winner.ID, err)
	}
	return winner, false, nil
}

var newMessageID = func() string {
	return uuid.NewString()
}

var newConversationID = func() string {
	return uuid.NewString()
}

var timeNow = func() time.Time {
	return time.Now().UTC()
}
