package domain

import "time"

// Author identifies which side of the exchange produced a message.
type Author string

const (
	AuthorUser Author = "user"
	AuthorBot  Author = "bot"
)

// Message is a single immutable transcript entry inside a conversation.
type Message struct {
	ID             string
	Timestamp      time.Time
	Author         Author
	Content        string
	DeliveryStatus string
}

// Conversation is one bounded session of exchange between a customer and a
// tenant's bot. EndedAt is nil while the conversation is open; a closed
// conversation is terminal and never reopened.
type Conversation struct {
	ID         string
	TenantID   string
	CustomerID string
	StartedAt  time.Time
	EndedAt    *time.Time
	Messages   []Message
}

// Open reports whether the conversation is still accepting messages.
func (c Conversation) Open() bool {
	return c.EndedAt == nil
}

// LastUserMessage returns the most recent user-authored message and whether
// one exists. Bot-only conversations have none.
func (c Conversation) LastUserMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Author == AuthorUser {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}
