package domain

import (
	"strings"
	"time"
)

// Message is a direct message between two users.
// Only the Read flag changes after creation.
type Message struct {
	Base

	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Read       bool      `json:"read"`
}

// NewMessage creates an unread Message.
func NewMessage(senderID, receiverID, content string) *Message {
	return &Message{
		Base:       Base{SchemaVersion: CurrentSchemaVersion},
		SenderID:   NormalizeID(senderID),
		ReceiverID: NormalizeID(receiverID),
		Content:    strings.TrimSpace(content),
		CreatedAt:  time.Now().UTC(),
	}
}

// EntityType implements Entity.
func (m *Message) EntityType() string { return TypeMessage }

// Validate implements Entity.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return NewValidationError("content", "must not be empty")
	}
	return nil
}

// MarkRead sets the read flag. It returns false if it was already set.
func (m *Message) MarkRead() bool {
	if m.Read {
		return false
	}
	m.Read = true
	return true
}

// Involves reports whether userID sent or received the message.
func (m *Message) Involves(userID string) bool {
	return SameID(m.SenderID, userID) || SameID(m.ReceiverID, userID)
}

// Counterpart returns the other participant from userID's point of view.
func (m *Message) Counterpart(userID string) string {
	if SameID(m.SenderID, userID) {
		return m.ReceiverID
	}
	return m.SenderID
}
