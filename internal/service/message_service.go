package service

import (
	"context"
	"sort"

	"github.com/prn-tf/artshare/internal/domain"
)

// MessageService handles direct messages between users.
type MessageService struct {
	base
}

// NewMessageService creates a new MessageService.
func NewMessageService(d Deps) *MessageService {
	return &MessageService{base: newBase(d, "message")}
}

// ConversationSummary is one entry of a user's inbox.
type ConversationSummary struct {
	// User is the other participant. Nil if that account no longer exists.
	User        *domain.User
	UserID      string
	LastMessage *domain.Message
	UnreadCount int
}

// Send delivers a message from senderID to receiverID.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error) {
	if domain.SameID(senderID, receiverID) {
		return nil, domain.ErrSelfMessage
	}
	sender, err := s.user(ctx, senderID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.user(ctx, receiverID)
	if err != nil {
		return nil, err
	}

	msg := domain.NewMessage(sender.ID, receiver.ID, content)
	if err := msg.Validate(); err != nil {
		return nil, domain.ErrEmptyContent
	}
	if _, err := s.gw.Save(ctx, msg); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("message_id", msg.ID).
		Str("sender_id", sender.ID).
		Str("receiver_id", receiver.ID).
		Msg("message sent")

	return msg, nil
}

// Conversation returns the messages exchanged by viewerID and otherID,
// oldest first. Unread messages addressed to the viewer are marked read.
func (s *MessageService) Conversation(ctx context.Context, viewerID, otherID string) ([]*domain.Message, error) {
	viewer, err := s.user(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages.FindAll(ctx, func(m *domain.Message) bool {
		return (domain.SameID(m.SenderID, viewer.ID) && domain.SameID(m.ReceiverID, otherID)) ||
			(domain.SameID(m.SenderID, otherID) && domain.SameID(m.ReceiverID, viewer.ID))
	})
	if err != nil {
		return nil, err
	}
	sortOldestFirst(msgs)

	for _, m := range msgs {
		if !domain.SameID(m.ReceiverID, viewer.ID) || !m.MarkRead() {
			continue
		}
		if !s.gw.Update(ctx, m) {
			s.logger.Warn().Str("message_id", m.ID).Msg("failed to mark message read")
		}
	}

	return msgs, nil
}

// RecentConversations returns one summary per counterpart of userID, the
// most recently active conversation first.
func (s *MessageService) RecentConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages.FindAll(ctx, func(m *domain.Message) bool {
		return m.Involves(user.ID)
	})
	if err != nil {
		return nil, err
	}
	sortOldestFirst(msgs)

	byUser := make(map[string]*ConversationSummary)
	for _, m := range msgs {
		other := domain.NormalizeID(m.Counterpart(user.ID))
		sum, ok := byUser[other]
		if !ok {
			sum = &ConversationSummary{UserID: other}
			byUser[other] = sum
		}
		sum.LastMessage = m
		if domain.SameID(m.ReceiverID, user.ID) && !m.Read {
			sum.UnreadCount++
		}
	}

	out := make([]ConversationSummary, 0, len(byUser))
	for id, sum := range byUser {
		u, found, err := s.users.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			sum.User = u
		}
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return domain.CompareIDs(a.ID, b.ID) > 0
	})
	return out, nil
}

// UnreadCount returns how many messages addressed to userID are unread.
func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return 0, err
	}
	msgs, err := s.messages.FindAll(ctx, func(m *domain.Message) bool {
		return domain.SameID(m.ReceiverID, user.ID) && !m.Read
	})
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

func sortOldestFirst(msgs []*domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return domain.CompareIDs(msgs[i].ID, msgs[j].ID) < 0
	})
}
