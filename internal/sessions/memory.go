package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/teller/pkg/models"
)

// maxMessagesPerConversation limits messages held per conversation to prevent
// unbounded memory growth. When exceeded, the oldest messages are trimmed.
const maxMessagesPerConversation = 1000

type memoryConversation struct {
	messages  []models.Message
	interrupt *models.Interrupt
	updatedAt time.Time
}

// MemoryStore provides an in-memory Store implementation for tests and local
// runs. Values are cloned on the way in and out.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*memoryConversation
	now           func() time.Time
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*memoryConversation{},
		now:           time.Now,
	}
}

func (m *MemoryStore) Load(ctx context.Context, conversationID string) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &models.Conversation{
		ID:        conversationID,
		Messages:  models.CloneMessages(conv.messages),
		UpdatedAt: conv.updatedAt,
	}, nil
}

func (m *MemoryStore) Append(ctx context.Context, conversationID string, msgs ...models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendLocked(conversationID, msgs)
	return nil
}

func (m *MemoryStore) appendLocked(conversationID string, msgs []models.Message) {
	conv := m.conversations[conversationID]
	if conv == nil {
		conv = &memoryConversation{}
		m.conversations[conversationID] = conv
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		conv.messages = append(conv.messages, models.CloneMessage(msg))
	}
	if len(conv.messages) > maxMessagesPerConversation {
		conv.messages = append([]models.Message(nil), conv.messages[len(conv.messages)-maxMessagesPerConversation:]...)
	}
	conv.updatedAt = m.now()
}

func (m *MemoryStore) GetInterrupt(ctx context.Context, conversationID string) (*models.Interrupt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[conversationID]
	if !ok || conv.interrupt == nil {
		return nil, ErrNotFound
	}
	return conv.interrupt.Clone(), nil
}

func (m *MemoryStore) SetInterrupt(ctx context.Context, interrupt *models.Interrupt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if interrupt == nil || interrupt.ID == "" || interrupt.ConversationID == "" {
		return errors.New("interrupt id and conversation id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := m.conversations[interrupt.ConversationID]
	if conv == nil {
		conv = &memoryConversation{}
		m.conversations[interrupt.ConversationID] = conv
	}
	if conv.interrupt != nil {
		return ErrInterruptPending
	}
	conv.interrupt = interrupt.Clone()
	conv.updatedAt = m.now()
	return nil
}

func (m *MemoryStore) ClearInterrupt(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv, ok := m.conversations[conversationID]; ok {
		conv.interrupt = nil
	}
	return nil
}

func (m *MemoryStore) ResolveInterrupt(ctx context.Context, conversationID, interruptID string, msgs ...models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok || conv.interrupt == nil {
		return ErrNotFound
	}
	if conv.interrupt.ID != interruptID {
		return ErrInterruptMismatch
	}
	conv.interrupt = nil
	m.appendLocked(conversationID, msgs)
	return nil
}

func (m *MemoryStore) Reset(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conversations, conversationID)
	return nil
}

func (m *MemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, conv := range m.conversations {
		if conv.interrupt != nil || !conv.updatedAt.Before(cutoff) {
			continue
		}
		delete(m.conversations, id)
		removed++
	}
	return removed, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
