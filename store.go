package mantle

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ConversationStore is the persistence boundary for conversation state. The
// runtime reads and appends messages through it and assumes nothing about
// what lives behind it — an in-memory slice, a database, a remote service.
//
// Implementations must be safe for concurrent use; the runtime serializes
// its own mutations through the Guard, but hosts may read concurrently.
type ConversationStore interface {
	// Append adds messages to the end of the conversation.
	Append(ctx context.Context, msgs ...llms.MessageContent) error

	// Messages returns the full conversation in order.
	Messages(ctx context.Context) ([]llms.MessageContent, error)
}

// MemoryStore is the default ConversationStore: an in-memory message slice.
type MemoryStore struct {
	mu   sync.Mutex
	msgs []llms.MessageContent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds messages to the conversation.
func (s *MemoryStore) Append(ctx context.Context, msgs ...llms.MessageContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msgs...)
	return nil
}

// Messages returns a copy of the conversation.
func (s *MemoryStore) Messages(ctx context.Context) ([]llms.MessageContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llms.MessageContent, len(s.msgs))
	copy(out, s.msgs)
	return out, nil
}

// Len returns the number of stored messages.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

var _ ConversationStore = (*MemoryStore)(nil)
