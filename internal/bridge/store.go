package bridge

import (
	"context"
	"time"

	"github.com/nugget/subzero/internal/opstate"
)

// PendingPrompt is a queued prompt as saved between runs.
type PendingPrompt struct {
	ID       string    `json:"id"`
	Session  string    `json:"session,omitempty"`
	Prompt   string    `json:"prompt"`
	QueuedAt time.Time `json:"queued_at"`
}

// QueueStore saves the queue at shutdown and loads it at startup.
type QueueStore interface {
	SaveQueue(ctx context.Context, pending []PendingPrompt) error
	LoadQueue(ctx context.Context) ([]PendingPrompt, error)
}

const queueKey = "queue"

// StateStore keeps the queue in the operational state store.
type StateStore struct {
	store *opstate.Store
}

// NewStateStore returns a QueueStore backed by store.
func NewStateStore(store *opstate.Store) *StateStore {
	return &StateStore{store: store}
}

// SaveQueue replaces the saved queue. An empty queue removes the key.
func (s *StateStore) SaveQueue(ctx context.Context, pending []PendingPrompt) error {
	if len(pending) == 0 {
		return s.store.Delete(ctx, opstate.NamespaceBridge, queueKey)
	}
	return s.store.SetJSON(ctx, opstate.NamespaceBridge, queueKey, pending)
}

// LoadQueue returns the saved queue, or nil if none was saved.
func (s *StateStore) LoadQueue(ctx context.Context) ([]PendingPrompt, error) {
	var pending []PendingPrompt
	if _, err := s.store.GetJSON(ctx, opstate.NamespaceBridge, queueKey, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}
