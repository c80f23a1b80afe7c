package agent

import (
	"context"
	"time"

	"github.com/nugget/subzero/internal/opstate"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"ts"`
}

// SessionStore persists conversation history by session ID.
type SessionStore interface {
	Load(ctx context.Context, session string) ([]Turn, error)
	Save(ctx context.Context, session string, turns []Turn) error
	Delete(ctx context.Context, session string) error
}

// StateSessions keeps sessions in the operational state store.
type StateSessions struct {
	store *opstate.Store
}

// NewStateSessions returns a SessionStore backed by store.
func NewStateSessions(store *opstate.Store) *StateSessions {
	return &StateSessions{store: store}
}

func (s *StateSessions) Load(ctx context.Context, session string) ([]Turn, error) {
	var turns []Turn
	if _, err := s.store.GetJSON(ctx, opstate.NamespaceSessions, session, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func (s *StateSessions) Save(ctx context.Context, session string, turns []Turn) error {
	return s.store.SetJSON(ctx, opstate.NamespaceSessions, session, turns)
}

func (s *StateSessions) Delete(ctx context.Context, session string) error {
	return s.store.Delete(ctx, opstate.NamespaceSessions, session)
}
