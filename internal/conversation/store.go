package conversation

import (
	"context"
	"example.com/backstage/services/orderbot/internal/cache"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Store persists conversation state across turns
type Store interface {
	// Load returns the saved state, or an empty one for a new conversation
	Load(ctx context.Context, conversationID string) (*State, error)
	Save(ctx context.Context, state *State) error
	Clear(ctx context.Context, conversationID string) error
}

// CacheStore keeps state as JSON in a cache.Cache (Redis or in-process)
type CacheStore struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewCacheStore creates a state store over c; ttl bounds an idle conversation's lifetime
func NewCacheStore(c cache.Cache, ttl time.Duration) *CacheStore {
	return &CacheStore{cache: c, ttl: ttl}
}

// Load reads a conversation's state
func (s *CacheStore) Load(ctx context.Context, conversationID string) (*State, error) {
	var state State
	err := s.cache.Get(ctx, cache.GetConversationKey(conversationID), &state)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return New(conversationID), nil
		}
		return nil, errors.Wrap(err, "failed to load conversation state")
	}
	return &state, nil
}

// Save writes the whole state in one call
func (s *CacheStore) Save(ctx context.Context, state *State) error {
	state.UpdatedAt = time.Now()
	if err := s.cache.Set(ctx, cache.GetConversationKey(state.ConversationID), state, s.ttl); err != nil {
		return errors.Wrap(err, "failed to save conversation state")
	}
	return nil
}

// Clear deletes a conversation's state
func (s *CacheStore) Clear(ctx context.Context, conversationID string) error {
	if err := s.cache.Delete(ctx, cache.GetConversationKey(conversationID)); err != nil {
		return errors.Wrap(err, "failed to clear conversation state")
	}
	return nil
}

// ClearPendingOrder drops the conversation's temporary order if it is still
// tempOrderID. It reports whether anything was cleared.
func ClearPendingOrder(ctx context.Context, store Store, conversationID string, tempOrderID uuid.UUID) (bool, error) {
	state, err := store.Load(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if state.Pending == nil || state.Pending.ID != tempOrderID {
		return false, nil
	}
	state.ClearPending()
	if err := store.Save(ctx, state); err != nil {
		return false, err
	}
	return true, nil
}
