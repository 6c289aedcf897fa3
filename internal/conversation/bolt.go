package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var conversationsBucket = []byte("conversations")

// BoltStore keeps conversation state in a local BoltDB file
type BoltStore struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// NewBoltStore opens (or creates) the state file at path
func NewBoltStore(path string, ttl time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bolt state file")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create conversations bucket")
	}

	return &BoltStore{db: db, ttl: ttl, now: time.Now}, nil
}

// Load reads a conversation's state; state idle for longer than the ttl is discarded
func (s *BoltStore) Load(ctx context.Context, conversationID string) (*State, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(conversationsBucket).Get([]byte(conversationID)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read conversation state")
	}
	if data == nil {
		return New(conversationID), nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "failed to decode conversation state")
	}

	if s.ttl > 0 && s.now().Sub(state.UpdatedAt) > s.ttl {
		if err := s.Clear(ctx, conversationID); err != nil {
			return nil, err
		}
		return New(conversationID), nil
	}

	return &state, nil
}

// Save writes the whole state in one transaction
func (s *BoltStore) Save(ctx context.Context, state *State) error {
	state.UpdatedAt = s.now()
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to encode conversation state")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Put([]byte(state.ConversationID), data)
	})
	if err != nil {
		return errors.Wrap(err, "failed to write conversation state")
	}
	return nil
}

// Clear deletes a conversation's state
func (s *BoltStore) Clear(ctx context.Context, conversationID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Delete([]byte(conversationID))
	})
	if err != nil {
		return errors.Wrap(err, "failed to delete conversation state")
	}
	return nil
}

// Close closes the state file
func (s *BoltStore) Close() error {
	return s.db.Close()
}
