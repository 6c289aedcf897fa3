package chat

import "sync"

// conversationLocks serializes turns per conversation and forgets idle ones
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*conversationLock)}
}

// Lock blocks until the conversation is free and returns its unlock func
func (l *conversationLocks) Lock(conversationID string) func() {
	l.mu.Lock()
	lock, ok := l.locks[conversationID]
	if !ok {
		lock = &conversationLock{}
		l.locks[conversationID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, conversationID)
		}
		l.mu.Unlock()
	}
}

func (l *conversationLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
