package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type sessionEntry struct {
	session      *Session
	lastAccessed time.Time
}

// SessionCache keeps the most recently used sessions in memory, loading the
// rest from the store on demand.
type SessionCache struct {
	lock     sync.Mutex
	sessions map[uuid.UUID]*sessionEntry
	maxSize  int
	store    Store
	onEvict  func(*Session)
}

func NewSessionCache(maxSize int, store Store) *SessionCache {
	return &SessionCache{
		sessions: make(map[uuid.UUID]*sessionEntry, maxSize),
		maxSize:  maxSize,
		store:    store,
	}
}

// OnEvict registers a callback run (with the cache lock held) for every
// session dropped from memory.
func (c *SessionCache) OnEvict(fn func(*Session)) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.onEvict = fn
}

func (c *SessionCache) Create(ctx context.Context) (*Session, error) {
	s := New()
	s.store = c.store

	if c.store != nil {
		if err := c.store.SaveSession(ctx, s.Snapshot()); err != nil {
			return nil, fmt.Errorf("error creating session: %w", err)
		}
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.insert(s)
	return s, nil
}

// Get returns the session with the given id, or a new session with that id
// if the store has never seen it.
func (c *SessionCache) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if entry, ok := c.sessions[id]; ok {
		entry.lastAccessed = time.Now()
		return entry.session, nil
	}

	s := &Session{ID: id, store: c.store}
	if c.store != nil {
		snap, found, err := c.store.LoadSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			s = FromSnapshot(snap, c.store)
		} else if err := c.store.SaveSession(ctx, s.Snapshot()); err != nil {
			return nil, fmt.Errorf("error creating session: %w", err)
		}
	}

	c.insert(s)
	return s, nil
}

func (c *SessionCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.sessions)
}

func (c *SessionCache) insert(s *Session) {
	if len(c.sessions) >= c.maxSize {
		oldestID := uuid.Nil
		var oldestTime time.Time
		for id, entry := range c.sessions {
			if oldestID == uuid.Nil || entry.lastAccessed.Before(oldestTime) {
				oldestID = id
				oldestTime = entry.lastAccessed
			}
		}

		if oldest, ok := c.sessions[oldestID]; ok {
			delete(c.sessions, oldestID)
			slog.Debug("evicted session from cache", "session_id", oldestID)
			if c.onEvict != nil {
				c.onEvict(oldest.session)
			}
		}
	}

	c.sessions[s.ID] = &sessionEntry{session: s, lastAccessed: time.Now()}
}
