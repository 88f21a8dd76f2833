package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActiveCourse records the course owning the active entity when the
// entity itself is a class.
type ActiveCourse struct {
	ChunkID string `json:"chunk_id"`
	Code    string `json:"code,omitempty"`
	Title   string `json:"title"`
}

// State is the per-session conversation state: the entity follow-ups
// resolve against plus the sources of the most recent response.
type State struct {
	ActiveEntityID   string           `json:"active_entity_id"`
	ActiveEntityName string           `json:"active_entity_name"`
	ActiveEntityType string           `json:"active_entity_type"`
	ActiveCourse     *ActiveCourse    `json:"active_course,omitempty"`
	LastSources      []string         `json:"last_sources"`
	LastPayloads     []map[string]any `json:"last_payloads"`
}

// SessionStore persists conversation state with a TTL refreshed on every
// write. Get returns (nil, nil) for expired or unknown sessions.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*State, error)
	Put(ctx context.Context, sessionID string, state *State, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore keeps sessions in-process for single-node deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	state     *State
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[sessionID]
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.entries, sessionID)
		return nil, nil
	}
	return entry.state, nil
}

func (m *MemoryStore) Put(_ context.Context, sessionID string, state *State, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = memoryEntry{state: state, expiresAt: time.Now().Add(ttl)}

	// opportunistic sweep keeps the map bounded without a janitor goroutine
	now := time.Now()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
		}
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

var _ SessionStore = (*MemoryStore)(nil)

// RedisStore persists sessions in a shared KV for scale-out, keyed
// session:<id> with the same TTL semantics as MemoryStore.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*State, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return &state, nil
}

func (r *RedisStore) Put(ctx context.Context, sessionID string, state *State, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

var _ SessionStore = (*RedisStore)(nil)
