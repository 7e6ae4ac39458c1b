package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// CookieName is the session cookie set at login.
const CookieName = "stacks_session"

// Session binds an opaque session id to an identity snapshot. The
// snapshot is advisory: the guard re-reads the backing user record on
// every request and never trusts the stored role or capabilities.
type Session struct {
	ID        string    `json:"id"`
	Identity  Identity  `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore persists sessions in redis with a sliding TTL, so a
// session can be invalidated server-side the moment its backing user
// disappears.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewSessionStore creates a redis-backed session store.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{
		client: client,
		ttl:    ttl,
		prefix: "session",
	}
}

func (s *SessionStore) key(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

// Create stores a new session for the identity and returns it. The
// session id is an unguessable UUID.
func (s *SessionStore) Create(ctx context.Context, identity Identity) (*Session, error) {
	session := &Session{
		ID:        uuid.NewString(),
		Identity:  identity,
		CreatedAt: time.Now(),
	}

	if err := s.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Save writes the session back, resetting its TTL. Used after
// refreshing the identity snapshot or recording a re-authentication.
func (s *SessionStore) Save(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(session.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get retrieves a session by id. A missing or expired session returns
// (nil, nil); infrastructure errors are returned as-is.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		// Corrupt payload: drop it rather than serving garbage.
		s.client.Del(ctx, s.key(id))
		return nil, nil
	}
	return &session, nil
}

// Touch extends the session TTL without rewriting the payload.
func (s *SessionStore) Touch(ctx context.Context, id string) error {
	return s.client.Expire(ctx, s.key(id), s.ttl).Err()
}

// Destroy removes the session server-side. Destroying an absent
// session is not an error.
func (s *SessionStore) Destroy(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}
