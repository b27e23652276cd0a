// Package redis implements the conversation session store backed by Redis,
// for deployments where sessions must survive process restarts.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/kmuchiri/dukachat/internal/domain/session"
)

var _ session.Store = (*SessionStore)(nil)

// SessionStore implements session.Store on top of a Redis client. Sessions
// are stored as JSON under a per-user key with the idle TTL refreshed on
// every write.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore returns a SessionStore using the given client. A zero ttl
// disables expiry.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(userID string) string {
	return "session:" + userID
}

func (s *SessionStore) Get(ctx context.Context, userID string) (*session.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session for %q: %w", userID, err)
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session for %q: %w", userID, err)
	}
	return &sess, nil
}

func (s *SessionStore) Put(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session for %q: %w", sess.UserID, err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving session for %q: %w", sess.UserID, err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("deleting session for %q: %w", userID, err)
	}
	return nil
}
