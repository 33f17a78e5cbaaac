package redis

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/importing"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// SessionStore keeps import session snapshots as JSON strings that expire
// after ttl.  It implements importing.SessionStore.
type SessionStore struct {
	client *Client
	ttl    time.Duration
}

func NewSessionStore(client *Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) key(id string) string { return s.client.Key("session:" + id) }

func (s *SessionStore) Save(ctx context.Context, status *importing.Status) error {
	if status == nil || status.SessionID == "" {
		return errors.New(errors.ErrCodeValidation, "session id is required")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal session")
	}
	if err := s.client.Set(ctx, s.key(status.SessionID), data, s.ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to save session")
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, sessionID string) (*importing.Status, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, errors.New(errors.ErrCodeSessionNotFound, "import session not found").WithDetail(sessionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to load session")
	}
	var status importing.Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal session")
	}
	return &status, nil
}

//Personal.AI order the ending
