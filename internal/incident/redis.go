package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// record is the redis form of an Incident.
type record struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	Target     string    `json:"target"`
	Prediction string    `json:"prediction"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// RedisStore keeps incidents in a capped redis list. IDs come from a
// counter key next to the list.
type RedisStore struct {
	client redis.Cmdable
	key    string
	max    int64
	now    func() time.Time
	logger *zap.Logger
}

// NewRedisStore creates a RedisStore using key for the list and key+":seq"
// for the ID counter.
func NewRedisStore(client redis.Cmdable, key string, max int64, logger *zap.Logger) *RedisStore {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		key:    key,
		max:    max,
		now:    time.Now,
		logger: logger.With(zap.String("component", "incident")),
	}
}

// Record implements Store.
func (s *RedisStore) Record(ctx context.Context, inc Incident) (Incident, error) {
	id, err := s.client.Incr(ctx, s.key+":seq").Result()
	if err != nil {
		return Incident{}, fmt.Errorf("failed to allocate incident id: %w", err)
	}
	inc.ID = id
	if inc.Timestamp.IsZero() {
		inc.Timestamp = s.now()
	}

	data, err := json.Marshal(record(inc))
	if err != nil {
		return Incident{}, fmt.Errorf("failed to encode incident: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, data)
		pipe.LTrim(ctx, s.key, 0, s.max-1)
		return nil
	})
	if err != nil {
		return Incident{}, fmt.Errorf("failed to store incident: %w", err)
	}
	return inc, nil
}

// List implements Store. Entries that fail to decode are skipped.
func (s *RedisStore) List(ctx context.Context, limit int) ([]Incident, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := s.client.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}

	out := make([]Incident, 0, len(raw))
	for _, item := range raw {
		var r record
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			s.logger.Warn("skipping undecodable incident", zap.Error(err))
			continue
		}
		out = append(out, Incident(r))
	}
	return out, nil
}

// Ping checks the redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
