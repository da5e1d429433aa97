package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Position is the durable progress record for one partition of one
// consumer group.
type Position struct {
	Sequence  uint64    `json:"sequence"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists partition positions in Redis, one hash per consumer group
// keyed by partition id.
type Store struct {
	rdb       *redis.Client
	keyPrefix string
}

// NewStore creates a checkpoint store over an existing Redis client.
func NewStore(rdb *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "streamsift:checkpoints"
	}
	return &Store{rdb: rdb, keyPrefix: keyPrefix}
}

func (s *Store) key(group string) string {
	return s.keyPrefix + ":" + group
}

// Save records the latest acknowledged stream sequence for a partition.
func (s *Store) Save(ctx context.Context, group, partition string, seq uint64) error {
	pos := Position{Sequence: seq, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.key(group), partition, data).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", group, partition, err)
	}
	return nil
}

// Load returns the stored position for a partition. The second return is
// false when no checkpoint exists yet.
func (s *Store) Load(ctx context.Context, group, partition string) (Position, bool, error) {
	data, err := s.rdb.HGet(ctx, s.key(group), partition).Bytes()
	if err == redis.Nil {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("load checkpoint %s/%s: %w", group, partition, err)
	}
	var pos Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return Position{}, false, fmt.Errorf("decode checkpoint %s/%s: %w", group, partition, err)
	}
	return pos, true, nil
}
