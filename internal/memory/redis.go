package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/agent-market/internal/model"
)

// RedisStore keeps interaction memory in Redis lists, one list per
// (agent, counterparty) pair. The per-agent sequence index comes from INCR,
// which Redis applies atomically, so concurrent writers to one agent still
// produce a strict order.
//
// Keys are namespaced by prefix so several runs can share one Redis
// instance without reading each other's memory.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed memory store. prefix namespaces the
// keys, typically by simulation run id.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "memory"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) pairKey(agentID, counterpartyID string) string {
	return fmt.Sprintf("%s:%s:peer:%s", s.prefix, agentID, counterpartyID)
}

func (s *RedisStore) seqKey(agentID string) string {
	return fmt.Sprintf("%s:%s:seq", s.prefix, agentID)
}

func (s *RedisStore) Record(ctx context.Context, agentID, counterpartyID string, rec model.InteractionRecord) (model.InteractionRecord, error) {
	if agentID == "" || counterpartyID == "" {
		return model.InteractionRecord{}, ErrEmptyAgentID
	}

	seq, err := s.rdb.Incr(ctx, s.seqKey(agentID)).Result()
	if err != nil {
		return model.InteractionRecord{}, fmt.Errorf("memory: next seq for %s: %w", agentID, err)
	}
	rec.Seq = uint64(seq)
	rec.CounterpartyID = counterpartyID

	data, err := json.Marshal(rec)
	if err != nil {
		return model.InteractionRecord{}, fmt.Errorf("memory: marshal record: %w", err)
	}
	if err := s.rdb.RPush(ctx, s.pairKey(agentID, counterpartyID), data).Err(); err != nil {
		return model.InteractionRecord{}, fmt.Errorf("memory: append %s→%s: %w", agentID, counterpartyID, err)
	}
	return rec, nil
}

func (s *RedisStore) History(ctx context.Context, agentID, counterpartyID string) (iter.Seq[model.InteractionRecord], error) {
	if agentID == "" || counterpartyID == "" {
		return nil, ErrEmptyAgentID
	}
	records, err := s.load(ctx, s.pairKey(agentID, counterpartyID))
	if err != nil {
		return nil, err
	}
	return slices.Values(records), nil
}

func (s *RedisStore) Snapshot(ctx context.Context, agentID string) (map[string][]model.InteractionRecord, error) {
	out := make(map[string][]model.InteractionRecord)
	match := fmt.Sprintf("%s:%s:peer:*", s.prefix, agentID)
	keyPrefix := fmt.Sprintf("%s:%s:peer:", s.prefix, agentID)

	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("memory: scan %s: %w", agentID, err)
		}
		for _, key := range keys {
			records, err := s.load(ctx, key)
			if err != nil {
				return nil, err
			}
			out[strings.TrimPrefix(key, keyPrefix)] = records
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

func (s *RedisStore) load(ctx context.Context, key string) ([]model.InteractionRecord, error) {
	raw, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("memory: read %s: %w", key, err)
	}
	records := make([]model.InteractionRecord, 0, len(raw))
	for _, item := range raw {
		var rec model.InteractionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("memory: decode %s: %w", key, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
