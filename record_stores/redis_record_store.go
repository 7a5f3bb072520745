package record_stores

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eigerteam/waitlist_gate"
)

var (
	_ waitlist_gate.RecordStore = &redisRecordStore{}
)

type redisRecordStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRecordStore keeps each record in a sorted set: every submission is
// a uuid member scored by its epoch-millisecond timestamp. Written records
// expire after ttl; zero keeps them forever.
func NewRedisRecordStore(client *redis.Client, ttl time.Duration) waitlist_gate.RecordStore {
	return &redisRecordStore{
		client: client,
		ttl:    ttl,
	}
}

// ReadRecord returns the stored timestamps, oldest first.
func (s *redisRecordStore) ReadRecord(ctx context.Context, key string) ([]int64, error) {
	members, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		if strings.HasPrefix(err.Error(), "WRONGTYPE") {
			return nil, fmt.Errorf("reading key %v: %w: %v", key, waitlist_gate.ErrCorruptRecord, err)
		}
		return nil, fmt.Errorf("failed to read sorted set for key %v: %w", key, err)
	}

	if len(members) == 0 {
		return nil, nil
	}

	timestamps := make([]int64, 0, len(members))
	for _, m := range members {
		timestamps = append(timestamps, int64(m.Score))
	}
	return timestamps, nil
}

// WriteRecord replaces the sorted set with timestamps in one transaction.
func (s *redisRecordStore) WriteRecord(ctx context.Context, key string, timestamps []int64) error {
	p := s.client.TxPipeline()

	// we drop whatever was there, including a value of the wrong type
	p.Del(ctx, key)

	if len(timestamps) > 0 {
		items := make([]redis.Z, 0, len(timestamps))
		for _, ts := range timestamps {
			// every submission needs an UUID so equal timestamps don't collapse
			items = append(items, redis.Z{
				Score:  float64(ts),
				Member: uuid.New().String(),
			})
		}
		p.ZAdd(ctx, key, items...)

		if s.ttl > 0 {
			p.PExpire(ctx, key, s.ttl)
		}
	}

	if _, err := p.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute sorted set pipeline for key: %v: %w", key, err)
	}
	return nil
}
