package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"attestor/internal/claim/models"
)

const (
	entryKeyPrefix  = "claim_queue:"
	holderKeyPrefix = "holder_claims:"

	// indexSlack keeps the holder index alive slightly longer than its
	// newest entry so lazy cleanup can still observe dead tokens.
	indexSlack = time.Hour
)

// RedisQueue stages tokens in redis: one TTL'd key per entry plus a
// per-holder set indexing the tokens. Entries expire on their own; the
// index is pruned lazily on List.
type RedisQueue struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) entryKey(holderID, token string) string {
	return entryKeyPrefix + holderID + ":" + token
}

func (q *RedisQueue) holderKey(holderID string) string {
	return holderKeyPrefix + holderID
}

func (q *RedisQueue) Enqueue(ctx context.Context, holderID string, entry models.QueueEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("queue entry ttl must be positive")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}

	// The cap counts index members, including dead tokens not yet pruned,
	// so it can only undercount the room left. Checked outside the write
	// pipeline: concurrent staging may briefly overshoot, which is
	// acceptable for an advisory cap.
	member, err := q.client.SIsMember(ctx, q.holderKey(holderID), entry.Token).Result()
	if err != nil {
		return fmt.Errorf("check staged token: %w", err)
	}
	if !member {
		count, err := q.client.SCard(ctx, q.holderKey(holderID)).Result()
		if err != nil {
			return fmt.Errorf("count staged tokens: %w", err)
		}
		if count >= MaxEntriesPerHolder {
			return ErrQueueFull
		}
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, q.entryKey(holderID, entry.Token), payload, ttl)
	pipe.SAdd(ctx, q.holderKey(holderID), entry.Token)
	pipe.Expire(ctx, q.holderKey(holderID), ttl+indexSlack)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue claim token: %w", err)
	}
	return nil
}

func (q *RedisQueue) List(ctx context.Context, holderID string) ([]models.QueueEntry, error) {
	tokens, err := q.client.SMembers(ctx, q.holderKey(holderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list claim queue: %w", err)
	}

	var entries []models.QueueEntry
	var dead []any
	for _, token := range tokens {
		raw, err := q.client.Get(ctx, q.entryKey(holderID, token)).Bytes()
		if errors.Is(err, redis.Nil) {
			dead = append(dead, token)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load claim queue entry: %w", err)
		}
		var entry models.QueueEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			dead = append(dead, token)
			continue
		}
		entries = append(entries, entry)
	}

	if len(dead) > 0 {
		// Best effort: a failed prune only delays the next lazy pass.
		q.client.SRem(ctx, q.holderKey(holderID), dead...)
	}
	return entries, nil
}

func (q *RedisQueue) Remove(ctx context.Context, holderID, token string) error {
	pipe := q.client.Pipeline()
	pipe.Del(ctx, q.entryKey(holderID, token))
	pipe.SRem(ctx, q.holderKey(holderID), token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove claim token: %w", err)
	}
	return nil
}
