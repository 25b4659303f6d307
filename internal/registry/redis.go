// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/restream/internal/task"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	Prefix   string // Key namespace, defaults to "restream:"
}

const (
	redisMaxTxRetries = 16
	// redisListBatch is the smallest page read from an order index.
	redisListBatch = 32
	// missingScore ranks records that lack the ordering timestamp first in
	// ascending order.
	missingScore = -1
)

var orderKeys = [...]string{task.OrderCreateTime, task.OrderStartTime, task.OrderScheduledStartTime}

// RedisRegistry stores each record as JSON under <prefix>task:<id>. Every
// ordering key has a sorted set <prefix>tasks:<key> scored by that
// timestamp in unix nanoseconds; records without it score missingScore.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "restream:"
	}
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Str("prefix", prefix).
		Msg("connected to Redis task registry")

	return &RedisRegistry{client: client, prefix: prefix, logger: logger, now: time.Now}, nil
}

func (r *RedisRegistry) key(id string) string { return r.prefix + "task:" + id }

func (r *RedisRegistry) index(order string) string {
	if order == "" {
		order = task.OrderCreateTime
	}
	return r.prefix + "tasks:" + order
}

func orderScore(rec *task.Record, order string) float64 {
	t := rec.SortTime(order)
	if t.IsZero() {
		return missingScore
	}
	return float64(t.UnixNano())
}

// indexRecord queues the index updates for rec on pipe.
func (r *RedisRegistry) indexRecord(ctx context.Context, pipe redis.Pipeliner, rec *task.Record) {
	for _, order := range orderKeys {
		pipe.ZAdd(ctx, r.index(order), redis.Z{Score: orderScore(rec, order), Member: rec.ID})
	}
}

func (r *RedisRegistry) Create(ctx context.Context, rec *task.Record) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(rec.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: task %s already exists", task.ErrConflict, rec.ID)
	}
	if _, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.indexRecord(ctx, pipe, rec)
		return nil
	}); err != nil {
		return fmt.Errorf("redis index: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*task.Record, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeRecord(data)
}

// List reads the order index newest or oldest first in pages and stops once
// the limit is covered. Index scores are float64, so members tied with the
// last score read are fetched too before the exact sort.
func (r *RedisRegistry) List(ctx context.Context, opts ListOptions) ([]*task.Record, error) {
	if err := validOrder(opts.OrderBy); err != nil {
		return nil, err
	}
	idx := r.index(opts.OrderBy)

	if opts.Limit <= 0 {
		ids, err := r.client.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis zrange: %w", err)
		}
		recs, err := r.load(ctx, ids)
		if err != nil {
			return nil, err
		}
		return selectRecords(recs, opts), nil
	}

	batch := int64(max(opts.Limit, redisListBatch))
	var (
		out     []*task.Record
		seen    = make(map[string]struct{})
		matched int
		start   int64
	)
	for {
		page, err := r.client.ZRangeArgsWithScores(ctx, redis.ZRangeArgs{
			Key:   idx,
			Start: start,
			Stop:  start + batch - 1,
			Rev:   !opts.Ascending,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("redis zrange: %w", err)
		}
		if len(page) == 0 {
			break
		}
		start += int64(len(page))

		recs, err := r.load(ctx, memberIDs(page, seen))
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
		matched += countMatching(recs, opts.Statuses)

		if matched >= opts.Limit {
			last := strconv.FormatFloat(page[len(page)-1].Score, 'f', -1, 64)
			tied, err := r.client.ZRangeByScore(ctx, idx, &redis.ZRangeBy{Min: last, Max: last}).Result()
			if err != nil {
				return nil, fmt.Errorf("redis zrangebyscore: %w", err)
			}
			more := make([]string, 0, len(tied))
			for _, id := range tied {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					more = append(more, id)
				}
			}
			recs, err := r.load(ctx, more)
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
			break
		}
		if int64(len(page)) < batch {
			break
		}
	}
	return selectRecords(out, opts), nil
}

func memberIDs(page []redis.Z, seen map[string]struct{}) []string {
	ids := make([]string, 0, len(page))
	for _, z := range page {
		id, _ := z.Member.(string)
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func countMatching(recs []*task.Record, statuses []task.Status) int {
	if len(statuses) == 0 {
		return len(recs)
	}
	n := 0
	for _, rec := range recs {
		if slices.Contains(statuses, rec.Status) {
			n++
		}
	}
	return n
}

// load fetches records by id, skipping index entries whose record is gone.
func (r *RedisRegistry) load(ctx context.Context, ids []string) ([]*task.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]*task.Record, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			r.logger.Debug().Str("task_id", ids[i]).Msg("dangling registry index entry")
			continue
		}
		rec, err := decodeRecord([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisRegistry) Transition(ctx context.Context, id string, from []task.Status, to task.Status, mutate MutateFunc) (*task.Record, error) {
	key := r.key(id)
	var result *task.Record

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return task.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if err := apply(rec, from, to, mutate, r.now()); err != nil {
			return err
		}
		next, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			r.indexRecord(ctx, pipe, rec)
			return nil
		})
		if err == nil {
			result = rec
		}
		return err
	}

	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer won the race; re-read and re-check the status.
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: task %s: too many concurrent updates", task.ErrConflict, id)
}

// Ping reports whether Redis is reachable.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func decodeRecord(data []byte) (*task.Record, error) {
	var rec task.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &rec, nil
}
