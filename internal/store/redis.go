package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// RedisClient is the minimal key-value surface RedisStore needs.
// GoRedisAdapter implements it over go-redis; tests use an in-memory fake.
type RedisClient interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Update runs fn against the current value under an optimistic watch and
	// writes the result. A concurrent write to key yields ErrConflict.
	Update(ctx context.Context, key string, fn func(current []byte, exists bool) ([]byte, error)) error
	Del(ctx context.Context, key string) (int64, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	RPush(ctx context.Context, key string, value []byte) error
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// RedisStore implements Store on top of a RedisClient.
type RedisStore struct {
	client RedisClient
	prefix string
}

// NewRedis wraps client. Keys are namespaced under prefix (default "sentinel").
func NewRedis(client RedisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sentinel"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) stateKey(threadID string) string { return s.prefix + ":state:" + threadID }
func (s *RedisStore) indexKey() string                 { return s.prefix + ":threads" }
func (s *RedisStore) historyKey() string               { return s.prefix + ":history" }

func (s *RedisStore) Migrate(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx), "redis: ping")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Load(ctx context.Context, threadID string) (*model.WorkflowState, error) {
	data, ok, err := s.client.Get(ctx, s.stateKey(threadID))
	if err != nil {
		return nil, eris.Wrapf(err, "redis: load state %s", threadID)
	}
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	var st model.WorkflowState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, eris.Wrap(err, "redis: unmarshal state")
	}
	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, state *model.WorkflowState) error {
	if err := state.Validate(); err != nil {
		return eris.Wrap(err, "redis: save")
	}
	next := state.Version + 1
	data, err := encodeState(state, next)
	if err != nil {
		return err
	}

	err = s.client.Update(ctx, s.stateKey(state.ThreadID), func(current []byte, exists bool) ([]byte, error) {
		var have int64
		if exists {
			var probe struct {
				Version int64 `json:"version"`
			}
			if err := json.Unmarshal(current, &probe); err != nil {
				return nil, eris.Wrap(err, "redis: unmarshal version")
			}
			have = probe.Version
		}
		if have != state.Version {
			return nil, eris.Wrapf(ErrConflict, "thread %s: have %d, want %d", state.ThreadID, state.Version, have)
		}
		return data, nil
	})
	if err != nil {
		return eris.Wrapf(err, "redis: save state %s", state.ThreadID)
	}
	if state.Version == 0 {
		if err := s.client.SAdd(ctx, s.indexKey(), state.ThreadID); err != nil {
			return eris.Wrap(err, "redis: index thread")
		}
	}
	state.Version = next
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	n, err := s.client.Del(ctx, s.stateKey(threadID))
	if err != nil {
		return eris.Wrapf(err, "redis: delete state %s", threadID)
	}
	if err := s.client.SRem(ctx, s.indexKey(), threadID); err != nil {
		zap.L().Warn("redis: failed to unindex thread", zap.String("thread_id", threadID), zap.Error(err))
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey())
	if err != nil {
		return nil, eris.Wrap(err, "redis: list states")
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) AppendAction(ctx context.Context, rec model.ActionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "redis: marshal action")
	}
	return eris.Wrap(s.client.RPush(ctx, s.historyKey(), data), "redis: append action")
}

func (s *RedisStore) RecentActions(ctx context.Context, k int) ([]model.ActionRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	items, err := s.client.LRange(ctx, s.historyKey(), -int64(k), -1)
	if err != nil {
		return nil, eris.Wrap(err, "redis: recent actions")
	}
	recs := make([]model.ActionRecord, 0, len(items))
	for _, item := range items {
		var r model.ActionRecord
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, eris.Wrap(err, "redis: unmarshal action")
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// GoRedisAdapter wraps go-redis v9 to implement RedisClient.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter connects to Redis and verifies the connection with a ping.
func NewGoRedisAdapter(ctx context.Context, addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "redis: ping %s", addr)
	}

	zap.L().Info("redis connected", zap.String("addr", addr), zap.Int("db", db))
	return &GoRedisAdapter{rdb: rdb}, nil
}

func (a *GoRedisAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := a.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (a *GoRedisAdapter) Update(ctx context.Context, key string, fn func([]byte, bool) ([]byte, error)) error {
	err := a.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return eris.Wrapf(ErrConflict, "key %s changed during update", key)
	}
	return err
}

func (a *GoRedisAdapter) Del(ctx context.Context, key string) (int64, error) {
	return a.rdb.Del(ctx, key).Result()
}

func (a *GoRedisAdapter) SAdd(ctx context.Context, key string, members ...string) error {
	return a.rdb.SAdd(ctx, key, toAny(members)...).Err()
}

func (a *GoRedisAdapter) SRem(ctx context.Context, key string, members ...string) error {
	return a.rdb.SRem(ctx, key, toAny(members)...).Err()
}

func (a *GoRedisAdapter) SMembers(ctx context.Context, key string) ([]string, error) {
	return a.rdb.SMembers(ctx, key).Result()
}

func (a *GoRedisAdapter) RPush(ctx context.Context, key string, value []byte) error {
	return a.rdb.RPush(ctx, key, value).Err()
}

func (a *GoRedisAdapter) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := a.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.rdb.Ping(ctx).Err()
}

func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
