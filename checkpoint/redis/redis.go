// Package redis provides a Redis-backed CheckpointStore. Threads and
// checkpoints are stored as JSON values under a namespaced key scheme; the
// per-thread latest pointer is advanced by a Lua script so the
// compare-and-swap of Put stays atomic on the server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/threadmesh/core"
)

// casScript compare-and-swaps the thread's latest pointer while writing the
// checkpoint record in the same atomic step.
//
//	KEYS[1] latest pointer key
//	KEYS[2] checkpoint record key
//	ARGV[1] asserted parent checkpoint id
//	ARGV[2] thread origin checkpoint id ("" for organic threads)
//	ARGV[3] new checkpoint id
//	ARGV[4] checkpoint JSON
var casScript = redis.NewScript(`
local latest = redis.call('GET', KEYS[1])
if latest == false then latest = '' end
if latest == '' then
  if ARGV[1] ~= ARGV[2] then return 0 end
else
  if latest ~= ARGV[1] then return 0 end
end
redis.call('SET', KEYS[2], ARGV[4])
redis.call('SET', KEYS[1], ARGV[3])
return 1
`)

// Options configures the Redis store.
type Options struct {
	// Namespace prefixes every key so multiple deployments can share one
	// Redis instance.
	Namespace string
}

// Store is a durable CheckpointStore on Redis. It is safe for concurrent
// use from multiple goroutines and multiple processes; the CAS script is
// the single writer coordination point per thread.
type Store struct {
	rdb  *redis.Client
	opts Options
}

// New creates a Store from Redis connection options.
func New(redisOpts *redis.Options, optFns ...func(o *Options)) *Store {
	opts := Options{Namespace: "threadmesh"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{rdb: redis.NewClient(redisOpts), opts: opts}
}

// NewFromClient creates a Store reusing an existing client.
func NewFromClient(client *redis.Client, optFns ...func(o *Options)) *Store {
	opts := Options{Namespace: "threadmesh"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{rdb: client, opts: opts}
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error { return s.rdb.Close() }

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) threadKey(id string) string {
	return fmt.Sprintf("%s:thread:%s", s.opts.Namespace, id)
}

func (s *Store) latestKey(id string) string {
	return fmt.Sprintf("%s:latest:%s", s.opts.Namespace, id)
}

func (s *Store) checkpointKey(id string) string {
	return fmt.Sprintf("%s:checkpoint:%s", s.opts.Namespace, id)
}

// CreateThread registers a new thread record.
func (s *Store) CreateThread(ctx context.Context, threadID, origin string) (*core.Thread, error) {
	t := &core.Thread{ID: threadID, Created: time.Now().UTC(), Origin: origin}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, core.NewPersistenceError("thread", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.threadKey(threadID), raw, 0).Result()
	if err != nil {
		return nil, core.NewPersistenceError("thread", err)
	}
	if !ok {
		return nil, core.ErrThreadExists
	}
	return t, nil
}

// GetThread returns the thread record.
func (s *Store) GetThread(ctx context.Context, threadID string) (*core.Thread, error) {
	raw, err := s.rdb.Get(ctx, s.threadKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrThreadNotFound
	}
	if err != nil {
		return nil, core.NewPersistenceError("thread", err)
	}
	var t core.Thread
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, core.NewPersistenceError("thread", err)
	}
	latest, err := s.rdb.Get(ctx, s.latestKey(threadID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, core.NewPersistenceError("thread", err)
	}
	t.LatestID = latest
	return &t, nil
}

// RetireThread marks the thread retired. The flag is read before every Put.
func (s *Store) RetireThread(ctx context.Context, threadID string) error {
	t, err := s.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	t.Retired = true
	t.LatestID = "" // latest lives under its own key
	raw, err := json.Marshal(t)
	if err != nil {
		return core.NewPersistenceError("thread", err)
	}
	if err := s.rdb.Set(ctx, s.threadKey(threadID), raw, 0).Err(); err != nil {
		return core.NewPersistenceError("thread", err)
	}
	return nil
}

// Put appends a checkpoint. The latest pointer advance and the record write
// happen in one server-side script, so a lost CAS race writes nothing.
func (s *Store) Put(ctx context.Context, cp *core.Checkpoint) (string, error) {
	t, err := s.GetThread(ctx, cp.ThreadID)
	if err != nil {
		return "", err
	}
	if t.Retired {
		return "", core.ErrThreadRetired
	}

	stored := cp.Clone()
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return "", core.NewPersistenceError("put", err)
	}

	res, err := casScript.Run(ctx, s.rdb,
		[]string{s.latestKey(cp.ThreadID), s.checkpointKey(stored.ID)},
		cp.ParentID, t.Origin, stored.ID, raw,
	).Int()
	if err != nil {
		return "", core.NewPersistenceError("put", err)
	}
	if res != 1 {
		return "", core.ErrStaleParent
	}
	return stored.ID, nil
}

// Get returns a checkpoint of the thread by id or the sentinel Latest.
func (s *Store) Get(ctx context.Context, threadID, checkpointID string) (*core.Checkpoint, error) {
	if checkpointID == core.Latest {
		latest, err := s.rdb.Get(ctx, s.latestKey(threadID)).Result()
		if errors.Is(err, redis.Nil) {
			if _, terr := s.GetThread(ctx, threadID); terr != nil {
				return nil, terr
			}
			return nil, core.ErrCheckpointNotFound
		}
		if err != nil {
			return nil, core.NewPersistenceError("get", err)
		}
		checkpointID = latest
	}
	cp, err := s.Resolve(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.ThreadID != threadID {
		return nil, core.ErrCheckpointNotFound
	}
	return cp, nil
}

// Resolve looks a checkpoint up by id alone.
func (s *Store) Resolve(ctx context.Context, checkpointID string) (*core.Checkpoint, error) {
	raw, err := s.rdb.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, core.NewPersistenceError("get", err)
	}
	var cp core.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, core.NewPersistenceError("get", err)
	}
	return &cp, nil
}
