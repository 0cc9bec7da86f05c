package snapshot

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/plus3/colony/codec"
)

// ErrSnapshotNotFound is returned by Load when no snapshot is stored under the name.
var ErrSnapshotNotFound = eris.New("snapshot not found")

const keyPrefix = "colony:snapshot:"

// RedisStore keeps snapshots in redis, one JSON document per name.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore creates a store over client. A zero ttl keeps snapshots forever.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(name string) string {
	return keyPrefix + name
}

// Save stores s under name, replacing any previous snapshot.
func (r *RedisStore) Save(ctx context.Context, name string, s *Snapshot) error {
	bz, err := codec.Encode(s)
	if err != nil {
		return eris.Wrapf(err, "encoding snapshot %s", name)
	}
	if err := r.client.Set(ctx, key(name), bz, r.ttl).Err(); err != nil {
		return eris.Wrapf(err, "saving snapshot %s", name)
	}
	return nil
}

// Load returns the snapshot stored under name.
func (r *RedisStore) Load(ctx context.Context, name string) (*Snapshot, error) {
	bz, err := r.client.Get(ctx, key(name)).Bytes()
	if eris.Is(err, redis.Nil) {
		return nil, eris.Wrapf(ErrSnapshotNotFound, "snapshot %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "loading snapshot %s", name)
	}
	s, err := codec.Decode[Snapshot](bz)
	if err != nil {
		return nil, eris.Wrapf(err, "decoding snapshot %s", name)
	}
	return &s, nil
}

// Delete removes the snapshot stored under name. Deleting a missing snapshot is not an error.
func (r *RedisStore) Delete(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, key(name)).Err(); err != nil {
		return eris.Wrapf(err, "deleting snapshot %s", name)
	}
	return nil
}
