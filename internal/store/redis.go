package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps each room as a JSON document under one key. Transactions
// use WATCH/MULTI on that key; every commit is published on a per-room
// channel inside the same MULTI.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

// NewRedisStore connects with a redis:// URL and verifies the connection.
func NewRedisStore(ctx context.Context, url string, opts Options) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, opts), nil
}

func NewRedisStoreFromClient(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts.withDefaults()}
}

func (rs *RedisStore) roomKey(roomID string) string {
	return fmt.Sprintf("%s:room:%s", rs.opts.Namespace, roomID)
}

func (rs *RedisStore) changesChannel(roomID string) string {
	return fmt.Sprintf("%s:room:%s:changes", rs.opts.Namespace, roomID)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (rs *RedisStore) read(ctx context.Context, c stringGetter, roomID string) (document, error) {
	data, err := c.Get(ctx, rs.roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return document{}, ErrNotFound
	}
	if err != nil {
		return document{}, fmt.Errorf("get room %s: %w", roomID, err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return document{}, err
	}
	if doc.Deleted || doc.Room == nil {
		return document{}, ErrNotFound
	}
	return doc, nil
}

// queueWrite adds the write (or delete) and its publication to a pipeline.
func (rs *RedisStore) queueWrite(ctx context.Context, pipe redis.Pipeliner, roomID string, version int64, room *engine.Room) error {
	data, err := encodeDocument(version, room)
	if err != nil {
		return err
	}
	key := rs.roomKey(roomID)
	if room == nil {
		pipe.Del(ctx, key)
	} else {
		pipe.Set(ctx, key, data, rs.opts.RoomTTL)
	}
	pipe.Publish(ctx, rs.changesChannel(roomID), data)
	return nil
}

func (rs *RedisStore) Get(ctx context.Context, roomID string) (engine.Room, int64, error) {
	doc, err := rs.read(ctx, rs.client, roomID)
	if err != nil {
		return engine.Room{}, 0, err
	}
	return *doc.Room, doc.Version, nil
}

func (rs *RedisStore) Create(ctx context.Context, room engine.Room) (int64, error) {
	const version = 1
	data, err := encodeDocument(version, &room)
	if err != nil {
		return 0, err
	}
	ok, err := rs.client.SetNX(ctx, rs.roomKey(room.ID), data, rs.opts.RoomTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("create room %s: %w", room.ID, err)
	}
	if !ok {
		return 0, ErrAlreadyExists
	}
	if err := rs.client.Publish(ctx, rs.changesChannel(room.ID), data).Err(); err != nil {
		zap.L().Warn("publish room creation failed", zap.String("room_id", room.ID), zap.Error(err))
	}
	return version, nil
}

func (rs *RedisStore) Transact(ctx context.Context, roomID string, fn TxFunc) (int64, error) {
	key := rs.roomKey(roomID)

	for attempt := 1; attempt <= rs.opts.MaxRetries; attempt++ {
		var committed int64

		err := rs.client.Watch(ctx, func(tx *redis.Tx) error {
			doc, err := rs.read(ctx, tx, roomID)
			if err != nil {
				return err
			}
			next, err := fn(*doc.Room)
			if err != nil {
				return err
			}
			committed = doc.Version + 1
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return rs.queueWrite(ctx, pipe, roomID, committed, next)
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			zap.L().Debug("room transaction conflict",
				zap.String("room_id", roomID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return 0, err
		}
		return committed, nil
	}
	return 0, ErrAborted
}

func (rs *RedisStore) Update(ctx context.Context, roomID string, patch PatchFunc) (int64, error) {
	doc, err := rs.read(ctx, rs.client, roomID)
	if err != nil {
		return 0, err
	}
	patch(doc.Room)
	version := doc.Version + 1

	pipe := rs.client.TxPipeline()
	if err := rs.queueWrite(ctx, pipe, roomID, version, doc.Room); err != nil {
		return 0, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("update room %s: %w", roomID, err)
	}
	return version, nil
}

func (rs *RedisStore) Delete(ctx context.Context, roomID string) error {
	_, err := rs.Transact(ctx, roomID, func(engine.Room) (*engine.Room, error) {
		return nil, nil
	})
	return err
}

func (rs *RedisStore) Subscribe(ctx context.Context, roomID string) (<-chan Change, error) {
	pubsub := rs.client.Subscribe(ctx, rs.changesChannel(roomID))
	// Wait for the subscription to be live before reading the snapshot so
	// no commit can fall between the two.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe room %s: %w", roomID, err)
	}

	doc, err := rs.read(ctx, rs.client, roomID)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := newChangeStream(1)
	out.send(ctx, doc.change(roomID))

	go func() {
		defer close(out.out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				published, err := decodeDocument([]byte(msg.Payload))
				if err != nil {
					if !out.send(ctx, Change{RoomID: roomID, Err: err}) {
						return
					}
					continue
				}
				if !out.send(ctx, published.change(roomID)) {
					return
				}
				if published.Deleted {
					return
				}
			}
		}
	}()
	return out.out, nil
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
