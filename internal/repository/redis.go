package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"recorder/internal/apperrors"
	"recorder/internal/video"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxWatchRetries bounds optimistic-lock retries when another writer
// touches the same video between WATCH and EXEC.
const maxWatchRetries = 5

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string // host:port
	Password  string
	DB        int
	KeyPrefix string // default: "recorder"
}

// Redis stores videos as JSON strings with one set per status.
//
//	<prefix>:video:<id>        JSON video
//	<prefix>:status:<status>   set of video ids
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
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

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	slog.Info("Connected to Redis", "addr", cfg.Addr, "db", cfg.DB)
	return NewRedisFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "recorder"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) videoKey(id string) string { return r.prefix + ":video:" + id }

func (r *Redis) statusKey(s video.Status) string { return r.prefix + ":status:" + string(s) }

func (r *Redis) load(ctx context.Context, c redis.Cmdable, id string) (*video.Video, error) {
	b, err := c.Get(ctx, r.videoKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NotFound("video", id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get video %s: %w", id, err)
	}
	return decode(b)
}

// Get implements video.Repository.
func (r *Redis) Get(ctx context.Context, id string) (*video.Video, error) {
	return r.load(ctx, r.client, id)
}

// Put implements video.Repository.
func (r *Redis) Put(ctx context.Context, v *video.Video) error {
	if err := validatePut(v); err != nil {
		return err
	}
	b, err := encode(v)
	if err != nil {
		return err
	}
	key := r.videoKey(v.ID)
	return r.watch(ctx, key, func(tx *redis.Tx) error {
		prev, err := r.load(ctx, tx, v.ID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev != nil {
				pipe.SRem(ctx, r.statusKey(prev.Status), v.ID)
			}
			pipe.Set(ctx, key, b, 0)
			pipe.SAdd(ctx, r.statusKey(v.Status), v.ID)
			return nil
		})
		return err
	})
}

// UpdateStatus implements video.Repository.
func (r *Redis) UpdateStatus(ctx context.Context, u video.StatusUpdate) (*video.Video, error) {
	var out *video.Video
	key := r.videoKey(u.ID)
	err := r.watch(ctx, key, func(tx *redis.Tx) error {
		v, err := r.load(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		if err := video.Apply(v, u); err != nil {
			return err
		}
		b, err := encode(v)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.SRem(ctx, r.statusKey(u.From), u.ID)
			pipe.SAdd(ctx, r.statusKey(u.To), u.ID)
			return nil
		})
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetDownloader implements video.Repository.
func (r *Redis) SetDownloader(ctx context.Context, id, downloader string) error {
	key := r.videoKey(id)
	return r.watch(ctx, key, func(tx *redis.Tx) error {
		v, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		v.Downloader = downloader
		b, err := encode(v)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		return err
	})
}

// watch runs fn under WATCH on key, retrying when a concurrent writer
// invalidates the transaction. A retried fn re-reads the video, so a
// status that changed underneath surfaces as ErrStateConflict.
func (r *Redis) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for range maxWatchRetries {
		err := r.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return apperrors.Conflict("video", key, "too many concurrent writers")
}

// ListByStatus implements video.Repository.
func (r *Redis) ListByStatus(ctx context.Context, statuses ...video.Status) ([]*video.Video, error) {
	var out []*video.Video
	for _, s := range statuses {
		ids, err := r.client.SMembers(ctx, r.statusKey(s)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis list %s: %w", s, err)
		}
		for _, id := range ids {
			v, err := r.load(ctx, r.client, id)
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			// The set may lag a concurrent update.
			if v.Status == s {
				out = append(out, v)
			}
		}
	}
	sortByID(out)
	return out, nil
}

// Ping implements video.Repository.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements video.Repository.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ video.Repository = (*Redis)(nil)
