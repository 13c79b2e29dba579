package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"recorder/internal/apperrors"
	"recorder/internal/video"

	"github.com/dgraph-io/badger/v4"
)

const badgerVideoPrefix = "video:"

// BadgerConfig configures the embedded Badger store.
type BadgerConfig struct {
	Path     string
	InMemory bool // for tests
}

// Badger stores videos as JSON values under "video:<id>". Status updates
// run in a read-write transaction; Badger's conflict detection rejects a
// commit if another transaction wrote the key first.
type Badger struct {
	db *badger.DB
}

// NewBadger opens (or creates) the Badger directory.
func NewBadger(cfg BadgerConfig) (*Badger, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, apperrors.Validation("path", "badger path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badger: open failed: %w", err)
	}
	return &Badger{db: db}, nil
}

func badgerKey(id string) []byte { return []byte(badgerVideoPrefix + id) }

func badgerLoad(txn *badger.Txn, id string) (*video.Video, error) {
	item, err := txn.Get(badgerKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFound("video", id)
	}
	if err != nil {
		return nil, fmt.Errorf("badger: get video %s: %w", id, err)
	}
	var v *video.Video
	err = item.Value(func(val []byte) error {
		v, err = decode(val)
		return err
	})
	return v, err
}

// Get implements video.Repository.
func (b *Badger) Get(ctx context.Context, id string) (*video.Video, error) {
	var v *video.Video
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		v, err = badgerLoad(txn, id)
		return err
	})
	return v, err
}

// Put implements video.Repository.
func (b *Badger) Put(ctx context.Context, v *video.Video) error {
	if err := validatePut(v); err != nil {
		return err
	}
	buf, err := encode(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(v.ID), buf)
	})
}

// UpdateStatus implements video.Repository.
func (b *Badger) UpdateStatus(ctx context.Context, u video.StatusUpdate) (*video.Video, error) {
	var out *video.Video
	err := b.update(func(txn *badger.Txn) error {
		v, err := badgerLoad(txn, u.ID)
		if err != nil {
			return err
		}
		if err := video.Apply(v, u); err != nil {
			return err
		}
		buf, err := encode(v)
		if err != nil {
			return err
		}
		if err := txn.Set(badgerKey(u.ID), buf); err != nil {
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
func (b *Badger) SetDownloader(ctx context.Context, id, downloader string) error {
	return b.update(func(txn *badger.Txn) error {
		v, err := badgerLoad(txn, id)
		if err != nil {
			return err
		}
		v.Downloader = downloader
		buf, err := encode(v)
		if err != nil {
			return err
		}
		return txn.Set(badgerKey(id), buf)
	})
}

// update retries transactions that lost a write conflict. The retried
// function re-reads the video, so a changed status becomes ErrStateConflict.
func (b *Badger) update(fn func(txn *badger.Txn) error) error {
	for range maxWatchRetries {
		err := b.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			slog.Debug("Badger transaction conflict, retrying")
			continue
		}
		return err
	}
	return apperrors.Conflict("video", "", "too many concurrent writers")
}

// ListByStatus implements video.Repository.
func (b *Badger) ListByStatus(ctx context.Context, statuses ...video.Status) ([]*video.Video, error) {
	match := wanted(statuses)
	var out []*video.Video
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerVideoPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				v, err := decode(val)
				if err != nil {
					return err
				}
				if match(v.Status) {
					out = append(out, v)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByID(out)
	return out, nil
}

// Ping implements video.Repository.
func (b *Badger) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger: database is closed")
	}
	return nil
}

// Close implements video.Repository.
func (b *Badger) Close() error {
	return b.db.Close()
}

var _ video.Repository = (*Badger)(nil)
