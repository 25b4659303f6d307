// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/restream/internal/task"
)

var badgerTaskPrefix = []byte("task:")

const badgerMaxTxRetries = 16

// BadgerRegistry stores records as JSON under task:<id> in an embedded
// Badger database.
type BadgerRegistry struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadger opens the Badger directory at path.
func NewBadger(path string) (*BadgerRegistry, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerRegistry{db: db, now: time.Now}, nil
}

func (b *BadgerRegistry) Close() error { return b.db.Close() }

func badgerKey(id string) []byte { return append(append([]byte{}, badgerTaskPrefix...), id...) }

func (b *BadgerRegistry) Create(_ context.Context, rec *task.Record) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	key := badgerKey(rec.ID)
	err = b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: task %s already exists", task.ErrConflict, rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, buf)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: task %s already exists", task.ErrConflict, rec.ID)
	}
	return err
}

func (b *BadgerRegistry) Get(_ context.Context, id string) (*task.Record, error) {
	var out *task.Record
	err := b.db.View(func(txn *badger.Txn) error {
		rec, err := readRecord(txn, badgerKey(id))
		out = rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerRegistry) List(ctx context.Context, opts ListOptions) ([]*task.Record, error) {
	if err := validOrder(opts.OrderBy); err != nil {
		return nil, err
	}
	var out []*task.Record
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(badgerTaskPrefix); it.ValidForPrefix(badgerTaskPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec task.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode task: %w", err)
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selectRecords(out, opts), nil
}

func (b *BadgerRegistry) Transition(_ context.Context, id string, from []task.Status, to task.Status, mutate MutateFunc) (*task.Record, error) {
	key := badgerKey(id)
	for attempt := 0; attempt < badgerMaxTxRetries; attempt++ {
		var out *task.Record
		err := b.db.Update(func(txn *badger.Txn) error {
			rec, err := readRecord(txn, key)
			if err != nil {
				return err
			}
			if err := apply(rec, from, to, mutate, b.now()); err != nil {
				return err
			}
			buf, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode task: %w", err)
			}
			out = rec
			return txn.Set(key, buf)
		})
		if errors.Is(err, badger.ErrConflict) {
			// Read set was invalidated by a concurrent commit.
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: task %s: too many concurrent updates", task.ErrConflict, id)
}

func readRecord(txn *badger.Txn, key []byte) (*task.Record, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec task.Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &rec, nil
}
