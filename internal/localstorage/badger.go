// Package localstorage provides durable key-value media for the local state store.
package localstorage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Badger stores whole documents under single keys in a Badger database.
type Badger struct {
	db     *badger.DB
	logger *zap.Logger
}

// OpenBadger opens (or creates) a Badger database in dir.
func OpenBadger(dir string, logger *zap.Logger) (*Badger, error) {
	if dir == "" {
		return nil, errors.New("localstorage: data directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("localstorage: open badger: %w", err)
	}
	logger.Debug("local storage opened", zap.String("dir", dir))
	return &Badger{db: db, logger: logger}, nil
}

// Read returns the value stored under key; found is false when the key is absent.
func (b *Badger) Read(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("localstorage: read %s: %w", key, err)
	}
	return value, true, nil
}

// Write replaces the value stored under key.
func (b *Badger) Write(key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("localstorage: write %s: %w", key, err)
	}
	return nil
}

// Delete removes key if present.
func (b *Badger) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("localstorage: delete %s: %w", key, err)
	}
	return nil
}

// Close flushes and closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}
