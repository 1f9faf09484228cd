// Package chunkstore is a bbolt-backed stand-in for the chunked
// tensor storage a real worker writes domain output into. The worker
// test harness (cmd/worker) uses it to mark a block's chunk written,
// so tests can assert the write count matches the confirmed block
// count.
package chunkstore

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cpape/butler/internal/inventory"
)

const chunksBucket = "chunks"

// Store records which blocks have had their chunk written.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) a bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(chunksBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create chunk bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// WriteChunk marks block's chunk as written, storing the time it was
// written for diagnostic purposes.
func (s *Store) WriteChunk(block inventory.Block) error {
	key, err := json.Marshal([]int64(block))
	if err != nil {
		return fmt.Errorf("failed to encode block key: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(chunksBucket))
		return b.Put(key, []byte(time.Now().Format(time.RFC3339Nano)))
	})
}

// Written reports whether block's chunk has been written.
func (s *Store) Written(block inventory.Block) (bool, error) {
	key, err := json.Marshal([]int64(block))
	if err != nil {
		return false, fmt.Errorf("failed to encode block key: %w", err)
	}

	var found bool
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(chunksBucket))
		found = b.Get(key) != nil
		return nil
	})
	return found, err
}

// Count returns the number of distinct blocks whose chunk has been
// written.
func (s *Store) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(chunksBucket))
		return b.ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
