// Package storage persists the offer book cache, the ban list, watcher
// progress, and in-flight session state to an embedded bbolt database,
// generalizing the teacher's loopdb/store.go bucket-per-concern layout
// past a single swap-contract table.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	dbFileName = "coinswap.db"

	// offerBucketKey holds the last-synced, scored offer book so a
	// restarted Taker has candidates to route through before its first
	// sync completes (spec.md SPEC_FULL.md supplemental feature 5).
	//
	// maps: bond outpoint (36 bytes) -> serialized ScoredOffer
	offerBucketKey = []byte("offers")

	// banBucketKey is the append-only ban log (spec §5).
	//
	// maps: bond outpoint (36 bytes) -> serialized BanEntry
	banBucketKey = []byte("bans")

	// watchBucketKey holds the watchtower's per-outpoint tracking state
	// so a restarted Maker or Taker resumes watching rather than
	// silently dropping coverage of a live contract.
	//
	// maps: outpoint (36 bytes) -> serialized WatchEntry
	watchBucketKey = []byte("watch")

	// sessionBucketKey holds in-flight SwapSession/ConnectionState
	// snapshots for crash recovery.
	//
	// maps: session id -> serialized session snapshot
	sessionBucketKey = []byte("sessions")
)

// Store wraps a single bbolt database file holding every bucket the
// daemon needs. Both takerd and makerd open one of these against their
// own data directory; the buckets they don't use are simply never
// populated.
type Store struct {
	db *bbolt.DB
}

// New opens (creating if necessary) the coinswap store at dbPath,
// ensuring every top-level bucket exists.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dbPath, dbFileName)
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, key := range [][]byte{offerBucketKey, banBucketKey, watchBucketKey, sessionBucketKey} {
			if _, err := tx.CreateBucketIfNotExists(key); err != nil {
				return fmt.Errorf("create bucket %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
