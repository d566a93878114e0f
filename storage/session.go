package storage

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// PutSession persists an opaque snapshot of an in-flight swap session,
// keyed by session ID. The storage package doesn't know the shape of a
// SwapSession or ConnectionState — the taker and maker packages own
// that serialization and hand this package a finished blob, the same
// separation the teacher draws between loopdb's bucket layout and the
// swap package's own encoding of its state.
func (s *Store) PutSession(sessionID string, snapshot []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sessionBucketKey)
		return bucket.Put([]byte(sessionID), snapshot)
	})
}

// LoadSession returns a session's persisted snapshot, or nil if none is
// on record.
func (s *Store) LoadSession(sessionID string) ([]byte, error) {
	var snapshot []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sessionBucketKey)
		if v := bucket.Get([]byte(sessionID)); v != nil {
			snapshot = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return snapshot, nil
}

// DeleteSession removes a session's snapshot once it has reached a
// terminal state and no longer needs crash recovery.
func (s *Store) DeleteSession(sessionID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sessionBucketKey)
		return bucket.Delete([]byte(sessionID))
	})
}

// LoadAllSessions returns every persisted session ID with its snapshot,
// used on startup to resume or fail-safe recover in-flight swaps (spec
// §4.1, recovery path; spec §9, "flush on clean shutdown").
func (s *Store) LoadAllSessions() (map[string][]byte, error) {
	sessions := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sessionBucketKey)
		return bucket.ForEach(func(k, v []byte) error {
			sessions[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
