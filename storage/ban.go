package storage

import (
	"fmt"

	"github.com/binaryswap/coinswap/market"
	"go.etcd.io/bbolt"
)

// PutBan appends a ban entry to the persistent log. The log is
// append-only in spirit even though the bucket is keyed by outpoint:
// callers only ever add a new outpoint or leave an existing one alone,
// matching market.BanList's first-ban-wins rule.
func (s *Store) PutBan(entry market.BanEntry) error {
	enc := newEncoder()
	enc.writeOutpoint(entry.Outpoint)
	enc.writeUint32(uint32(entry.Reason))
	enc.writeInt64(entry.BannedAt)
	val, err := enc.bytes()
	if err != nil {
		return fmt.Errorf("encode ban entry: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(banBucketKey)
		return bucket.Put(outpointKey(entry.Outpoint), val)
	})
}

// LoadBans rebuilds the ban list from disk, used on daemon startup so a
// previously banned bond is never trusted again before the first offer
// sync (spec §9, "load on startup").
func (s *Store) LoadBans() (market.BanList, error) {
	var entries []market.BanEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(banBucketKey)
		return bucket.ForEach(func(k, v []byte) error {
			dec := newDecoder(v)
			entry := market.BanEntry{
				Outpoint: dec.readOutpoint(),
				Reason:   market.BanReason(dec.readUint32()),
				BannedAt: dec.readInt64(),
			}
			if err := dec.finish(); err != nil {
				return fmt.Errorf("decode ban entry: %w", err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return market.BanList{}, err
	}

	return market.FromEntries(entries), nil
}
