package storage

import (
	"fmt"

	"github.com/binaryswap/coinswap/market"
	"github.com/btcsuite/btcd/btcutil"
	"go.etcd.io/bbolt"
)

func encodeScoredOffer(so market.ScoredOffer) ([]byte, error) {
	enc := newEncoder()

	enc.writeOutpoint(so.Offer.BondOutpoint)
	enc.writeFloat64(so.Offer.BondValue)
	enc.writeInt64(int64(so.Offer.MinSize))
	enc.writeInt64(int64(so.Offer.MaxSize))
	enc.writeInt64(int64(so.Offer.Fees.AbsoluteFeeSats))
	enc.writeInt64(so.Offer.Fees.AmountRelativeFeePPM)
	enc.writeInt64(int64(so.Offer.Fees.TimeRelativeFeeSatsPerBlock))
	enc.writeInt64(so.Offer.MinLocktime)
	enc.writeString(so.Offer.OnionAddress)
	enc.writeInt64(so.Offer.Expiry)

	enc.writeOutpoint(so.Bond.Outpoint)
	enc.writeInt64(int64(so.Bond.LockedAmount))
	enc.writeUint32(uint32(so.Bond.LockUntil))
	enc.writePubKey(so.Bond.BondPubKey)

	enc.writeFloat64(so.Score)

	return enc.bytes()
}

func decodeScoredOffer(val []byte) (market.ScoredOffer, error) {
	dec := newDecoder(val)

	var so market.ScoredOffer
	so.Offer.BondOutpoint = dec.readOutpoint()
	so.Offer.BondValue = dec.readFloat64()
	so.Offer.MinSize = btcutil.Amount(dec.readInt64())
	so.Offer.MaxSize = btcutil.Amount(dec.readInt64())
	so.Offer.Fees.AbsoluteFeeSats = btcutil.Amount(dec.readInt64())
	so.Offer.Fees.AmountRelativeFeePPM = dec.readInt64()
	so.Offer.Fees.TimeRelativeFeeSatsPerBlock = btcutil.Amount(dec.readInt64())
	so.Offer.MinLocktime = dec.readInt64()
	so.Offer.OnionAddress = dec.readString()
	so.Offer.Expiry = dec.readInt64()

	so.Bond.Outpoint = dec.readOutpoint()
	so.Bond.LockedAmount = btcutil.Amount(dec.readInt64())
	so.Bond.LockUntil = int32(dec.readUint32())
	so.Bond.BondPubKey = dec.readPubKey()

	so.Score = dec.readFloat64()

	if err := dec.finish(); err != nil {
		return market.ScoredOffer{}, fmt.Errorf("decode scored offer: %w", err)
	}
	return so, nil
}

// PutOfferBook overwrites the persisted offer book cache with the
// current snapshot, so a restarted Taker has candidates to route
// through before its first sync completes.
func (s *Store) PutOfferBook(offers []market.ScoredOffer) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		// Clear the bucket before rewriting: the offer book is a full
		// snapshot on every sync, not an append log.
		if err := tx.DeleteBucket(offerBucketKey); err != nil {
			return fmt.Errorf("clear offer bucket: %w", err)
		}
		bucket, err := tx.CreateBucket(offerBucketKey)
		if err != nil {
			return fmt.Errorf("recreate offer bucket: %w", err)
		}

		for _, so := range offers {
			val, err := encodeScoredOffer(so)
			if err != nil {
				return err
			}
			if err := bucket.Put(outpointKey(so.Bond.Outpoint), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadOfferBook returns the last persisted offer book snapshot.
func (s *Store) LoadOfferBook() ([]market.ScoredOffer, error) {
	var offers []market.ScoredOffer

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(offerBucketKey)
		return bucket.ForEach(func(k, v []byte) error {
			so, err := decodeScoredOffer(v)
			if err != nil {
				return err
			}
			offers = append(offers, so)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return offers, nil
}
