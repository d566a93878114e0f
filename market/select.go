package market

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

// SelectRoute chooses hopCount Makers from the given candidate offers
// by weighted random sampling proportional to bond value, applying a
// minimum-fee filter and refusing to reuse the same bond twice in one
// route (spec §4.4, "Maker selection").
//
// candidates must already be filtered to offers that accept sendAmount
// and pass ban/signature/UTXO validation — SelectRoute only handles the
// weighted-without-replacement sampling and the fee floor.
func SelectRoute(candidates []ScoredOffer, hopCount int, sendAmount int64, minFeeSats int64, lockedBlocks int64) ([]ScoredOffer, error) {
	if hopCount < 2 {
		return nil, fmt.Errorf("hop count must be at least 2, got %d", hopCount)
	}

	pool := make([]ScoredOffer, 0, len(candidates))
	for _, c := range candidates {
		fee := int64(c.Offer.Fees.Cost(btcutil.Amount(sendAmount), lockedBlocks))
		if fee < minFeeSats {
			continue
		}
		pool = append(pool, c)
	}

	if len(pool) < hopCount {
		return nil, fmt.Errorf("not enough eligible offers: need %d, have %d", hopCount, len(pool))
	}

	route := make([]ScoredOffer, 0, hopCount)
	usedBonds := make(map[[36]byte]bool, hopCount)

	for len(route) < hopCount {
		if len(pool) == 0 {
			return nil, fmt.Errorf("exhausted offer pool before filling %d hops", hopCount)
		}

		idx, err := weightedPick(pool)
		if err != nil {
			return nil, err
		}

		picked := pool[idx]
		pool = append(pool[:idx], pool[idx+1:]...)

		key := bondKey(picked.Bond)
		if usedBonds[key] {
			continue
		}
		usedBonds[key] = true
		route = append(route, picked)
	}

	return route, nil
}

// weightedPick draws one index from pool with probability proportional
// to each entry's Score, using crypto/rand for the draw so route
// selection cannot be biased by an adversary who can predict a
// pseudo-random seed (spec is silent on this, but the offer book
// decides which real money a Taker exposes itself to — the same
// threat model as key generation).
func weightedPick(pool []ScoredOffer) (int, error) {
	var total float64
	for _, o := range pool {
		total += o.Score
	}
	if total <= 0 {
		// All remaining candidates scored zero (expired or valueless
		// bonds slipped through); fall back to uniform choice rather
		// than fail the route outright.
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool))))
		if err != nil {
			return 0, fmt.Errorf("select uniform fallback: %w", err)
		}
		return int(n.Int64()), nil
	}

	// Scale to a fixed-point integer range for crypto/rand.Int, which
	// only draws uniform integers.
	const scale = 1 << 32
	target, err := rand.Int(rand.Reader, big.NewInt(int64(total*scale)))
	if err != nil {
		return 0, fmt.Errorf("draw weighted sample: %w", err)
	}
	targetF := float64(target.Int64()) / scale

	var cumulative float64
	for i, o := range pool {
		cumulative += o.Score
		if targetF < cumulative {
			return i, nil
		}
	}
	return len(pool) - 1, nil
}

func bondKey(b Bond) [36]byte {
	var key [36]byte
	copy(key[:32], b.Outpoint.Hash[:])
	binary.LittleEndian.PutUint32(key[32:], b.Outpoint.Index)
	return key
}
