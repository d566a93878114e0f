package market

import (
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/wire"
)

// ScoredOffer pairs an Offer with the Bond backing it and the bond's
// value at the time it was last synced, so selection doesn't recompute
// value on every route decision.
type ScoredOffer struct {
	Offer Offer
	Bond  Bond
	Score float64
}

// OfferBook holds the client's view of the marketplace (spec §3): an
// ordered set of offers and a persistent banned-bond set. Reads never
// block: the offer slice is swapped atomically on each sync, so a
// route-selection read never contends with an in-progress refresh
// (spec §5, "Offer book: copy-on-write; readers never block").
type OfferBook struct {
	offers atomic.Pointer[[]ScoredOffer]

	banMu sync.RWMutex
	ban   BanList
}

// NewOfferBook creates an OfferBook seeded with a previously persisted
// ban list, so a restarted daemon does not re-trust a banned bond
// before its next sync (spec §9, "load on startup").
func NewOfferBook(ban BanList) *OfferBook {
	book := &OfferBook{ban: ban}
	empty := make([]ScoredOffer, 0)
	book.offers.Store(&empty)
	return book
}

// Snapshot returns the current offer set. The returned slice must be
// treated as immutable by the caller; a concurrent Replace does not
// mutate it.
func (b *OfferBook) Snapshot() []ScoredOffer {
	return *b.offers.Load()
}

// Replace atomically installs a freshly synced offer set, filtering out
// any offer whose bond outpoint is on the ban list (spec §3, "an offer
// whose bond is banned is filtered out").
func (b *OfferBook) Replace(offers []ScoredOffer) {
	b.banMu.RLock()
	filtered := make([]ScoredOffer, 0, len(offers))
	for _, o := range offers {
		if !b.ban.Contains(o.Bond.Outpoint) {
			filtered = append(filtered, o)
		}
	}
	b.banMu.RUnlock()

	b.offers.Store(&filtered)
}

// Ban marks a bond outpoint as banned and immediately drops any offer
// backed by it from the current snapshot (spec §4.4, "Bans are
// persisted by bond-outpoint").
func (b *OfferBook) Ban(reason BanReason, outpoint wire.OutPoint) {
	b.banMu.Lock()
	b.ban = b.ban.Add(outpoint, reason)
	b.banMu.Unlock()

	current := b.Snapshot()
	filtered := make([]ScoredOffer, 0, len(current))
	for _, o := range current {
		if o.Bond.Outpoint != outpoint {
			filtered = append(filtered, o)
		}
	}
	b.offers.Store(&filtered)
}

// IsBanned reports whether a bond outpoint is currently banned.
func (b *OfferBook) IsBanned(outpoint wire.OutPoint) bool {
	b.banMu.RLock()
	defer b.banMu.RUnlock()
	return b.ban.Contains(outpoint)
}

// BanSnapshot returns a copy of the current ban list, used to persist
// it to storage.
func (b *OfferBook) BanSnapshot() BanList {
	b.banMu.RLock()
	defer b.banMu.RUnlock()
	return b.ban.Clone()
}
