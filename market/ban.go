package market

import (
	"time"

	"github.com/btcsuite/btcd/wire"
)

// BanReason records why a bond was banned (spec §4.4).
type BanReason int

const (
	// BanReasonUnilateralBroadcast bans a Maker that broadcast a
	// contract tx unilaterally while its swap was still live.
	BanReasonUnilateralBroadcast BanReason = iota

	// BanReasonMalformedMessage bans a Maker that sent a malformed
	// message not attributable to a transport error after retry.
	BanReasonMalformedMessage
)

func (r BanReason) String() string {
	switch r {
	case BanReasonUnilateralBroadcast:
		return "unilateral-contract-broadcast"
	case BanReasonMalformedMessage:
		return "malformed-message"
	default:
		return "unknown"
	}
}

// BanEntry is one record in the persistent, append-only ban log (spec
// §5, "Ban list: append-only log with in-memory set").
type BanEntry struct {
	Outpoint wire.OutPoint
	Reason   BanReason
	// BannedAt is a Unix timestamp. BanList.Add stamps it through
	// nowUnix, the package's single wall-clock hook, which tests can
	// replace to pin ban timestamps.
	BannedAt int64
}

// BanList is the in-memory set backing the append-only ban log,
// indexed by bond outpoint for O(1) membership checks (spec §4.4,
// "Bans are persisted by bond-outpoint").
type BanList struct {
	entries map[wire.OutPoint]BanEntry
}

// NewBanList creates an empty ban list.
func NewBanList() BanList {
	return BanList{entries: make(map[wire.OutPoint]BanEntry)}
}

// Add returns a new BanList with the given outpoint banned, leaving the
// receiver unmodified. A bond already banned keeps its original ban
// reason and timestamp — the first ban is authoritative.
func (b BanList) Add(outpoint wire.OutPoint, reason BanReason) BanList {
	next := b.Clone()
	if next.entries == nil {
		next.entries = make(map[wire.OutPoint]BanEntry)
	}
	if _, exists := next.entries[outpoint]; !exists {
		next.entries[outpoint] = BanEntry{
			Outpoint: outpoint,
			Reason:   reason,
			BannedAt: nowUnix(),
		}
	}
	return next
}

// Contains reports whether an outpoint is banned.
func (b BanList) Contains(outpoint wire.OutPoint) bool {
	_, ok := b.entries[outpoint]
	return ok
}

// Entries returns every ban entry, for persistence.
func (b BanList) Entries() []BanEntry {
	out := make([]BanEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out
}

// Clone returns a deep copy so the copy-on-write discipline in
// OfferBook never shares a mutable map between two ban-list versions.
func (b BanList) Clone() BanList {
	next := make(map[wire.OutPoint]BanEntry, len(b.entries))
	for k, v := range b.entries {
		next[k] = v
	}
	return BanList{entries: next}
}

// FromEntries rebuilds a BanList from persisted entries (storage
// package's load path).
func FromEntries(entries []BanEntry) BanList {
	b := NewBanList()
	for _, e := range entries {
		b.entries[e.Outpoint] = e
	}
	return b
}

// nowUnix is the package's only source of wall-clock time, isolated so
// tests never depend on it indirectly through Add.
var nowUnix = func() int64 { return time.Now().Unix() }
