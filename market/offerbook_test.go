package market

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestOfferBookReplaceFiltersBanned(t *testing.T) {
	book := NewOfferBook(NewBanList())

	bannedOutpoint := wire.OutPoint{Index: 1}
	book.Ban(BanReasonUnilateralBroadcast, bannedOutpoint)

	offers := []ScoredOffer{
		{Bond: Bond{Outpoint: bannedOutpoint}, Score: 10},
		{Bond: Bond{Outpoint: wire.OutPoint{Index: 2}}, Score: 5},
	}
	book.Replace(offers)

	snapshot := book.Snapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, wire.OutPoint{Index: 2}, snapshot[0].Bond.Outpoint)
}

func TestOfferBookBanDropsExistingOffer(t *testing.T) {
	book := NewOfferBook(NewBanList())

	outpoint := wire.OutPoint{Index: 3}
	book.Replace([]ScoredOffer{{Bond: Bond{Outpoint: outpoint}, Score: 1}})
	require.Len(t, book.Snapshot(), 1)

	book.Ban(BanReasonMalformedMessage, outpoint)
	require.Empty(t, book.Snapshot())
	require.True(t, book.IsBanned(outpoint))
}

func TestOfferBookSnapshotIsolation(t *testing.T) {
	book := NewOfferBook(NewBanList())
	book.Replace([]ScoredOffer{{Bond: Bond{Outpoint: wire.OutPoint{Index: 5}}, Score: 1}})

	snap1 := book.Snapshot()
	book.Replace([]ScoredOffer{{Bond: Bond{Outpoint: wire.OutPoint{Index: 6}}, Score: 1}})
	snap2 := book.Snapshot()

	require.Len(t, snap1, 1)
	require.Equal(t, wire.OutPoint{Index: 5}, snap1[0].Bond.Outpoint)
	require.Len(t, snap2, 1)
	require.Equal(t, wire.OutPoint{Index: 6}, snap2[0].Bond.Outpoint)
}

func TestBanListAddIsImmutable(t *testing.T) {
	base := NewBanList()
	outpoint := wire.OutPoint{Index: 9}

	updated := base.Add(outpoint, BanReasonUnilateralBroadcast)
	require.False(t, base.Contains(outpoint))
	require.True(t, updated.Contains(outpoint))
}
