package storage

import (
	"testing"

	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/market"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestStoreOfferBookRoundTrip(t *testing.T) {
	s := openTestStore(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	offers := []market.ScoredOffer{
		{
			Offer: market.Offer{
				BondOutpoint: wire.OutPoint{Index: 1},
				BondValue:    42.5,
				MinSize:      btcutil.Amount(1000),
				MaxSize:      btcutil.Amount(100_000),
				Fees: market.FeeModel{
					AbsoluteFeeSats:             500,
					AmountRelativeFeePPM:        100,
					TimeRelativeFeeSatsPerBlock: 1,
				},
				MinLocktime:  144,
				OnionAddress: "maker1.onion",
				Expiry:       1_800_000_000,
			},
			Bond: market.Bond{
				Outpoint:     wire.OutPoint{Index: 1},
				LockedAmount: btcutil.Amount(5_000_000),
				LockUntil:    700_000,
				BondPubKey:   priv.PubKey(),
			},
			Score: 42.5,
		},
	}

	require.NoError(t, s.PutOfferBook(offers))

	loaded, err := s.LoadOfferBook()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, offers[0].Offer, loaded[0].Offer)
	require.Equal(t, offers[0].Bond.Outpoint, loaded[0].Bond.Outpoint)
	require.Equal(t, offers[0].Bond.LockedAmount, loaded[0].Bond.LockedAmount)
	require.Equal(t, offers[0].Bond.LockUntil, loaded[0].Bond.LockUntil)
	require.True(t, offers[0].Bond.BondPubKey.IsEqual(loaded[0].Bond.BondPubKey))
	require.Equal(t, offers[0].Score, loaded[0].Score)

	// A second Put fully replaces the prior snapshot rather than
	// appending to it.
	require.NoError(t, s.PutOfferBook(nil))
	loaded, err = s.LoadOfferBook()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestStoreBanRoundTrip(t *testing.T) {
	s := openTestStore(t)

	entry := market.BanEntry{
		Outpoint: wire.OutPoint{Index: 7},
		Reason:   market.BanReasonUnilateralBroadcast,
		BannedAt: 1_700_000_000,
	}
	require.NoError(t, s.PutBan(entry))

	bans, err := s.LoadBans()
	require.NoError(t, err)
	require.True(t, bans.Contains(entry.Outpoint))

	entries := bans.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, entry, entries[0])
}

func TestStoreWatchEntryRoundTrip(t *testing.T) {
	s := openTestStore(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	contractTx := wire.NewMsgTx(2)
	contractTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 9}, nil, nil))
	contractTx.AddTxOut(wire.NewTxOut(100_000, []byte{0x00, 0x20}))

	preimage := contract.Preimage{1, 2, 3}
	contractOutpoint := wire.OutPoint{Index: 3}
	entry := WatchEntry{
		SessionID:               "session-1",
		FundingOutpoint:         wire.OutPoint{Index: 2},
		OwnContractTx:           contractTx,
		ContractOutpoint:        &contractOutpoint,
		ContractConfirmedHeight: 690_210,
		HashlockPubKey:          priv.PubKey(),
		TimelockPubKey:          priv.PubKey(),
		Hash:                    preimage.Hash(),
		Timelock:                144,
		Role:                    contract.RoleReceiver,
		PrivKey:                 priv.Serialize(),
		Preimage:                &preimage,
		Broadcast:               true,
		CreatedAt:               1_700_000_500,
	}
	require.NoError(t, s.PutWatchEntry(entry))

	loaded, err := s.LoadWatchEntries()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, entry.SessionID, loaded[0].SessionID)
	require.Equal(t, entry.FundingOutpoint, loaded[0].FundingOutpoint)
	require.Equal(t, contractTx.TxHash(), loaded[0].OwnContractTx.TxHash())
	require.NotNil(t, loaded[0].ContractOutpoint)
	require.Equal(t, *entry.ContractOutpoint, *loaded[0].ContractOutpoint)
	require.Equal(t, entry.ContractConfirmedHeight, loaded[0].ContractConfirmedHeight)
	require.True(t, entry.HashlockPubKey.IsEqual(loaded[0].HashlockPubKey))
	require.True(t, entry.TimelockPubKey.IsEqual(loaded[0].TimelockPubKey))
	require.Equal(t, entry.Hash, loaded[0].Hash)
	require.Equal(t, entry.Timelock, loaded[0].Timelock)
	require.Equal(t, entry.Role, loaded[0].Role)
	require.Equal(t, entry.PrivKey, loaded[0].PrivKey)
	require.NotNil(t, loaded[0].Preimage)
	require.Equal(t, *entry.Preimage, *loaded[0].Preimage)
	require.True(t, loaded[0].Broadcast)

	require.NoError(t, s.DeleteWatchEntry(entry.FundingOutpoint))
	loaded, err = s.LoadWatchEntries()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestStoreSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutSession("session-a", []byte("snapshot-a")))
	require.NoError(t, s.PutSession("session-b", []byte("snapshot-b")))

	got, err := s.LoadSession("session-a")
	require.NoError(t, err)
	require.Equal(t, []byte("snapshot-a"), got)

	all, err := s.LoadAllSessions()
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, s.DeleteSession("session-a"))
	got, err = s.LoadSession("session-a")
	require.NoError(t, err)
	require.Nil(t, got)
}
