package taker

import (
	"fmt"
	"net"
	"testing"

	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/market"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestRecoverAbortsWhenNothingFunded(t *testing.T) {
	sess := &Session{
		ID:    "sess-1",
		Hops:  []*HopState{{Index: 1}, {Index: 2}},
		Phase: PhaseNegotiating,
	}
	book := market.NewOfferBook(market.NewBanList())

	out := Recover(sess, book, fmt.Errorf("maker unresponsive"))
	require.Equal(t, PhaseAborted, out.FinalPhase)
	require.Empty(t, out.FundedHops)
	require.Nil(t, out.Banned)
	require.Equal(t, PhaseAborted, sess.Phase)
}

func TestRecoverMovesToRecoveringWhenAHopIsFunded(t *testing.T) {
	fundedHop := &HopState{
		Index: 1,
		Fundings: []*HopFunding{{
			FundingTx: wire.NewMsgTx(contract.TxVersion),
		}},
	}
	sess := &Session{
		ID:    "sess-2",
		Hops:  []*HopState{fundedHop, {Index: 2}},
		Phase: PhaseFunding,
	}
	book := market.NewOfferBook(market.NewBanList())

	out := Recover(sess, book, fmt.Errorf("maker dropped connection"))
	require.Equal(t, PhaseRecovering, out.FinalPhase)
	require.Equal(t, []int{1}, out.FundedHops)
	require.Equal(t, PhaseRecovering, sess.Phase)
}

func TestRecoverBansOffendingMaker(t *testing.T) {
	sess := &Session{ID: "sess-3", Hops: []*HopState{{Index: 1}}}
	book := market.NewOfferBook(market.NewBanList())

	bond := market.Bond{Outpoint: wire.OutPoint{Index: 9}}
	err := MakerFault{Hop: 1, Bond: bond, Reason: market.BanReasonMalformedMessage}

	out := Recover(sess, book, err)
	require.NotNil(t, out.Banned)
	require.True(t, book.IsBanned(bond.Outpoint))
}

func TestDialWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	dialer := func(network, addr string) (net.Conn, error) {
		attempts++
		return nil, fmt.Errorf("connection refused")
	}

	_, err := DialWithRetry("unreachable.onion", 2, dialer)
	require.Error(t, err)
	require.Equal(t, 2, attempts)
}
