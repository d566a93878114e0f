package taker

import (
	"testing"

	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/market"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testRoute(n int) []market.ScoredOffer {
	route := make([]market.ScoredOffer, n)
	for i := 0; i < n; i++ {
		route[i] = market.ScoredOffer{
			Bond: market.Bond{Outpoint: wire.OutPoint{Index: uint32(i)}},
			Offer: market.Offer{
				MinSize:     1,
				MaxSize:     10_000_000,
				MinLocktime: 1,
			},
		}
	}
	return route
}

func testParams(numMakers int) Params {
	return Params{
		SendAmount:            btcutil.Amount(500_000),
		NumMakers:             numMakers,
		TxCountPerHop:         1,
		RequiredConfirmations: 1,
		BaseTimelock:          144,
		TimelockGap:           contract.MinTimelockGap,
	}
}

func TestParamsTotalHops(t *testing.T) {
	require.Equal(t, 3, testParams(2).TotalHops())
	require.Equal(t, 5, testParams(4).TotalHops())
}

func TestNewSessionBuildsNPlusOneHops(t *testing.T) {
	route := testRoute(2)
	sess, err := NewSession("sess-1", testParams(2), route, contract.Preimage{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, sess.Hops, 3)
	require.Equal(t, PhaseRouteSelected, sess.Phase)
	require.Len(t, sess.MakerConns, 2)

	require.True(t, sess.Hops[0].SenderIsTaker)
	require.False(t, sess.Hops[0].ReceiverIsTaker)

	require.False(t, sess.Hops[1].SenderIsTaker)
	require.False(t, sess.Hops[1].ReceiverIsTaker)

	require.False(t, sess.Hops[2].SenderIsTaker)
	require.True(t, sess.Hops[2].ReceiverIsTaker)
}

func TestNewSessionTimelocksDecreaseTowardTaker(t *testing.T) {
	route := testRoute(3)
	sess, err := NewSession("sess-2", testParams(3), route, contract.Preimage{9})
	require.NoError(t, err)
	require.Len(t, sess.Hops, 4)

	for i := 1; i < len(sess.Hops); i++ {
		require.Greater(t, sess.Hops[i-1].Timelock, sess.Hops[i].Timelock,
			"hop %d timelock should exceed hop %d", i-1, i)
	}
	require.Equal(t, sess.Params.BaseTimelock, sess.Hops[len(sess.Hops)-1].Timelock)
}

func TestNewSessionRejectsWrongRouteLength(t *testing.T) {
	route := testRoute(2)
	_, err := NewSession("sess-3", testParams(3), route, contract.Preimage{})
	require.Error(t, err)
}

func TestNewSessionRejectsInvalidParams(t *testing.T) {
	route := testRoute(1)
	params := testParams(1)
	params.NumMakers = 1
	_, err := NewSession("sess-4", params, route, contract.Preimage{})
	require.Error(t, err)
}

func TestHopStateConnAccessors(t *testing.T) {
	route := testRoute(2)
	sess, err := NewSession("sess-5", testParams(2), route, contract.Preimage{})
	require.NoError(t, err)

	conns := make([]*Conn, len(sess.MakerConns))
	conns[0] = &Conn{OnionAddress: "maker0.onion"}
	conns[1] = &Conn{OnionAddress: "maker1.onion"}

	require.Nil(t, sess.Hops[0].SenderConn(conns))
	require.Equal(t, conns[0], sess.Hops[0].ReceiverConn(conns))

	require.Equal(t, conns[0], sess.Hops[1].SenderConn(conns))
	require.Equal(t, conns[1], sess.Hops[1].ReceiverConn(conns))

	require.Equal(t, conns[1], sess.Hops[2].SenderConn(conns))
	require.Nil(t, sess.Hops[2].ReceiverConn(conns))
}

func TestPhaseString(t *testing.T) {
	require.Equal(t, "negotiating", PhaseNegotiating.String())
	require.Equal(t, "unknown", Phase(99).String())
}
