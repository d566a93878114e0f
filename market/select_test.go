package market

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func candidateOffers(n int) []ScoredOffer {
	offers := make([]ScoredOffer, n)
	for i := 0; i < n; i++ {
		offers[i] = ScoredOffer{
			Bond: Bond{Outpoint: wire.OutPoint{Index: uint32(i)}},
			Offer: Offer{
				MinSize: 1,
				MaxSize: 10_000_000,
				Fees: FeeModel{
					AbsoluteFeeSats: 100,
				},
			},
			Score: float64(i + 1),
		}
	}
	return offers
}

func TestSelectRouteReturnsDistinctBonds(t *testing.T) {
	pool := candidateOffers(5)

	route, err := SelectRoute(pool, 3, 100_000, 0, 144)
	require.NoError(t, err)
	require.Len(t, route, 3)

	seen := make(map[wire.OutPoint]bool)
	for _, r := range route {
		require.False(t, seen[r.Bond.Outpoint], "bond reused in route")
		seen[r.Bond.Outpoint] = true
	}
}

func TestSelectRouteFailsWhenNotEnoughOffers(t *testing.T) {
	pool := candidateOffers(2)
	_, err := SelectRoute(pool, 3, 100_000, 0, 144)
	require.Error(t, err)
}

func TestSelectRouteAppliesMinFeeFilter(t *testing.T) {
	pool := candidateOffers(5)
	// Every offer's absolute fee is 100 sats; a floor above that must
	// exclude all of them.
	_, err := SelectRoute(pool, 2, 100_000, 1000, 144)
	require.Error(t, err)
}

func TestSelectRouteRejectsTooFewHops(t *testing.T) {
	pool := candidateOffers(5)
	_, err := SelectRoute(pool, 1, 100_000, 0, 144)
	require.Error(t, err)
}
