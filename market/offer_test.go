package market

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testOffer() *Offer {
	return &Offer{
		BondOutpoint: wire.OutPoint{Index: 2},
		BondValue:    12345.0,
		MinSize:      btcutil.Amount(10_000),
		MaxSize:      btcutil.Amount(5_000_000),
		Fees: FeeModel{
			AbsoluteFeeSats:             500,
			AmountRelativeFeePPM:        250,
			TimeRelativeFeeSatsPerBlock: 1,
		},
		MinLocktime:  144,
		OnionAddress: "offerer.onion",
		Expiry:       1_800_000_000,
	}
}

func TestOfferSignatureRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	offer := testOffer()
	sig := SignOffer(priv, offer)
	require.NoError(t, VerifyOfferSignature(priv.PubKey(), offer, sig))

	offer.MinSize += 1
	require.Error(t, VerifyOfferSignature(priv.PubKey(), offer, sig))
}

func TestOfferAcceptsAmount(t *testing.T) {
	offer := testOffer()
	require.True(t, offer.AcceptsAmount(offer.MinSize))
	require.True(t, offer.AcceptsAmount(offer.MaxSize))
	require.False(t, offer.AcceptsAmount(offer.MinSize-1))
	require.False(t, offer.AcceptsAmount(offer.MaxSize+1))
}

func TestFeeModelCost(t *testing.T) {
	fees := FeeModel{
		AbsoluteFeeSats:             1000,
		AmountRelativeFeePPM:        1000, // 0.1%
		TimeRelativeFeeSatsPerBlock: 2,
	}

	cost := fees.Cost(btcutil.Amount(1_000_000), 100)
	// 1000 (abs) + 1000 (0.1% of 1_000_000) + 200 (2 * 100 blocks)
	require.Equal(t, btcutil.Amount(2200), cost)
}
