package contract

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestFundingDeterministicOrdering(t *testing.T) {
	keyA, keyB := randKey(t), randKey(t)

	f1, err := NewFunding(
		keyA.PubKey(), keyB.PubKey(), 500_000, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	f2, err := NewFunding(
		keyB.PubKey(), keyA.PubKey(), 500_000, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	require.Equal(t, f1.RedeemScript(), f2.RedeemScript())
	require.Equal(t, f1.Address().String(), f2.Address().String())
}

func TestFundingMatchesOutput(t *testing.T) {
	keyA, keyB := randKey(t), randKey(t)
	funding, err := NewFunding(
		keyA.PubKey(), keyB.PubKey(), 250_000, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	tx := wire.NewMsgTx(TxVersion)
	tx.AddTxOut(&wire.TxOut{Value: 1, PkScript: []byte{0x00}})
	tx.AddTxOut(&wire.TxOut{Value: 250_000, PkScript: funding.PkScript()})

	outpoint, err := funding.LocateOutput(tx)
	require.NoError(t, err)
	require.EqualValues(t, 1, outpoint.Index)

	tx.TxOut[1].Value = 250_001
	_, err = funding.LocateOutput(tx)
	require.Error(t, err)
}

func TestFundingRejectsZeroAmount(t *testing.T) {
	keyA, keyB := randKey(t), randKey(t)
	_, err := NewFunding(
		keyA.PubKey(), keyB.PubKey(), 0, &chaincfg.RegressionNetParams,
	)
	require.Error(t, err)
}
