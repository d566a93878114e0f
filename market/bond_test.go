package market

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func randPubKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

func TestBondRedeemScriptRoundTrip(t *testing.T) {
	pubKey := randPubKey(t)
	const lockUntil = 800_000

	script, err := RedeemScript(lockUntil, pubKey)
	require.NoError(t, err)

	gotLockUntil, gotPubKey, err := DecomposeRedeemScript(script)
	require.NoError(t, err)
	require.Equal(t, int32(lockUntil), gotLockUntil)
	require.True(t, pubKey.IsEqual(gotPubKey))
}

func TestBondRedeemScriptRejectsNonPositiveLocktime(t *testing.T) {
	_, err := RedeemScript(0, randPubKey(t))
	require.Error(t, err)
}

func TestBondVerifyCanonical(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	bond := &Bond{
		Outpoint:     wire.OutPoint{Index: 4},
		LockedAmount: btcutil.Amount(500_000),
		LockUntil:    850_000,
		BondPubKey:   priv.PubKey(),
	}

	script, err := RedeemScript(bond.LockUntil, bond.BondPubKey)
	require.NoError(t, err)
	pkScript, err := PkScript(script)
	require.NoError(t, err)

	require.NoError(t, VerifyCanonical(bond, script, pkScript, bond.LockedAmount))

	// Wrong value should fail.
	require.Error(t, VerifyCanonical(bond, script, pkScript, bond.LockedAmount+1))
}

func TestBondAddress(t *testing.T) {
	pubKey := randPubKey(t)
	script, err := RedeemScript(700_000, pubKey)
	require.NoError(t, err)

	addr, err := Address(script, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	require.NotEmpty(t, addr.EncodeAddress())
}

func TestBondValueMonotonicInAmount(t *testing.T) {
	bondSmall := &Bond{LockedAmount: 100_000, LockUntil: 1_000_000}
	bondLarge := &Bond{LockedAmount: 200_000, LockUntil: 1_000_000}

	const currentHeight = 500_000
	require.Less(t, bondSmall.Value(currentHeight), bondLarge.Value(currentHeight))
}

func TestBondValueMonotonicInRemainingTime(t *testing.T) {
	bondSoon := &Bond{LockedAmount: 100_000, LockUntil: 600_000}
	bondLater := &Bond{LockedAmount: 100_000, LockUntil: 1_200_000}

	const currentHeight = 500_000
	require.LessOrEqual(t, bondSoon.Value(currentHeight), bondLater.Value(currentHeight))
}

func TestBondValueZeroWhenExpired(t *testing.T) {
	bond := &Bond{LockedAmount: 100_000, LockUntil: 400_000}
	require.Zero(t, bond.Value(500_000))
	require.True(t, bond.Expired(500_000))
}

func TestBondCertificateRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	sig := SignCertificate(priv, "abc123.onion")
	require.NoError(t, VerifyCertificate(priv.PubKey(), "abc123.onion", sig))

	// A certificate for a different onion address must not verify.
	require.Error(t, VerifyCertificate(priv.PubKey(), "different.onion", sig))
}

func TestBondRedeemTxRejectsFeeExceedingValue(t *testing.T) {
	_, err := RedeemTx(wire.OutPoint{}, 1000, 800_000, []byte{0x00}, 1000)
	require.Error(t, err)
}
