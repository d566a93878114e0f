package contract

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func randKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key
}

// newTestContract builds a contract script plus the funding output that
// pays into a contract tx spending it, wiring receiver/sender keys and a
// fresh preimage together the way Phase A of the protocol would.
func newTestContract(t *testing.T) (preimage Preimage, script *Script,
	fundTx *wire.MsgTx, senderKey, receiverBaseKey *btcec.PrivateKey,
	tweak Tweak) {

	t.Helper()

	senderKey = randKey(t)
	receiverBaseKey = randKey(t)

	tweak, err := NewTweak()
	require.NoError(t, err)

	hashlockPubKey := TweakPubKey(receiverBaseKey.PubKey(), tweak)

	preimage, err = randPreimage()
	require.NoError(t, err)

	script, err = NewScript(
		144, hashlockPubKey, senderKey.PubKey(), preimage.Hash(),
		&chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	fundTx = wire.NewMsgTx(TxVersion)
	fundTx.AddTxOut(&wire.TxOut{
		Value:    1_000_000,
		PkScript: script.PkScript(),
	})

	return preimage, script, fundTx, senderKey, receiverBaseKey, tweak
}

func randPreimage() (Preimage, error) {
	var p Preimage
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return p, err
	}
	copy(p[:], key.Serialize())
	return p, nil
}

func TestScriptHashlockSpend(t *testing.T) {
	preimage, script, fundTx, _, receiverBaseKey, tweak := newTestContract(t)

	spendTx := wire.NewMsgTx(TxVersion)
	spendTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: fundTx.TxHash(), Index: 0},
	})
	spendTx.AddTxOut(&wire.TxOut{Value: 990_000, PkScript: script.PkScript()})

	receiverKey := TweakPrivKey(receiverBaseKey, tweak)

	sigHashes := txscript.NewTxSigHashes(spendTx, singleOutputFetcher(
		script.PkScript(), fundTx.TxOut[0].Value,
	))
	sigHash, err := txscript.CalcWitnessSigHash(
		script.RawScript(), sigHashes, txscript.SigHashAll, spendTx, 0,
		fundTx.TxOut[0].Value,
	)
	require.NoError(t, err)

	sig := signHash(t, receiverKey, sigHash)

	witness, err := script.SuccessWitness(sig, preimage)
	require.NoError(t, err)
	spendTx.TxIn[0].Witness = witness

	assertScriptValid(t, spendTx, fundTx.TxOut[0])
	require.True(t, IsSuccessWitness(witness))

	extracted, err := ExtractPreimage(witness, script.Hash)
	require.NoError(t, err)
	require.Equal(t, preimage, extracted)
}

func TestScriptTimeoutSpend(t *testing.T) {
	_, script, fundTx, senderKey, _, _ := newTestContract(t)

	spendTx := wire.NewMsgTx(TxVersion)
	spendTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: fundTx.TxHash(), Index: 0},
		Sequence:         uint32(script.Timelock),
	})
	spendTx.AddTxOut(&wire.TxOut{Value: 990_000, PkScript: script.PkScript()})

	sigHashes := txscript.NewTxSigHashes(spendTx, singleOutputFetcher(
		script.PkScript(), fundTx.TxOut[0].Value,
	))
	sigHash, err := txscript.CalcWitnessSigHash(
		script.RawScript(), sigHashes, txscript.SigHashAll, spendTx, 0,
		fundTx.TxOut[0].Value,
	)
	require.NoError(t, err)

	sig := signHash(t, senderKey, sigHash)

	witness, err := script.TimeoutWitness(sig)
	require.NoError(t, err)
	spendTx.TxIn[0].Witness = witness

	assertScriptValid(t, spendTx, fundTx.TxOut[0])
	require.False(t, IsSuccessWitness(witness))
}

func TestScriptDecompose(t *testing.T) {
	_, script, _, senderKey, _, _ := newTestContract(t)

	hashlockPubKey, hx160, timelock, timelockPubKey, err := Decompose(
		script.RawScript(),
	)
	require.NoError(t, err)
	require.Equal(t,
		script.HashlockPubKey.SerializeCompressed(), hashlockPubKey,
	)
	require.Equal(t, senderKey.PubKey().SerializeCompressed(), timelockPubKey)
	require.Equal(t, script.Timelock, timelock)
	require.NotEmpty(t, hx160)

	err = VerifyCanonical(
		script.RawScript(), script.HashlockPubKey, script.TimelockPubKey,
		script.Hash, script.Timelock, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
}

func TestScriptRejectsNonPositiveTimelock(t *testing.T) {
	key1, key2 := randKey(t), randKey(t)
	var hash Hash

	_, err := NewScript(
		0, key1.PubKey(), key2.PubKey(), hash, &chaincfg.RegressionNetParams,
	)
	require.Error(t, err)
}

func signHash(t *testing.T, key *btcec.PrivateKey, hash []byte) []byte {
	t.Helper()
	sig := ecdsa.Sign(key, hash)
	return sig.Serialize()
}

// assertScriptValid runs the real script interpreter over spendTx's
// first input against prevOut, failing the test with a disassembly on
// mismatch. Adapted from the teacher's swap/htlc_test.go
// assertEngineExecution, itself adopted from lnd/input/script_utils_test.go.
func assertScriptValid(t *testing.T, spendTx *wire.MsgTx, prevOut *wire.TxOut) {
	t.Helper()

	vm, err := txscript.NewEngine(
		prevOut.PkScript, spendTx, 0,
		txscript.StandardVerifyFlags, nil, nil, prevOut.Value,
		singleOutputFetcher(prevOut.PkScript, prevOut.Value),
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}
