package contract

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// TxVersion is the transaction version used for both funding and
// contract transactions.
const TxVersion = 2

// BuildContractTx constructs the unsigned contract (HTLC-style) tx that
// spends a hop's funding outpoint into the given contract Script. Per
// spec §4.2, the fee is a fixed absolute amount chosen at construction
// time; contract transactions are pre-signed and never fee-bumped.
func BuildContractTx(fundingOutpoint wire.OutPoint, fundingAmount btcutil.Amount,
	script *Script, absoluteFee btcutil.Amount) (*wire.MsgTx, error) {

	if absoluteFee < 0 {
		return nil, errors.New("contract: fee must not be negative")
	}

	outValue := fundingAmount - absoluteFee
	if outValue <= 0 {
		return nil, fmt.Errorf("contract: fee %v exceeds funding amount %v",
			absoluteFee, fundingAmount)
	}

	dustLimit := btcutil.Amount(mempool.GetDustThreshold(&wire.TxOut{
		PkScript: script.PkScript(),
	}))
	if outValue < dustLimit {
		return nil, fmt.Errorf("contract: output value %v below dust "+
			"limit %v", outValue, dustLimit)
	}

	tx := wire.NewMsgTx(TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: fundingOutpoint,
		Sequence:         wire.MaxTxInSequenceNum - 1,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    int64(outValue),
		PkScript: script.PkScript(),
	})

	return tx, nil
}

// SignContractTx computes this signer's witness signature for a
// contract tx spending a 2-of-2 multisig funding output.
func SignContractTx(tx *wire.MsgTx, inputIndex int, funding *Funding,
	signerKey *btcec.PrivateKey) ([]byte, error) {

	sigHashes := txscript.NewTxSigHashes(tx, singleOutputFetcher(
		funding.pkScript, int64(funding.Amount),
	))

	sigHash, err := txscript.CalcWitnessSigHash(
		funding.RedeemScript(), sigHashes, txscript.SigHashAll, tx,
		inputIndex, int64(funding.Amount),
	)
	if err != nil {
		return nil, fmt.Errorf("contract: computing sighash: %w", err)
	}

	sig := ecdsa.Sign(signerKey, sigHash)
	return sig.Serialize(), nil
}

// VerifyContractSig checks a counterparty-supplied signature against the
// contract tx and the signer's claimed pubkey, without requiring a
// fully-populated witness. This is the check a receiver performs before
// countersigning in Phase A, and a sender performs before broadcasting
// in Phase C.
func VerifyContractSig(tx *wire.MsgTx, inputIndex int, funding *Funding,
	signerPubKey *btcec.PublicKey, sig []byte) error {

	sigHashes := txscript.NewTxSigHashes(tx, singleOutputFetcher(
		funding.pkScript, int64(funding.Amount),
	))

	sigHash, err := txscript.CalcWitnessSigHash(
		funding.RedeemScript(), sigHashes, txscript.SigHashAll, tx,
		inputIndex, int64(funding.Amount),
	)
	if err != nil {
		return fmt.Errorf("contract: computing sighash: %w", err)
	}

	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("contract: parsing signature: %w", err)
	}

	if !parsedSig.Verify(sigHash, signerPubKey) {
		return errors.New("contract: signature does not verify")
	}
	return nil
}

// AssembleWitness populates a 2-of-2 multisig witness spending the
// funding outpoint, given the two DER-encoded signatures in the same
// order the funding's redeem script sorts its pubkeys.
func AssembleWitness(funding *Funding, sigA, sigB []byte) wire.TxWitness {
	return wire.TxWitness{
		nil, // OP_CHECKMULTISIG off-by-one dummy element
		append(sigA, byte(txscript.SigHashAll)),
		append(sigB, byte(txscript.SigHashAll)),
		funding.RedeemScript(),
	}
}

// singleOutputFetcher builds a txscript.PrevOutputFetcher that always
// answers with the same previous output, sufficient for signing a tx
// with exactly one input (every contract tx in this protocol spends
// only its hop's funding outpoint).
func singleOutputFetcher(pkScript []byte,
	value int64) txscript.PrevOutputFetcher {

	out := &wire.TxOut{PkScript: pkScript, Value: value}
	return &constFetcher{out: out}
}

type constFetcher struct {
	out *wire.TxOut
}

func (c *constFetcher) FetchPrevOutput(wire.OutPoint) *wire.TxOut {
	return c.out
}
