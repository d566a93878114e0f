package contract

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Funding is the 2-of-2 multisig output that funds a single hop, per
// spec §4.2. Pubkeys are lexicographically sorted (BIP67-style) so both
// parties derive the identical redeem script independently and the
// resulting script hash is deterministic regardless of message order.
type Funding struct {
	PubKeyA *btcec.PublicKey
	PubKeyB *btcec.PublicKey
	Amount  btcutil.Amount

	redeemScript []byte
	pkScript     []byte
	address      btcutil.Address
}

// NewFunding builds a 2-of-2 multisig funding descriptor for the given
// pair of contract pubkeys and amount.
func NewFunding(pubKeyA, pubKeyB *btcec.PublicKey, amount btcutil.Amount,
	chainParams *chaincfg.Params) (*Funding, error) {

	if amount <= 0 {
		return nil, errors.New("contract: funding amount must be positive")
	}

	sortedKeys := sortPubKeys(pubKeyA, pubKeyB)

	redeemScript, err := txscript.MultiSigScript(
		toAddrPubKeys(sortedKeys, chainParams), 2,
	)
	if err != nil {
		return nil, fmt.Errorf("contract: building multisig script: %w",
			err)
	}

	pkScript, err := txscript.WitnessScriptHash(redeemScript)
	if err != nil {
		return nil, fmt.Errorf("contract: hashing multisig script: %w",
			err)
	}

	address, err := btcutil.NewAddressWitnessScriptHash(
		pkScript[2:], chainParams,
	)
	if err != nil {
		return nil, fmt.Errorf("contract: deriving multisig address: %w",
			err)
	}

	return &Funding{
		PubKeyA:      pubKeyA,
		PubKeyB:      pubKeyB,
		Amount:       amount,
		redeemScript: redeemScript,
		pkScript:     pkScript,
		address:      address,
	}, nil
}

// sortPubKeys returns the two keys ordered lexicographically by their
// compressed serialization.
func sortPubKeys(a, b *btcec.PublicKey) []*btcec.PublicKey {
	keys := []*btcec.PublicKey{a, b}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(
			keys[i].SerializeCompressed(), keys[j].SerializeCompressed(),
		) < 0
	})
	return keys
}

func toAddrPubKeys(keys []*btcec.PublicKey,
	chainParams *chaincfg.Params) []*btcutil.AddressPubKey {

	out := make([]*btcutil.AddressPubKey, len(keys))
	for i, k := range keys {
		addr, err := btcutil.NewAddressPubKey(
			k.SerializeCompressed(), chainParams,
		)
		if err != nil {
			// Compressed pubkey serialization is always 33 bytes and
			// always parses; a failure here means btcec produced an
			// invalid key, which is a programmer error, not a runtime
			// condition callers can recover from.
			panic(fmt.Sprintf("contract: invalid pubkey: %v", err))
		}
		out[i] = addr
	}
	return out
}

// RedeemScript returns the bare 2-of-2 CHECKMULTISIG script.
func (f *Funding) RedeemScript() []byte {
	return f.redeemScript
}

// PkScript returns the P2WSH locking script of the funding output.
func (f *Funding) PkScript() []byte {
	return f.pkScript
}

// Address returns the bech32 P2WSH address funds are sent to.
func (f *Funding) Address() btcutil.Address {
	return f.address
}

// MatchesOutput reports whether the given transaction output pays
// exactly Amount to this funding's PkScript, which is the proof-of-
// funding validation spec §4.1 Phase B requires the receiver perform.
func (f *Funding) MatchesOutput(out *wire.TxOut) bool {
	return btcutil.Amount(out.Value) == f.Amount &&
		bytes.Equal(out.PkScript, f.pkScript)
}

// LocateOutput finds this funding's output within a transaction and
// returns its outpoint. Returns an error if no matching output exists,
// which the receiver treats as a validation failure per spec §7.
func (f *Funding) LocateOutput(tx *wire.MsgTx) (*wire.OutPoint, error) {
	for i, out := range tx.TxOut {
		if f.MatchesOutput(out) {
			return &wire.OutPoint{
				Hash:  tx.TxHash(),
				Index: uint32(i),
			}, nil
		}
	}
	return nil, fmt.Errorf("contract: funding output not found in tx %s",
		tx.TxHash())
}
