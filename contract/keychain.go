package contract

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// KeyFamily is the key family used to derive per-hop multisig and
// contract keys from the wallet. The wallet itself (key derivation,
// storage) is an external collaborator; this constant is the contract
// with it.
var KeyFamily = int32(709)

// Tweak is the 32-byte scalar the receiver side of a hop chooses and
// keeps secret. It is combined with the receiver's own contract pubkey
// to produce the hashlock pubkey advertised in the contract script:
//
//	hashlock_pubkey = receiver_pubkey + tweak*G
//
// Disclosure of the tweak alone reveals nothing spendable; disclosure of
// the preimage alone reveals nothing spendable. Both are required
// jointly to walk the hashlock branch, which is what stops a party that
// only observes the preimage on chain from racing an upstream hop.
type Tweak [32]byte

// NewTweak draws a fresh random tweak scalar.
func NewTweak() (Tweak, error) {
	var t Tweak
	if _, err := rand.Read(t[:]); err != nil {
		return t, fmt.Errorf("contract: generating tweak: %w", err)
	}

	// Reduce modulo the curve order so the raw bytes are always a valid
	// scalar; NewPrivateKey would otherwise silently wrap.
	var scalar secp.ModNScalar
	scalar.SetByteSlice(t[:])
	scalar.PutBytesUnchecked(t[:])

	return t, nil
}

// scalar interprets the tweak as a scalar.
func (t Tweak) scalar() *secp.ModNScalar {
	var s secp.ModNScalar
	s.SetByteSlice(t[:])
	return &s
}

// TweakPubKey returns basePubKey + tweak*G, the hashlock pubkey a
// receiver advertises for a hop.
func TweakPubKey(basePubKey *btcec.PublicKey, tweak Tweak) *btcec.PublicKey {
	var tweakPoint secp.JacobianPoint
	secp.ScalarBaseMultNonConst(tweak.scalar(), &tweakPoint)

	var basePoint secp.JacobianPoint
	basePubKey.AsJacobian(&basePoint)

	var sum secp.JacobianPoint
	secp.AddNonConst(&basePoint, &tweakPoint, &sum)
	sum.ToAffine()

	return btcec.NewPublicKey(&sum.X, &sum.Y)
}

// TweakPrivKey returns basePrivKey + tweak (mod N), the private key that
// spends the hashlock pubkey once the tweak is known to the caller. Only
// the receiver ever computes this locally; it is never sent over the
// wire in cleartext during an in-flight swap.
func TweakPrivKey(basePrivKey *btcec.PrivateKey, tweak Tweak) *btcec.PrivateKey {
	sum := new(secp.ModNScalar).Add2(&basePrivKey.Key, tweak.scalar())
	b := sum.Bytes()
	priv, _ := btcec.PrivKeyFromBytes(b[:])
	return priv
}

// VerifyTweak checks that claimedHashlockPubKey really is
// basePubKey + tweak*G. Used by a sender validating the receiver's
// advertised hashlock pubkey in Phase A (§4.1) before signing.
func VerifyTweak(basePubKey, claimedHashlockPubKey *btcec.PublicKey,
	tweak Tweak) error {

	derived := TweakPubKey(basePubKey, tweak)
	if !derived.IsEqual(claimedHashlockPubKey) {
		return errors.New("contract: hashlock pubkey does not match " +
			"receiver pubkey tweaked by claimed scalar")
	}
	return nil
}
