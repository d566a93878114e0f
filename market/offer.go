package market

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// FeeModel is the fee schedule a Maker advertises in its offer (spec
// §6, "Fee model exposed in offer").
type FeeModel struct {
	AbsoluteFeeSats          btcutil.Amount
	AmountRelativeFeePPM     int64
	TimeRelativeFeeSatsPerBlock btcutil.Amount
}

// Offer is a Maker's advertised swap terms (spec §3, Offer entity).
type Offer struct {
	BondOutpoint wire.OutPoint
	BondValue    float64
	MinSize      btcutil.Amount
	MaxSize      btcutil.Amount
	Fees         FeeModel
	MinLocktime  int64
	OnionAddress string
	Expiry       int64
}

// Body deterministically serializes the offer terms that the bond
// signature commits to, per spec §4.4: "signature by the bond pubkey
// over (onion_address ‖ offer_body ‖ expiry)". Field order is fixed so
// the same Offer always produces the same body regardless of how it
// was constructed.
func (o *Offer) Body() []byte {
	var buf bytes.Buffer
	buf.WriteString(o.OnionAddress)

	var amounts [5 * 8]byte
	binary.BigEndian.PutUint64(amounts[0:8], uint64(o.MinSize))
	binary.BigEndian.PutUint64(amounts[8:16], uint64(o.MaxSize))
	binary.BigEndian.PutUint64(amounts[16:24], uint64(o.Fees.AbsoluteFeeSats))
	binary.BigEndian.PutUint64(amounts[24:32], uint64(o.Fees.AmountRelativeFeePPM))
	binary.BigEndian.PutUint64(amounts[32:40], uint64(o.Fees.TimeRelativeFeeSatsPerBlock))
	buf.Write(amounts[:])

	var tail [16]byte
	binary.BigEndian.PutUint64(tail[0:8], uint64(o.MinLocktime))
	binary.BigEndian.PutUint64(tail[8:16], uint64(o.Expiry))
	buf.Write(tail[:])

	return buf.Bytes()
}

// SignOffer signs an offer's body with the bond's private key,
// producing the value carried on the wire as RespOffer.BondSig.
func SignOffer(bondPrivKey *btcec.PrivateKey, o *Offer) []byte {
	hash := sha256.Sum256(o.Body())
	sig := ecdsa.Sign(bondPrivKey, hash[:])
	return sig.Serialize()
}

// VerifyOfferSignature checks an offer's bond signature (spec §4.4
// validation rule iii).
func VerifyOfferSignature(bondPubKey *btcec.PublicKey, o *Offer, sig []byte) error {
	hash := sha256.Sum256(o.Body())
	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("parse offer signature: %w", err)
	}
	if !parsedSig.Verify(hash[:], bondPubKey) {
		return fmt.Errorf("offer signature invalid")
	}
	return nil
}

// Cost computes the total fee a Taker would pay this Maker for one hop
// of the given size held for lockedBlocks, deterministically from the
// advertised fee model (spec §6, "Client computes the cost per hop
// deterministically from these").
func (f FeeModel) Cost(amount btcutil.Amount, lockedBlocks int64) btcutil.Amount {
	amountRelative := btcutil.Amount(int64(amount) * f.AmountRelativeFeePPM / 1_000_000)
	timeRelative := btcutil.Amount(int64(f.TimeRelativeFeeSatsPerBlock) * lockedBlocks)
	return f.AbsoluteFeeSats + amountRelative + timeRelative
}

// AcceptsAmount reports whether amount falls within the offer's
// advertised size range (spec §8, "send_amount exactly at min_swap_amount
// -> accepted; below -> offer rejected").
func (o *Offer) AcceptsAmount(amount btcutil.Amount) bool {
	return amount >= o.MinSize && amount <= o.MaxSize
}
