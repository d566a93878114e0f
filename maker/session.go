package maker

import (
	"github.com/binaryswap/coinswap/contract"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// hopRole is everything this Maker derives and later needs for one side
// of one hop. A connection plays exactly two of these at once: receiver
// of the hop feeding it, sender of the hop it feeds onward (spec §9, "a
// Maker is reachable as both receiver and sender of adjacent hops over
// the single connection the Taker holds with it" — Makers never dial
// each other).
type hopRole struct {
	basePrivKey *btcec.PrivateKey
	basePubKey  *btcec.PublicKey

	// tweak is set only for the receiver role.
	tweak contract.Tweak

	hashlockPubKey     *btcec.PublicKey
	timelockPubKey     *btcec.PublicKey
	receiverBasePubKey *btcec.PublicKey
	timelock           int64
	amount             btcutil.Amount

	funding    *contract.Funding
	script     *contract.Script
	fundingTx  *wire.MsgTx
	contractTx *wire.MsgTx

	senderSig   []byte
	receiverSig []byte

	// counterpartPrivKey is the other side's privkey for this role's
	// multisig, learned during settlement (spec §4.1, "Preimage/Key
	// handover"). Only ever populated on the receiver role: it is what
	// gives this Maker sole control of its incoming hop's UTXO (spec
	// §3, HopState invariants).
	counterpartPrivKey []byte
}

// connState is one accepted Taker connection's protocol state across
// the lifetime of one swap.
type connState struct {
	hash    contract.Hash
	hashSet bool

	receiver hopRole
	sender   hopRole

	// senderReady is set once NotifyHopParams has populated sender's
	// downstream parameters. It must arrive before the receiver-role
	// countersign request that triggers building the sender-role
	// proposal; proposeOutgoingHop fails if it has not.
	senderReady bool
}

// sessionID is the identifier this Maker uses for watchtower and
// storage bookkeeping. The wire protocol never hands a Maker the
// Taker's own session id (ReqSwapPubKey carries only a Hash and a
// Role) — the swap hash is the only value every party derives
// identically, so it doubles as this Maker's local session key.
func (cs *connState) sessionID() string {
	return cs.hash.String()
}

func (cs *connState) setHash(h contract.Hash) error {
	if !cs.hashSet {
		cs.hash = h
		cs.hashSet = true
		return nil
	}
	if cs.hash != h {
		return errHashMismatch
	}
	return nil
}
