// Package wire defines the length-prefixed, binary framed messages
// exchanged between a Taker and a Maker over an anonymized transport
// (spec §6). Every message is a concrete Go struct; there is no
// inheritance hierarchy — a Decode call returns a tagged variant that
// phase validation either consumes as the expected type or rejects
// (spec §9, "polymorphism over protocol messages").
package wire

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/binaryswap/coinswap/contract"
)

// ProtocolVersion is the wire version this build of the daemon speaks.
// A version mismatch during the hello handshake closes the connection
// (spec §6).
const ProtocolVersion uint32 = 1

// Type is the one-byte wire discriminant identifying a message variant.
type Type uint8

const (
	TypeTakerHello Type = iota
	TypeMakerHello
	TypeReqOffer
	TypeRespOffer
	TypeReqContractSigsForSender
	TypeRespContractSigsForSender
	TypeRespProofOfFunding
	TypeReqContractSigsAsRecvrAndSender
	TypeReqContractSigsForReceiver
	TypeRespContractSigsForReceiver
	TypeRespContractSigsForReceiverAndSender
	TypeRespHashPreimage
	TypeRespPrivKeyHandover
	TypeReqSwapPubKey
	TypeRespSwapPubKey
	TypeNotifyHopParams
)

// Message is implemented by every wire variant.
type Message interface {
	// Type returns this message's wire discriminant.
	Type() Type
}

// TakerHello is the first message a Taker sends on a new connection.
type TakerHello struct {
	Version uint32
}

func (*TakerHello) Type() Type { return TypeTakerHello }

// MakerHello answers a TakerHello. A version mismatch aborts the
// connection before any protocol state is created.
type MakerHello struct {
	Version uint32
}

func (*MakerHello) Type() Type { return TypeMakerHello }

// ReqOffer asks a Maker to describe its current offer and fidelity bond.
type ReqOffer struct{}

func (*ReqOffer) Type() Type { return TypeReqOffer }

// RespOffer is a Maker's advertised offer, its fidelity bond, and the
// signature over the offer body authenticating it (spec §4.4).
type RespOffer struct {
	Offer   OfferBody
	Bond    BondBody
	BondSig []byte
}

func (*RespOffer) Type() Type { return TypeRespOffer }

// OfferBody is the wire encoding of a Maker's advertised terms.
type OfferBody struct {
	BondOutpoint      wire.OutPoint
	MinSize           btcutil.Amount
	MaxSize           btcutil.Amount
	AbsoluteFee       btcutil.Amount
	AmountRelativePPM int64
	TimeRelativeSats  btcutil.Amount
	MinLocktime       int64
	OnionAddress      string
	Expiry            int64
}

// BondBody is the wire encoding of a fidelity bond's public material.
type BondBody struct {
	Outpoint      wire.OutPoint
	LockedAmount  btcutil.Amount
	LockUntil     int32
	BondPubKey    *btcec.PublicKey
	Certificate   []byte
}

// ContractTemplate is the unsigned contract transaction plus the
// parameters needed to independently rebuild and validate its redeem
// script, sent so a counterparty can verify canonical form before
// countersigning (spec §4.2, "Signature ordering").
type ContractTemplate struct {
	FundingOutpoint wire.OutPoint
	FundingAmount   btcutil.Amount
	HashlockPubKey  *btcec.PublicKey
	TimelockPubKey  *btcec.PublicKey
	Hash            contract.Hash
	Timelock        int64
	ContractTx      *wire.MsgTx
}

// FundingInfo describes one funding transaction of a hop, either
// proposed (Phase A, unbroadcast) or confirmed (Phase B, proof of
// funding).
type FundingInfo struct {
	Tx                   *wire.MsgTx
	MultisigRedeemScript []byte
	Amount               btcutil.Amount
}

// ReqContractSigsForSender is Phase A: the sender side of a hop asks its
// counterparty to countersign its proposed contract transactions before
// it broadcasts funding.
type ReqContractSigsForSender struct {
	ContractTxTemplates []ContractTemplate
	Fundings             []FundingInfo
}

func (*ReqContractSigsForSender) Type() Type { return TypeReqContractSigsForSender }

// RespContractSigsForSender carries the requested countersignatures,
// one per contract tx template in the matching request, in order.
type RespContractSigsForSender struct {
	Sigs [][]byte
}

func (*RespContractSigsForSender) Type() Type { return TypeRespContractSigsForSender }

// NextHopData tells the receiver of a hop what it needs to start Phase
// A of the next hop as a sender.
type NextHopData struct {
	NextSenderPubKey *btcec.PublicKey
	NextTimelock     int64
}

// RespProofOfFunding is Phase B: the funded party proves its funding
// transactions were mined to the required depth and pay exactly the
// advertised amount into the exact multisig (spec §4.1 Phase B).
type RespProofOfFunding struct {
	Fundings              []FundingInfo
	Confirmations         []int32
	MultisigRedeemscripts [][]byte
	NextHopData           NextHopData
}

func (*RespProofOfFunding) Type() Type { return TypeRespProofOfFunding }

// ReqContractSigsAsRecvrAndSender is Phase C: a Maker, now also the
// sender for the next hop, combines two asks into one message routed
// through the Taker — sign my next-hop sender contracts (forwarded to
// Maker i+1), and countersign my receiver-side contract for this hop
// (forwarded to Maker i, this hop's sender).
type ReqContractSigsAsRecvrAndSender struct {
	SenderContracts   []ContractTemplate
	ReceiverContracts []ContractTemplate
}

func (*ReqContractSigsAsRecvrAndSender) Type() Type {
	return TypeReqContractSigsAsRecvrAndSender
}

// ReqContractSigsForReceiver asks a hop's sender to countersign the
// receiver-side contract transaction, i.e. act as the refund-guarantor
// for its own counterparty.
type ReqContractSigsForReceiver struct {
	ContractTxs []ContractTemplate
}

func (*ReqContractSigsForReceiver) Type() Type { return TypeReqContractSigsForReceiver }

// RespContractSigsForReceiver carries the requested receiver-contract
// countersignatures.
type RespContractSigsForReceiver struct {
	Sigs [][]byte
}

func (*RespContractSigsForReceiver) Type() Type { return TypeRespContractSigsForReceiver }

// RespContractSigsForReceiverAndSender bundles both halves of Phase C
// back to the Maker that issued ReqContractSigsAsRecvrAndSender: the
// sender-side sigs collected from Maker i+1, and the receiver-side sigs
// collected from Maker i.
type RespContractSigsForReceiverAndSender struct {
	SenderSigs   [][]byte
	ReceiverSigs [][]byte
}

func (*RespContractSigsForReceiverAndSender) Type() Type {
	return TypeRespContractSigsForReceiverAndSender
}

// RespHashPreimage begins the settlement handover: the Taker releases
// the preimage to a hop's receiver, along with its own multisig private
// key for that same hop when the Taker is the hop's sender (spec §4.1
// "Preimage/Key handover").
type RespHashPreimage struct {
	Preimage               contract.Preimage
	NextHopMultisigPrivKey []byte
}

func (*RespHashPreimage) Type() Type { return TypeRespHashPreimage }

// RespPrivKeyHandover carries one party's private key(s) for a hop's
// multisig, sent by both Maker (confirming preimage receipt) and Taker
// (returning its own key) as settlement propagates hop by hop outward.
type RespPrivKeyHandover struct {
	PrivKeys [][]byte
}

func (*RespPrivKeyHandover) Type() Type { return TypeRespPrivKeyHandover }

// ReqSwapPubKey asks a Maker for a freshly derived pubkey to use as its
// side of one hop's funding multisig (and, doubled, as the base for its
// timelock-refund or hashlock-receive key on that hop). The pubkey is
// scoped to a single swap by the hash so a Maker never reuses key
// material for its fidelity bond across different swaps. Role tells the
// Maker which side of the hop it is being asked to key: as RoleReceiver
// it must also return the tweak scalar it will use, since revealing the
// tweak alone (without the preimage) discloses nothing spendable.
type ReqSwapPubKey struct {
	Hash contract.Hash
	Role contract.Role
}

func (*ReqSwapPubKey) Type() Type { return TypeReqSwapPubKey }

// RespSwapPubKey answers a ReqSwapPubKey. Tweak is set only when the
// request's Role was RoleReceiver.
type RespSwapPubKey struct {
	PubKey *btcec.PublicKey
	Tweak  *contract.Tweak
}

func (*RespSwapPubKey) Type() Type { return TypeRespSwapPubKey }

// NotifyHopParams tells a hop's non-Taker sender everything it needs to
// build that hop's contract on its own initiative: the receiver's
// untweaked base pubkey (the funding multisig's other half, and the key
// the receiver will countersign with), the receiver's tweaked hashlock
// pubkey, the timelock, and the funding amount computed by the fee
// schedule. It does not carry a timelock pubkey for the sender side:
// that role always doubles as the sender's own key, which the sender
// already knows. Only the Taker ever holds every hop's parameters at
// once (spec §9, "the Taker routes all messages"), so a Maker asked to
// act as a hop's sender has no other way to learn its counterparty's
// contract pubkeys before proposing one; the Taker's own sender hops
// need no such message since it resolves them locally.
type NotifyHopParams struct {
	Hash               contract.Hash
	Timelock           int64
	ReceiverBasePubKey *btcec.PublicKey
	HashlockPubKey     *btcec.PublicKey
	Amount             btcutil.Amount
}

func (*NotifyHopParams) Type() Type { return TypeNotifyHopParams }
