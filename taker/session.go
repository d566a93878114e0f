// Package taker implements the Taker side of the coinswap protocol
// engine (spec §4.1): route selection, per-hop negotiation across N
// Makers plus the Taker's own two endpoint legs, funding sequencing,
// and the reverse-order preimage/key handover.
//
// Grounded on the teacher's client-driven swap orchestration
// (client/client.go's LoopOut/LoopIn request lifecycle), generalized
// from a single Lightning<->on-chain swap to an N+1-hop on-chain-only
// route the Taker fully drives end to end.
package taker

import (
	"fmt"

	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/market"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	btcwire "github.com/btcsuite/btcd/wire"
)

// Params are the immutable swap parameters for one session (spec §3,
// "Swap parameters").
type Params struct {
	SendAmount             btcutil.Amount
	NumMakers              int
	TxCountPerHop          int
	RequiredConfirmations  int32
	BaseTimelock           int64
	TimelockGap            int64
	MinFeeSats             int64
}

// TotalHops is the number of contract-protected hops in the route: one
// leg from the Taker into Maker 1, one leg between each consecutive
// pair of Makers, and one leg from the last Maker back to the Taker
// (spec §4.1, "the Taker holds both keys of the final-hop multisig" —
// the Taker is an endpoint of the route, not merely its initiator).
func (p Params) TotalHops() int {
	return p.NumMakers + 1
}

// Validate checks the parameters against spec §8's boundary rules.
func (p Params) Validate() error {
	if p.NumMakers < 2 {
		return fmt.Errorf("taker: hop_count must be >= 2, got %d", p.NumMakers)
	}
	if p.TxCountPerHop < 1 {
		return fmt.Errorf("taker: tx_count_per_hop must be >= 1")
	}
	if p.RequiredConfirmations < 1 {
		return fmt.Errorf("taker: required_confirmations must be >= 1")
	}
	if p.TimelockGap < contract.MinTimelockGap {
		return fmt.Errorf("taker: timelock gap %d below minimum safety "+
			"margin %d", p.TimelockGap, contract.MinTimelockGap)
	}
	return nil
}

// HopFunding is one of tx_count_per_hop parallel funding+contract pairs
// for a single hop.
type HopFunding struct {
	Funding    *contract.Funding
	Script     *contract.Script
	FundingTx  *btcwire.MsgTx
	ContractTx *btcwire.MsgTx

	SenderSig   []byte
	ReceiverSig []byte

	Confirmations int32
}

// HopState is one leg of the route: a (sender, receiver) pair at
// position hopIndex (1-based, matching contract.HopTimelock's
// convention: hopIndex 1 is Taker-adjacent, hopIndex TotalHops is the
// final leg back to the Taker).
type HopState struct {
	Index int

	// SenderIsTaker/ReceiverIsTaker mark the two hops where the Taker
	// itself is an endpoint rather than a routing Maker.
	SenderIsTaker   bool
	ReceiverIsTaker bool

	// Maker is the offer backing whichever side of this hop is not the
	// Taker. For an interior hop both sides are Makers and Maker refers
	// to the receiving side (this hop's own advertised terms).
	Maker market.ScoredOffer

	SenderPubKey   *btcec.PublicKey
	ReceiverPubKey *btcec.PublicKey

	// TakerPrivKey is populated only at the two Taker-owned endpoints.
	TakerPrivKey *btcec.PrivateKey

	// Tweak is known to this process only when ReceiverIsTaker: the
	// Taker is the one choosing the tweak for its own final receipt.
	Tweak contract.Tweak

	HashlockPubKey *btcec.PublicKey
	TimelockPubKey *btcec.PublicKey
	Timelock       int64

	Fundings []*HopFunding

	// ReceiverPrivKey/SenderPrivKey are filled in during settlement
	// (spec §4.1, "Preimage/Key handover") as each side of the hop
	// discloses its half of the multisig key. They are the Taker's own
	// audit record of a completed handover, not load-bearing for any
	// other hop: nothing downstream reads them back.
	ReceiverPrivKey []byte
	SenderPrivKey   []byte

	// senderMakerIdx/receiverMakerIdx index into Session.MakerConns for
	// whichever side of this hop is not the Taker, or -1 when that side
	// is the Taker itself.
	senderMakerIdx   int
	receiverMakerIdx int
}

// SenderConn returns the connection to this hop's sender, or nil if the
// Taker itself is the sender (the connections slice is owned by the
// enclosing Session, since a Maker's single connection serves it as
// receiver of one hop and sender of the next).
func (h *HopState) SenderConn(conns []*Conn) *Conn {
	if h.senderMakerIdx < 0 {
		return nil
	}
	return conns[h.senderMakerIdx]
}

// ReceiverConn returns the connection to this hop's receiver, or nil if
// the Taker itself is the receiver.
func (h *HopState) ReceiverConn(conns []*Conn) *Conn {
	if h.receiverMakerIdx < 0 {
		return nil
	}
	return conns[h.receiverMakerIdx]
}

// Session is one Taker-initiated swap in progress (spec §3,
// SwapSession).
type Session struct {
	ID       string
	Params   Params
	Preimage contract.Preimage
	Hash     contract.Hash

	Hops []*HopState

	// MakerConns holds one live connection per Maker in the route, in
	// route order. A Maker's ConnectionState on the far end is indexed
	// by this same session id, and this one socket carries every
	// message that Maker takes part in across the whole route (spec
	// §9, "the Taker routes all messages" — Makers never dial each
	// other).
	MakerConns []*Conn

	Phase Phase
}

// Phase is the Taker's monotonic session phase (spec §3, "monotonic
// phase progression; phase rollback only via explicit recovery").
type Phase int

const (
	PhaseRouteSelected Phase = iota
	PhaseNegotiating
	PhaseFunding
	PhaseSettling
	PhaseComplete
	PhaseAborted
	PhaseRecovering
)

func (p Phase) String() string {
	switch p {
	case PhaseRouteSelected:
		return "route-selected"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseFunding:
		return "funding"
	case PhaseSettling:
		return "settling"
	case PhaseComplete:
		return "complete"
	case PhaseAborted:
		return "aborted"
	case PhaseRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// NewSession builds a session skeleton from a selected route, computing
// every hop's timelock per spec §4.1's discipline before any message is
// exchanged, and rejects a route whose timelocks are out of discipline
// per spec §4.3 rule 4 ("refuse such swaps in Phase A validation").
func NewSession(id string, params Params, route []market.ScoredOffer,
	preimage contract.Preimage) (*Session, error) {

	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(route) != params.NumMakers {
		return nil, fmt.Errorf("taker: route has %d makers, want %d",
			len(route), params.NumMakers)
	}

	totalHops := params.TotalHops()
	timelocks := make([]int64, totalHops)
	for i := 0; i < totalHops; i++ {
		t, err := contract.HopTimelock(
			params.BaseTimelock, totalHops, i+1, params.TimelockGap,
		)
		if err != nil {
			return nil, fmt.Errorf("taker: computing hop %d timelock: %w",
				i+1, err)
		}
		timelocks[i] = t
	}

	lastOffer := route[len(route)-1]
	if err := contract.VerifyTimelockDiscipline(
		timelocks, params.TimelockGap, lastOffer.Offer.MinLocktime,
	); err != nil {
		return nil, fmt.Errorf("taker: route fails timelock discipline: %w", err)
	}

	hops := make([]*HopState, totalHops)
	for i := 0; i < totalHops; i++ {
		h := &HopState{
			Index:            i + 1,
			Timelock:         timelocks[i],
			senderMakerIdx:   i - 1,
			receiverMakerIdx: i,
		}
		if i == totalHops-1 {
			h.receiverMakerIdx = -1
		}
		switch {
		case i == 0:
			h.SenderIsTaker = true
			h.Maker = route[0]
		case i == totalHops-1:
			h.ReceiverIsTaker = true
			h.Maker = route[len(route)-1]
		default:
			// Interior hop i (0-based) runs from route[i-1] to
			// route[i]; its own advertised terms are the receiving
			// Maker's offer.
			h.Maker = route[i]
		}
		hops[i] = h
	}

	return &Session{
		ID:         id,
		Params:     params,
		Preimage:   preimage,
		Hash:       preimage.Hash(),
		Hops:       hops,
		MakerConns: make([]*Conn, len(route)),
		Phase:      PhaseRouteSelected,
	}, nil
}
