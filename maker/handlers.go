// Package maker implements the Maker side of the coinswap protocol
// engine: answering a Taker's per-hop key requests, countersigning and
// proposing contract transactions, proving and verifying funding, and
// releasing hashlock claims once the Taker hands over the preimage.
//
// A Maker never dials another Maker. Every message it sees arrives
// over the single connection the Taker holds with it, and that one
// connection carries traffic for two hop roles at once: receiver of
// the hop feeding it, and sender of the hop it feeds onward (spec §9,
// "the Taker routes all messages"). Grounded on the teacher's
// swap.Contract handlers (loopin_contract.go/loopout_contract.go),
// generalized from a Lightning-invoice-driven single state machine to
// a two-role, wire-message-driven one per connection.
package maker

import (
	"errors"
	"fmt"

	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/labels"
	"github.com/binaryswap/coinswap/market"
	"github.com/binaryswap/coinswap/storage"
	swwire "github.com/binaryswap/coinswap/wire"
	"github.com/btcsuite/btcd/btcutil"
	btcwire "github.com/btcsuite/btcd/wire"
)

// ContractFee is the fixed absolute fee this Maker pays on every
// contract transaction it builds as a hop's sender, matching the
// Taker's own ContractFee (spec §4.2, "fee is a fixed absolute amount
// chosen at construction time").
const ContractFee = btcutil.Amount(300)

var errHashMismatch = errors.New(
	"maker: swap hash does not match an earlier message on this connection")

// Handler drives one accepted connection's protocol state to
// completion or failure. One Handler serves exactly one Taker
// connection and is discarded once that connection closes.
type Handler struct {
	cfg  Config
	conn *Conn
	cs   connState
}

func newHandler(cfg Config, conn *Conn) *Handler {
	return &Handler{cfg: cfg, conn: conn}
}

// Serve performs the hello handshake and then dispatches messages
// until the connection closes or a protocol violation is detected. A
// returned error, including a plain EOF once the Taker is done with
// this connection, always ends the session; there is no message that
// resumes it.
func (h *Handler) Serve() error {
	if err := h.conn.handshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	for {
		msg, err := h.conn.Recv()
		if err != nil {
			return err
		}
		if err := h.dispatch(msg); err != nil {
			return err
		}
	}
}

func (h *Handler) dispatch(msg swwire.Message) error {
	switch m := msg.(type) {
	case *swwire.ReqOffer:
		return h.handleReqOffer()
	case *swwire.ReqSwapPubKey:
		return h.handleReqSwapPubKey(m)
	case *swwire.NotifyHopParams:
		return h.handleNotifyHopParams(m)
	case *swwire.ReqContractSigsForSender:
		return h.handleReqContractSigsForSender(m)
	case *swwire.RespContractSigsForSender:
		return h.handleRespContractSigsForSender(m)
	case *swwire.RespProofOfFunding:
		return h.handleRespProofOfFunding(m)
	case *swwire.RespHashPreimage:
		return h.handleRespHashPreimage(m)
	case *swwire.RespPrivKeyHandover:
		return h.handleRespPrivKeyHandover(m)
	default:
		return fmt.Errorf("maker: unexpected message type %T", msg)
	}
}

// handleReqOffer answers an offer-discovery request. It carries no
// protocol state of its own and can be answered at any point in a
// connection's lifetime, including as the only message a Taker ever
// sends (spec §4.4, offer advertisement).
func (h *Handler) handleReqOffer() error {
	cert := market.SignCertificate(h.cfg.BondPrivKey, h.cfg.Offer.OnionAddress)
	resp := &swwire.RespOffer{
		Offer: swwire.OfferBody{
			BondOutpoint:      h.cfg.Offer.BondOutpoint,
			MinSize:           h.cfg.Offer.MinSize,
			MaxSize:           h.cfg.Offer.MaxSize,
			AbsoluteFee:       h.cfg.Offer.Fees.AbsoluteFeeSats,
			AmountRelativePPM: h.cfg.Offer.Fees.AmountRelativeFeePPM,
			TimeRelativeSats:  h.cfg.Offer.Fees.TimeRelativeFeeSatsPerBlock,
			MinLocktime:       h.cfg.Offer.MinLocktime,
			OnionAddress:      h.cfg.Offer.OnionAddress,
			Expiry:            h.cfg.Offer.Expiry,
		},
		Bond: swwire.BondBody{
			Outpoint:     h.cfg.Bond.Outpoint,
			LockedAmount: h.cfg.Bond.LockedAmount,
			LockUntil:    h.cfg.Bond.LockUntil,
			BondPubKey:   h.cfg.Bond.BondPubKey,
			Certificate:  cert,
		},
		BondSig: market.SignOffer(h.cfg.BondPrivKey, &h.cfg.Offer),
	}
	return h.conn.Send(resp)
}

// handleReqSwapPubKey answers a per-hop key request, deriving a fresh
// key scoped to this swap hash regardless of which role is asked for.
// A hop's sender pubkey doubles as its funding-multisig key and its
// timelock-refund key; a hop's receiver base pubkey is its
// funding-multisig key, and that base pubkey tweaked is its
// hashlock-receive key.
func (h *Handler) handleReqSwapPubKey(m *swwire.ReqSwapPubKey) error {
	if err := h.cs.setHash(m.Hash); err != nil {
		return err
	}

	priv, err := h.cfg.Wallet.DeriveKey(contract.KeyFamily)
	if err != nil {
		return fmt.Errorf("deriving swap key: %w", err)
	}

	resp := &swwire.RespSwapPubKey{PubKey: priv.PubKey()}
	switch m.Role {
	case contract.RoleSender:
		h.cs.sender.basePrivKey = priv
		h.cs.sender.basePubKey = priv.PubKey()
		h.cs.sender.timelockPubKey = priv.PubKey()
	case contract.RoleReceiver:
		tweak, err := contract.NewTweak()
		if err != nil {
			return fmt.Errorf("generating tweak: %w", err)
		}
		h.cs.receiver.basePrivKey = priv
		h.cs.receiver.basePubKey = priv.PubKey()
		h.cs.receiver.tweak = tweak
		h.cs.receiver.hashlockPubKey = contract.TweakPubKey(priv.PubKey(), tweak)
		resp.Tweak = &tweak
	default:
		return fmt.Errorf("maker: unknown role %v", m.Role)
	}
	return h.conn.Send(resp)
}

// handleNotifyHopParams records the downstream parameters this Maker
// needs to propose its own outgoing hop, once it has one. It has no
// reply; the Maker acts on it only once its own receiver-role
// countersign duty for the incoming hop has been discharged (see
// proposeOutgoingHop).
func (h *Handler) handleNotifyHopParams(m *swwire.NotifyHopParams) error {
	if err := h.cs.setHash(m.Hash); err != nil {
		return err
	}
	if h.cs.sender.basePubKey == nil {
		return errors.New("maker: notified of hop parameters before " +
			"sender key was requested")
	}
	h.cs.sender.receiverBasePubKey = m.ReceiverBasePubKey
	h.cs.sender.hashlockPubKey = m.HashlockPubKey
	h.cs.sender.timelock = m.Timelock
	h.cs.sender.amount = m.Amount
	h.cs.senderReady = true
	return nil
}

// handleReqContractSigsForSender discharges this Maker's receiver-role
// duty for the incoming hop: validate the sender's proposal against
// this Maker's own advertised terms, countersign, and reply. Once that
// reply is sent, immediately propose this Maker's own outgoing hop
// over the same connection — the Taker's negotiation loop processes
// hops strictly in order, so nothing else will be written to this
// connection until that proposal goes out (spec §9).
func (h *Handler) handleReqContractSigsForSender(m *swwire.ReqContractSigsForSender) error {
	if len(m.ContractTxTemplates) != 1 || len(m.Fundings) != 1 {
		return fmt.Errorf("maker: expected exactly one contract template, got %d",
			len(m.ContractTxTemplates))
	}
	template := m.ContractTxTemplates[0]

	if err := h.cs.setHash(template.Hash); err != nil {
		return err
	}
	if h.cs.receiver.basePubKey == nil {
		return errors.New("maker: contract proposal received before " +
			"receiver key was requested")
	}
	if template.Timelock < h.cfg.Offer.MinLocktime {
		return fmt.Errorf("maker: proposed timelock %d below advertised minimum %d",
			template.Timelock, h.cfg.Offer.MinLocktime)
	}
	if !h.cfg.Offer.AcceptsAmount(template.FundingAmount) {
		return fmt.Errorf("maker: funding amount %v outside advertised range [%v, %v]",
			template.FundingAmount, h.cfg.Offer.MinSize, h.cfg.Offer.MaxSize)
	}
	if template.HashlockPubKey == nil || !template.HashlockPubKey.IsEqual(h.cs.receiver.hashlockPubKey) {
		return errors.New("maker: template hashlock pubkey does not " +
			"match the one this maker advertised")
	}
	if template.TimelockPubKey == nil {
		return errors.New("maker: template carries no sender timelock pubkey")
	}
	if template.ContractTx == nil {
		return errors.New("maker: proposal carried no contract transaction")
	}

	funding, err := contract.NewFunding(
		template.TimelockPubKey, h.cs.receiver.basePubKey,
		template.FundingAmount, h.cfg.Params,
	)
	if err != nil {
		return fmt.Errorf("rebuilding funding: %w", err)
	}

	receiverSig, err := contract.SignContractTx(
		template.ContractTx, 0, funding, h.cs.receiver.basePrivKey,
	)
	if err != nil {
		return fmt.Errorf("countersigning: %w", err)
	}

	h.cs.receiver.funding = funding
	h.cs.receiver.contractTx = template.ContractTx
	h.cs.receiver.receiverSig = receiverSig
	h.cs.receiver.timelockPubKey = template.TimelockPubKey
	h.cs.receiver.timelock = template.Timelock
	h.cs.receiver.amount = template.FundingAmount

	if err := h.conn.Send(&swwire.RespContractSigsForSender{
		Sigs: [][]byte{receiverSig},
	}); err != nil {
		return fmt.Errorf("sending countersignature: %w", err)
	}

	return h.proposeOutgoingHop()
}

// proposeOutgoingHop builds this Maker's own funding and contract
// transactions for the hop it forwards to, and sends the proposal
// unprompted. It requires handleNotifyHopParams to have already run;
// the Taker always sends that message before starting Phase A on any
// hop, so by the time a Maker's receiver-role duty completes its own
// sender-role parameters are already in hand.
func (h *Handler) proposeOutgoingHop() error {
	if !h.cs.senderReady {
		return errors.New("maker: not yet notified of outgoing hop parameters")
	}
	if err := h.verifyOutgoingFee(); err != nil {
		return err
	}

	funding, err := contract.NewFunding(
		h.cs.sender.basePubKey, h.cs.sender.receiverBasePubKey,
		h.cs.sender.amount, h.cfg.Params,
	)
	if err != nil {
		return fmt.Errorf("building outgoing funding: %w", err)
	}
	script, err := contract.NewScript(
		h.cs.sender.timelock, h.cs.sender.hashlockPubKey,
		h.cs.sender.timelockPubKey, h.cs.hash, h.cfg.Params,
	)
	if err != nil {
		return fmt.Errorf("building outgoing script: %w", err)
	}

	fundingTx, err := h.buildAndSignFundingTx(funding)
	if err != nil {
		return fmt.Errorf("building outgoing funding tx: %w", err)
	}
	fundingOutpoint, err := funding.LocateOutput(fundingTx)
	if err != nil {
		return err
	}

	contractTx, err := contract.BuildContractTx(*fundingOutpoint, h.cs.sender.amount, script, ContractFee)
	if err != nil {
		return fmt.Errorf("building outgoing contract tx: %w", err)
	}
	senderSig, err := contract.SignContractTx(contractTx, 0, funding, h.cs.sender.basePrivKey)
	if err != nil {
		return fmt.Errorf("signing as sender: %w", err)
	}

	h.cs.sender.funding = funding
	h.cs.sender.script = script
	h.cs.sender.fundingTx = fundingTx
	h.cs.sender.contractTx = contractTx
	h.cs.sender.senderSig = senderSig

	req := &swwire.ReqContractSigsForSender{
		ContractTxTemplates: []swwire.ContractTemplate{{
			FundingOutpoint: contractTx.TxIn[0].PreviousOutPoint,
			FundingAmount:   funding.Amount,
			HashlockPubKey:  h.cs.sender.hashlockPubKey,
			TimelockPubKey:  h.cs.sender.timelockPubKey,
			Hash:            h.cs.hash,
			Timelock:        h.cs.sender.timelock,
			ContractTx:      contractTx,
		}},
		Fundings: []swwire.FundingInfo{{
			Tx:                   fundingTx,
			MultisigRedeemScript: funding.RedeemScript(),
			Amount:               funding.Amount,
		}},
	}
	return h.conn.Send(req)
}

// verifyOutgoingFee cross-checks the amount the Taker asked this Maker
// to forward against what this Maker's own advertised fee schedule
// would produce from its incoming amount, catching a Taker that
// quoted one fee during route selection and proposed a different one
// once the swap was under way.
func (h *Handler) verifyOutgoingFee() error {
	fee := h.cfg.Offer.Fees.Cost(h.cs.receiver.amount, h.cs.receiver.timelock)
	want := h.cs.receiver.amount - fee
	if h.cs.sender.amount != want {
		return fmt.Errorf("maker: outgoing amount %v does not match "+
			"this maker's fee schedule (want %v)", h.cs.sender.amount, want)
	}
	return nil
}

// buildAndSignFundingTx reserves wallet UTXOs, builds the funding
// transaction paying into the multisig, and signs every input.
func (h *Handler) buildAndSignFundingTx(funding *contract.Funding) (*btcwire.MsgTx, error) {
	utxos, changeOut, err := h.cfg.Wallet.FundInputs(funding.Amount, ContractFee)
	if err != nil {
		return nil, fmt.Errorf("selecting funding inputs: %w", err)
	}

	tx := btcwire.NewMsgTx(contract.TxVersion)
	for _, u := range utxos {
		tx.AddTxIn(btcwire.NewTxIn(&u.OutPoint, nil, nil))
	}
	tx.AddTxOut(btcwire.NewTxOut(int64(funding.Amount), funding.PkScript()))
	if changeOut != nil {
		tx.AddTxOut(changeOut)
	}

	for i, u := range utxos {
		witness, err := h.cfg.Wallet.SignInput(tx, i, u.PkScript, u.Value)
		if err != nil {
			return nil, fmt.Errorf("signing funding input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}
	return tx, nil
}

// handleRespContractSigsForSender verifies the countersignature that
// answers this Maker's own spontaneous ReqContractSigsForSender for
// its outgoing hop.
func (h *Handler) handleRespContractSigsForSender(m *swwire.RespContractSigsForSender) error {
	if h.cs.sender.contractTx == nil {
		return errors.New("maker: received a countersignature reply " +
			"without an outstanding proposal")
	}
	if len(m.Sigs) != 1 {
		return fmt.Errorf("maker: expected exactly one countersignature, got %d",
			len(m.Sigs))
	}
	if err := contract.VerifyContractSig(
		h.cs.sender.contractTx, 0, h.cs.sender.funding,
		h.cs.sender.receiverBasePubKey, m.Sigs[0],
	); err != nil {
		return fmt.Errorf("receiver countersignature invalid: %w", err)
	}
	h.cs.sender.receiverSig = m.Sigs[0]
	return nil
}

// handleRespProofOfFunding always answers this Maker's receiver-role
// duty: the one inbound proof this connection ever carries, for the
// hop feeding it. Confirmation depth and the paid amount are checked
// independently against chain.Node rather than trusted from the
// counterparty's claim (spec §4.1 Phase B). Once satisfied, this
// Maker immediately broadcasts its own outgoing funding and proves it
// downstream in turn.
func (h *Handler) handleRespProofOfFunding(m *swwire.RespProofOfFunding) error {
	if len(m.Fundings) != 1 {
		return fmt.Errorf("maker: expected exactly one funding proof, got %d",
			len(m.Fundings))
	}
	if h.cs.receiver.funding == nil {
		return errors.New("maker: proof of funding received before contract negotiation")
	}

	info := m.Fundings[0]
	if info.Tx == nil {
		return errors.New("maker: proof of funding carried no transaction")
	}
	if !h.cs.receiver.funding.MatchesOutput(&btcwire.TxOut{
		Value:    int64(h.cs.receiver.amount),
		PkScript: h.cs.receiver.funding.PkScript(),
	}) {
		return errors.New("maker: proof amount does not match negotiated funding")
	}
	outpoint, err := h.cs.receiver.funding.LocateOutput(info.Tx)
	if err != nil {
		return fmt.Errorf("funding output not found in proof: %w", err)
	}

	txHash := info.Tx.TxHash()
	if _, err := chain.WaitForConfirmations(
		h.cfg.Node, &txHash, h.cfg.minConfirmations(), h.cfg.Tick, h.cfg.Quit,
	); err != nil {
		return fmt.Errorf("waiting for funding confirmations: %w", err)
	}

	h.cs.receiver.fundingTx = info.Tx

	if err := h.cfg.Wallet.LabelOutPoint(*outpoint, labels.LabelContract); err != nil {
		return fmt.Errorf("labeling incoming funding output: %w", err)
	}
	if h.cfg.Tower != nil {
		if err := h.cfg.Tower.Watch(h.watchEntryForReceiver(outpoint)); err != nil {
			return fmt.Errorf("registering with watchtower: %w", err)
		}
	}

	return h.broadcastOutgoingFunding()
}

func (h *Handler) broadcastOutgoingFunding() error {
	if _, err := h.cfg.Node.SendRawTransaction(h.cs.sender.fundingTx, false); err != nil {
		return fmt.Errorf("broadcasting outgoing funding tx: %w", err)
	}

	outpoint, err := h.cs.sender.funding.LocateOutput(h.cs.sender.fundingTx)
	if err != nil {
		return err
	}
	if err := h.cfg.Wallet.LabelOutPoint(*outpoint, labels.LabelContract); err != nil {
		return fmt.Errorf("labeling outgoing funding output: %w", err)
	}
	if h.cfg.Tower != nil {
		if err := h.cfg.Tower.Watch(h.watchEntryForSender(outpoint)); err != nil {
			return fmt.Errorf("registering with watchtower: %w", err)
		}
	}

	txHash := h.cs.sender.fundingTx.TxHash()
	confs, err := chain.WaitForConfirmations(
		h.cfg.Node, &txHash, h.cfg.minConfirmations(), h.cfg.Tick, h.cfg.Quit,
	)
	if err != nil {
		return fmt.Errorf("waiting for funding confirmations: %w", err)
	}

	proof := &swwire.RespProofOfFunding{
		Fundings: []swwire.FundingInfo{{
			Tx:                   h.cs.sender.fundingTx,
			MultisigRedeemScript: h.cs.sender.funding.RedeemScript(),
			Amount:               h.cs.sender.funding.Amount,
		}},
		Confirmations:         []int32{confs},
		MultisigRedeemscripts: [][]byte{h.cs.sender.funding.RedeemScript()},
	}
	return h.conn.Send(proof)
}

func (h *Handler) watchEntryForReceiver(fundingOutpoint *btcwire.OutPoint) storage.WatchEntry {
	hashlockPrivKey := contract.TweakPrivKey(h.cs.receiver.basePrivKey, h.cs.receiver.tweak)
	return storage.WatchEntry{
		SessionID:       h.cs.sessionID(),
		FundingOutpoint: *fundingOutpoint,
		OwnContractTx:   h.cs.receiver.contractTx,
		HashlockPubKey:  h.cs.receiver.hashlockPubKey,
		TimelockPubKey:  h.cs.receiver.timelockPubKey,
		Hash:            h.cs.hash,
		Timelock:        h.cs.receiver.timelock,
		Role:            contract.RoleReceiver,
		PrivKey:         hashlockPrivKey.Serialize(),
		CreatedAt:       h.cfg.clockOrDefault().Now().Unix(),
	}
}

func (h *Handler) watchEntryForSender(fundingOutpoint *btcwire.OutPoint) storage.WatchEntry {
	return storage.WatchEntry{
		SessionID:       h.cs.sessionID(),
		FundingOutpoint: *fundingOutpoint,
		OwnContractTx:   h.cs.sender.contractTx,
		HashlockPubKey:  h.cs.sender.hashlockPubKey,
		TimelockPubKey:  h.cs.sender.timelockPubKey,
		Hash:            h.cs.hash,
		Timelock:        h.cs.sender.timelock,
		Role:            contract.RoleSender,
		PrivKey:         h.cs.sender.basePrivKey.Serialize(),
		CreatedAt:       h.cfg.clockOrDefault().Now().Unix(),
	}
}

// handleRespHashPreimage completes settlement for this connection's
// receiver-role hop: verifies the preimage, arms the watchtower to
// sweep the hashlock branch if needed, and replies with this Maker's
// own receiver-role privkey so the Taker can confirm the handover
// (spec §4.1, "Maker ... confirms by replying with its private key").
// When the Taker is this hop's sender it has no separate sender Maker
// to query afterward, so it bundles its own privkey directly into
// NextHopMultisigPrivKey rather than sending a follow-up
// RespPrivKeyHandover notification.
func (h *Handler) handleRespHashPreimage(m *swwire.RespHashPreimage) error {
	if m.Preimage.Hash() != h.cs.hash {
		return errors.New("maker: preimage does not hash to this swap's committed value")
	}
	if h.cs.receiver.basePrivKey == nil {
		return errors.New("maker: preimage received before any receiver role was negotiated")
	}
	if h.cfg.Tower != nil {
		if err := h.cfg.Tower.SetPreimage(h.cs.sessionID(), m.Preimage); err != nil {
			return fmt.Errorf("notifying watchtower of preimage: %w", err)
		}
	}
	if len(m.NextHopMultisigPrivKey) > 0 {
		h.cs.receiver.counterpartPrivKey = m.NextHopMultisigPrivKey
	}
	return h.conn.Send(&swwire.RespPrivKeyHandover{
		PrivKeys: [][]byte{h.cs.receiver.basePrivKey.Serialize()},
	})
}

// handleRespPrivKeyHandover serves two purposes distinguished by
// whether PrivKeys is populated, since the wire protocol defines no
// separate request message for "hand over your sender-role key" (spec
// §6 lists only RespPrivKeyHandover in both directions):
//
//   - Empty: an implicit trigger asking this Maker, in its sender
//     role for the hop it forwards to, to disclose its own privkey.
//     Always answered with a reply carrying that key.
//   - Non-empty: the Taker forwarding the sender's privkey for the
//     hop where this Maker is the receiver, completing this Maker's
//     sole control of that hop's UTXO. Purely informational; no reply.
func (h *Handler) handleRespPrivKeyHandover(m *swwire.RespPrivKeyHandover) error {
	if len(m.PrivKeys) == 0 {
		if h.cs.sender.basePrivKey == nil {
			return errors.New("maker: asked for sender privkey handover " +
				"before any sender role was negotiated")
		}
		return h.conn.Send(&swwire.RespPrivKeyHandover{
			PrivKeys: [][]byte{h.cs.sender.basePrivKey.Serialize()},
		})
	}
	h.cs.receiver.counterpartPrivKey = m.PrivKeys[0]
	return nil
}
