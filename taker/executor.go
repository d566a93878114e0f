package taker

import (
	"fmt"

	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/labels"
	"github.com/binaryswap/coinswap/storage"
	"github.com/binaryswap/coinswap/watchtower"
	swwire "github.com/binaryswap/coinswap/wire"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// ContractFee is the fixed absolute fee paid by every contract
// transaction (spec §4.2, "fee is a fixed absolute amount chosen at
// construction time").
const ContractFee = btcutil.Amount(300)

// Executor drives one Session end to end: negotiating and pre-signing
// every hop's contract before any funding is broadcast (Phase A),
// broadcasting funding and independently verifying proof of it (Phase
// B), and finally releasing the preimage so every hop's receiver can
// claim (settlement). At every hop where neither endpoint is the Taker
// itself, the Executor is a pure relay: it forwards the sender's and
// receiver's messages to each other over the two connections it holds,
// which is what lets two Makers swap without ever dialing each other
// (spec §9, "the Taker routes all messages").
//
// Grounded on the teacher's client-driven request lifecycle
// (client/client.go's single goroutine per swap owning the whole state
// machine from request to settlement), generalized from a single
// Lightning<->on-chain leg to a route the Taker walks over N+1 hops.
type Executor struct {
	sess   *Session
	wallet chain.Wallet
	node   chain.Node
	tower  *watchtower.Tower
	params *chaincfg.Params
	quit   <-chan struct{}
	tick   ticker.Ticker
	clock  clock.Clock

	receiverBase []*btcec.PublicKey
}

// NewExecutor builds an executor for a session whose MakerConns have
// already been dialed by the caller. quit, if non-nil, cancels any
// in-progress confirmation wait (spec §5) the moment it closes; pass
// nil when the caller has no shutdown signal to offer.
func NewExecutor(sess *Session, wallet chain.Wallet, node chain.Node,
	tower *watchtower.Tower, params *chaincfg.Params, quit <-chan struct{}) *Executor {

	return &Executor{
		sess:         sess,
		wallet:       wallet,
		node:         node,
		tower:        tower,
		params:       params,
		quit:         quit,
		clock:        clock.NewDefaultClock(),
		receiverBase: make([]*btcec.PublicKey, len(sess.Hops)),
	}
}

// Run executes the full protocol. On any failure it returns the error
// without attempting recovery; the caller hands the session to the
// recovery package (recovery.go), which decides whether hops already
// funded need a unilateral timelock exit.
func (ex *Executor) Run() error {
	if err := ex.resolveHopKeys(); err != nil {
		return fmt.Errorf("taker: resolving hop keys: %w", err)
	}

	amounts := ex.hopAmounts()
	log.Infof("session %s: route resolved, %d hops, sending %v",
		ex.sess.ID, len(ex.sess.Hops), amounts[0])

	if err := ex.notifyHopParams(amounts); err != nil {
		return fmt.Errorf("taker: notifying hop parameters: %w", err)
	}

	ex.sess.Phase = PhaseNegotiating
	if err := ex.negotiateAll(amounts); err != nil {
		return fmt.Errorf("taker: negotiating contracts: %w", err)
	}

	ex.sess.Phase = PhaseFunding
	if err := ex.fundAll(amounts); err != nil {
		return fmt.Errorf("taker: funding hops: %w", err)
	}

	ex.sess.Phase = PhaseSettling
	if err := ex.settle(); err != nil {
		return fmt.Errorf("taker: settlement: %w", err)
	}

	ex.sess.Phase = PhaseComplete
	log.Infof("session %s: complete", ex.sess.ID)
	return nil
}

// resolveHopKeys performs the ReqSwapPubKey round with every Maker and
// derives the Taker's own two endpoint keypairs, before any contract is
// built. Every hop's sender pubkey doubles as its funding-multisig key
// and its timelock-refund key; every hop's receiver base pubkey is its
// funding-multisig key, and that base pubkey tweaked is its
// hashlock-receive key (grounded on original_source/'s coinswap design, where the multisig
// privkey and the hop's contract privkey are the same secret).
func (ex *Executor) resolveHopKeys() error {
	for i, hop := range ex.sess.Hops {
		if hop.SenderIsTaker {
			priv, err := ex.wallet.DeriveKey(contract.KeyFamily)
			if err != nil {
				return fmt.Errorf("deriving taker sender key for hop %d: %w",
					hop.Index, err)
			}
			hop.SenderPubKey = priv.PubKey()
			hop.TakerPrivKey = priv
		} else {
			conn := hop.SenderConn(ex.sess.MakerConns)
			resp, err := requestSwapPubKey(conn, ex.sess.Hash, contract.RoleSender)
			if err != nil {
				return fmt.Errorf("fetching sender pubkey for hop %d: %w",
					hop.Index, err)
			}
			hop.SenderPubKey = resp.PubKey
		}
		hop.TimelockPubKey = hop.SenderPubKey

		if hop.ReceiverIsTaker {
			priv, err := ex.wallet.DeriveKey(contract.KeyFamily)
			if err != nil {
				return fmt.Errorf("deriving taker receiver key for hop %d: %w",
					hop.Index, err)
			}
			tweak, err := contract.NewTweak()
			if err != nil {
				return fmt.Errorf("generating tweak for hop %d: %w",
					hop.Index, err)
			}
			ex.receiverBase[i] = priv.PubKey()
			hop.Tweak = tweak
			hop.HashlockPubKey = contract.TweakPubKey(priv.PubKey(), tweak)
			hop.TakerPrivKey = priv
		} else {
			conn := hop.ReceiverConn(ex.sess.MakerConns)
			resp, err := requestSwapPubKey(conn, ex.sess.Hash, contract.RoleReceiver)
			if err != nil {
				return fmt.Errorf("fetching receiver pubkey for hop %d: %w",
					hop.Index, err)
			}
			if resp.Tweak == nil {
				return fmt.Errorf("hop %d: maker answered receiver "+
					"pubkey request without a tweak", hop.Index)
			}
			hashlockPubKey := contract.TweakPubKey(resp.PubKey, *resp.Tweak)
			if err := contract.VerifyTweak(resp.PubKey, hashlockPubKey, *resp.Tweak); err != nil {
				return fmt.Errorf("hop %d: %w", hop.Index, err)
			}
			ex.receiverBase[i] = resp.PubKey
			hop.HashlockPubKey = hashlockPubKey
		}
	}
	return nil
}

func requestSwapPubKey(conn *Conn, hash contract.Hash,
	role contract.Role) (*swwire.RespSwapPubKey, error) {

	reply, err := conn.Request(&swwire.ReqSwapPubKey{Hash: hash, Role: role})
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*swwire.RespSwapPubKey)
	if !ok {
		return nil, fmt.Errorf("expected swap pubkey response, got %T", reply)
	}
	if resp.PubKey == nil {
		return nil, fmt.Errorf("maker returned nil pubkey")
	}
	return resp, nil
}

// hopAmounts computes each hop's funding amount: the send amount at the
// route's first hop, decreasing by each Maker's advertised fee as the
// coins pass through it (spec §6, fee model).
func (ex *Executor) hopAmounts() []btcutil.Amount {
	n := len(ex.sess.Hops)
	amounts := make([]btcutil.Amount, n)
	amounts[0] = ex.sess.Params.SendAmount
	for i := 1; i < n; i++ {
		prevHop := ex.sess.Hops[i-1]
		fee := prevHop.Maker.Offer.Fees.Cost(amounts[i-1], prevHop.Timelock)
		amounts[i] = amounts[i-1] - fee
	}
	return amounts
}

// notifyHopParams tells every hop whose sender is a Maker, not the
// Taker, what it needs to build its own contract proposal. Only the
// Taker resolves every hop's keys directly during resolveHopKeys; a
// sender-Maker otherwise has no channel to learn its receiver
// counterpart's pubkeys before Phase A begins.
func (ex *Executor) notifyHopParams(amounts []btcutil.Amount) error {
	for i, hop := range ex.sess.Hops {
		if hop.SenderIsTaker {
			continue
		}
		conn := hop.SenderConn(ex.sess.MakerConns)
		msg := &swwire.NotifyHopParams{
			Hash:               ex.sess.Hash,
			Timelock:           hop.Timelock,
			ReceiverBasePubKey: ex.receiverBase[i],
			HashlockPubKey:     hop.HashlockPubKey,
			Amount:             amounts[i],
		}
		if err := conn.Send(msg); err != nil {
			return fmt.Errorf("notifying hop %d sender of parameters: %w",
				hop.Index, err)
		}
	}
	return nil
}

// negotiateAll runs Phase A for every hop. Where the Taker is a party it
// builds or validates the contract directly; where it is not, it relays
// the sender's proposal to the receiver and the receiver's signature
// back, checking the relayed template against the pubkeys and timelock
// already committed to during key resolution.
func (ex *Executor) negotiateAll(amounts []btcutil.Amount) error {
	for i, hop := range ex.sess.Hops {
		switch {
		case hop.SenderIsTaker:
			if err := ex.negotiateAsSender(i, hop, amounts[i]); err != nil {
				return fmt.Errorf("hop %d: %w", hop.Index, err)
			}
		case hop.ReceiverIsTaker:
			if err := ex.negotiateAsReceiver(i, hop, amounts[i]); err != nil {
				return fmt.Errorf("hop %d: %w", hop.Index, err)
			}
		default:
			if err := ex.relayNegotiation(hop, amounts[i]); err != nil {
				return fmt.Errorf("hop %d: %w", hop.Index, err)
			}
		}
	}
	return nil
}

func (ex *Executor) negotiateAsSender(i int, hop *HopState, amount btcutil.Amount) error {
	funding, err := contract.NewFunding(hop.SenderPubKey, ex.receiverBase[i], amount, ex.params)
	if err != nil {
		return fmt.Errorf("building funding: %w", err)
	}
	script, err := contract.NewScript(
		hop.Timelock, hop.HashlockPubKey, hop.TimelockPubKey, ex.sess.Hash, ex.params,
	)
	if err != nil {
		return fmt.Errorf("building script: %w", err)
	}

	fundingTx, err := ex.buildAndSignFundingTx(funding)
	if err != nil {
		return fmt.Errorf("building funding tx: %w", err)
	}
	fundingOutpoint, err := funding.LocateOutput(fundingTx)
	if err != nil {
		return err
	}

	contractTx, err := contract.BuildContractTx(*fundingOutpoint, amount, script, ContractFee)
	if err != nil {
		return fmt.Errorf("building contract tx: %w", err)
	}

	senderSig, err := contract.SignContractTx(contractTx, 0, funding, hop.TakerPrivKey)
	if err != nil {
		return fmt.Errorf("signing as sender: %w", err)
	}

	hf := &HopFunding{
		Funding:    funding,
		Script:     script,
		FundingTx:  fundingTx,
		ContractTx: contractTx,
		SenderSig:  senderSig,
	}

	conn := hop.ReceiverConn(ex.sess.MakerConns)
	reply, err := conn.Request(&swwire.ReqContractSigsForSender{
		ContractTxTemplates: []swwire.ContractTemplate{
			contractTemplateOf(hop, ex.sess.Hash, funding, contractTx),
		},
		Fundings: []swwire.FundingInfo{{
			Tx:                   fundingTx,
			MultisigRedeemScript: funding.RedeemScript(),
			Amount:               funding.Amount,
		}},
	})
	if err != nil {
		return fmt.Errorf("requesting receiver countersignature: %w", err)
	}
	resp, ok := reply.(*swwire.RespContractSigsForSender)
	if !ok || len(resp.Sigs) != 1 {
		return fmt.Errorf("unexpected reply to contract sig request: %T", reply)
	}
	if err := contract.VerifyContractSig(contractTx, 0, funding, ex.receiverBase[i], resp.Sigs[0]); err != nil {
		return fmt.Errorf("receiver countersignature invalid: %w", err)
	}
	hf.ReceiverSig = resp.Sigs[0]

	hop.Fundings = []*HopFunding{hf}
	return nil
}

func (ex *Executor) negotiateAsReceiver(i int, hop *HopState, amount btcutil.Amount) error {
	conn := hop.SenderConn(ex.sess.MakerConns)
	msg, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("waiting for sender's contract proposal: %w", err)
	}
	req, ok := msg.(*swwire.ReqContractSigsForSender)
	if !ok || len(req.ContractTxTemplates) != 1 || len(req.Fundings) != 1 {
		return fmt.Errorf("unexpected message from sender: %T", msg)
	}
	template := req.ContractTxTemplates[0]

	if err := ex.validateTemplate(hop, template, amount); err != nil {
		return fmt.Errorf("sender proposal fails validation: %w", err)
	}

	funding, err := contract.NewFunding(hop.SenderPubKey, ex.receiverBase[i], amount, ex.params)
	if err != nil {
		return fmt.Errorf("rebuilding funding: %w", err)
	}

	receiverSig, err := contract.SignContractTx(template.ContractTx, 0, funding, hop.TakerPrivKey)
	if err != nil {
		return fmt.Errorf("countersigning: %w", err)
	}

	if err := conn.Send(&swwire.RespContractSigsForSender{Sigs: [][]byte{receiverSig}}); err != nil {
		return fmt.Errorf("sending countersignature: %w", err)
	}

	hop.Fundings = []*HopFunding{{
		Funding:     funding,
		ContractTx:  template.ContractTx,
		ReceiverSig: receiverSig,
	}}
	return nil
}

// relayNegotiation forwards Phase A for a hop with two Maker endpoints.
// The Taker still validates the proposal against the pubkeys and
// timelock it already collected during key resolution, even though it
// holds no key on either side of this hop.
func (ex *Executor) relayNegotiation(hop *HopState, amount btcutil.Amount) error {
	senderConn := hop.SenderConn(ex.sess.MakerConns)
	receiverConn := hop.ReceiverConn(ex.sess.MakerConns)

	msg, err := senderConn.Recv()
	if err != nil {
		return fmt.Errorf("waiting for sender's contract proposal: %w", err)
	}
	req, ok := msg.(*swwire.ReqContractSigsForSender)
	if !ok || len(req.ContractTxTemplates) != 1 {
		return fmt.Errorf("unexpected message from sender: %T", msg)
	}
	if err := ex.validateTemplate(hop, req.ContractTxTemplates[0], amount); err != nil {
		return fmt.Errorf("sender proposal fails validation: %w", err)
	}

	reply, err := receiverConn.Request(req)
	if err != nil {
		return fmt.Errorf("forwarding proposal to receiver: %w", err)
	}
	resp, ok := reply.(*swwire.RespContractSigsForSender)
	if !ok || len(resp.Sigs) != 1 {
		return fmt.Errorf("unexpected reply from receiver: %T", reply)
	}

	if err := senderConn.Send(resp); err != nil {
		return fmt.Errorf("forwarding countersignature to sender: %w", err)
	}
	return nil
}

// validateTemplate checks a proposed contract template against the hop
// parameters the Taker already committed to before this negotiation
// started, per spec §4.1 Phase A validation.
func (ex *Executor) validateTemplate(hop *HopState, template swwire.ContractTemplate,
	amount btcutil.Amount) error {

	if template.Hash != ex.sess.Hash {
		return fmt.Errorf("hash mismatch: got %s, want %s", template.Hash, ex.sess.Hash)
	}
	if template.Timelock != hop.Timelock {
		return fmt.Errorf("timelock mismatch: got %d, want %d", template.Timelock, hop.Timelock)
	}
	if template.HashlockPubKey == nil || !template.HashlockPubKey.IsEqual(hop.HashlockPubKey) {
		return fmt.Errorf("hashlock pubkey does not match the one committed during key resolution")
	}
	if template.TimelockPubKey == nil || !template.TimelockPubKey.IsEqual(hop.TimelockPubKey) {
		return fmt.Errorf("timelock pubkey does not match the one committed during key resolution")
	}
	if template.FundingAmount != amount {
		return fmt.Errorf("funding amount mismatch: got %v, want %v", template.FundingAmount, amount)
	}
	if template.ContractTx == nil {
		return fmt.Errorf("proposal carried no contract transaction")
	}
	return nil
}

func contractTemplateOf(hop *HopState, hash contract.Hash, funding *contract.Funding,
	contractTx *btcwire.MsgTx) swwire.ContractTemplate {

	return swwire.ContractTemplate{
		FundingOutpoint: contractTx.TxIn[0].PreviousOutPoint,
		FundingAmount:   funding.Amount,
		HashlockPubKey:  hop.HashlockPubKey,
		TimelockPubKey:  hop.TimelockPubKey,
		Hash:            hash,
		Timelock:        hop.Timelock,
		ContractTx:      contractTx,
	}
}

// buildAndSignFundingTx reserves wallet UTXOs, builds the funding
// transaction paying into the multisig, and signs every input. The txid
// of a segwit transaction is fixed by its non-witness fields, so the
// funding outpoint the contract tx spends is already determined here
// even though the transaction is not broadcast until Phase B.
func (ex *Executor) buildAndSignFundingTx(funding *contract.Funding) (*btcwire.MsgTx, error) {
	utxos, changeOut, err := ex.wallet.FundInputs(funding.Amount, ContractFee)
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
		witness, err := ex.wallet.SignInput(tx, i, u.PkScript, u.Value)
		if err != nil {
			return nil, fmt.Errorf("signing funding input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}
	return tx, nil
}

// fundAll broadcasts funding for every hop the Taker itself funds, and
// relays or independently verifies proof of funding for every other
// hop (spec §4.1 Phase B). Confirmation depth is always observed
// through chain.Node, never merely trusted from a counterparty's claim.
func (ex *Executor) fundAll(amounts []btcutil.Amount) error {
	for i, hop := range ex.sess.Hops {
		var hf *HopFunding
		if len(hop.Fundings) > 0 {
			hf = hop.Fundings[0]
		}

		switch {
		case hop.SenderIsTaker:
			if err := ex.broadcastAndProve(hop, hf); err != nil {
				return fmt.Errorf("hop %d: %w", hop.Index, err)
			}
		case hop.ReceiverIsTaker:
			if err := ex.receiveProof(hop, hf, amounts[i]); err != nil {
				return fmt.Errorf("hop %d: %w", hop.Index, err)
			}
		default:
			if err := ex.relayProof(hop); err != nil {
				return fmt.Errorf("hop %d: %w", hop.Index, err)
			}
		}
	}
	return nil
}

func (ex *Executor) broadcastAndProve(hop *HopState, hf *HopFunding) error {
	if _, err := ex.node.SendRawTransaction(hf.FundingTx, false); err != nil {
		return fmt.Errorf("broadcasting funding tx: %w", err)
	}

	outpoint, err := hf.Funding.LocateOutput(hf.FundingTx)
	if err != nil {
		return err
	}
	if err := ex.wallet.LabelOutPoint(*outpoint, labels.LabelContract); err != nil {
		return fmt.Errorf("labeling funding output: %w", err)
	}

	if ex.tower != nil {
		entry := watchEntryForSender(
			ex.sess.ID, ex.sess.Hash, hop, hf, outpoint, ex.clock.Now().Unix(),
		)
		if err := ex.tower.Watch(entry); err != nil {
			return fmt.Errorf("registering with watchtower: %w", err)
		}
	}

	txHash := hf.FundingTx.TxHash()
	confs, err := chain.WaitForConfirmations(
		ex.node, &txHash, ex.sess.Params.RequiredConfirmations, ex.tick, ex.quit,
	)
	if err != nil {
		return fmt.Errorf("waiting for funding confirmations: %w", err)
	}

	conn := hop.ReceiverConn(ex.sess.MakerConns)
	proof := &swwire.RespProofOfFunding{
		Fundings: []swwire.FundingInfo{{
			Tx:                   hf.FundingTx,
			MultisigRedeemScript: hf.Funding.RedeemScript(),
			Amount:               hf.Funding.Amount,
		}},
		Confirmations:         []int32{confs},
		MultisigRedeemscripts: [][]byte{hf.Funding.RedeemScript()},
	}
	return conn.Send(proof)
}

func (ex *Executor) receiveProof(hop *HopState, hf *HopFunding, amount btcutil.Amount) error {
	conn := hop.SenderConn(ex.sess.MakerConns)
	msg, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("waiting for proof of funding: %w", err)
	}
	proof, ok := msg.(*swwire.RespProofOfFunding)
	if !ok || len(proof.Fundings) != 1 {
		return fmt.Errorf("unexpected message: %T", msg)
	}

	outpoint, err := ex.verifyProof(hop, hf, proof.Fundings[0], amount)
	if err != nil {
		return err
	}

	if ex.tower != nil {
		entry := watchEntryForReceiver(
			ex.sess.ID, ex.sess.Hash, ex.sess.Preimage, hop, hf, outpoint,
			ex.clock.Now().Unix(),
		)
		if err := ex.tower.Watch(entry); err != nil {
			return fmt.Errorf("registering with watchtower: %w", err)
		}
	}
	return nil
}

func (ex *Executor) relayProof(hop *HopState) error {
	senderConn := hop.SenderConn(ex.sess.MakerConns)
	receiverConn := hop.ReceiverConn(ex.sess.MakerConns)

	msg, err := senderConn.Recv()
	if err != nil {
		return fmt.Errorf("waiting for proof of funding: %w", err)
	}
	if _, ok := msg.(*swwire.RespProofOfFunding); !ok {
		return fmt.Errorf("unexpected message: %T", msg)
	}
	return receiverConn.Send(msg)
}

// verifyProof independently confirms a funding transaction pays the
// expected multisig the required amount and has reached the required
// confirmation depth, by polling chain.Node directly (spec §5, a
// cancellable confirmation wait) rather than trusting the
// counterparty's own claim of Confirmations (spec §4.1 Phase B).
func (ex *Executor) verifyProof(hop *HopState, hf *HopFunding,
	info swwire.FundingInfo, amount btcutil.Amount) (*btcwire.OutPoint, error) {

	if hf.Funding.Amount != amount {
		return nil, fmt.Errorf("funding amount mismatch: got %v, want %v", hf.Funding.Amount, amount)
	}
	if info.Tx == nil {
		return nil, fmt.Errorf("proof of funding carried no transaction")
	}
	outpoint, err := hf.Funding.LocateOutput(info.Tx)
	if err != nil {
		return nil, fmt.Errorf("funding output not found in proof: %w", err)
	}

	txHash := info.Tx.TxHash()
	confs, err := chain.WaitForConfirmations(
		ex.node, &txHash, ex.sess.Params.RequiredConfirmations, ex.tick, ex.quit,
	)
	if err != nil {
		return nil, fmt.Errorf("waiting for funding confirmations: %w", err)
	}

	hf.Confirmations = confs
	hf.FundingTx = info.Tx
	return outpoint, nil
}

func watchEntryForSender(sessionID string, hash contract.Hash, hop *HopState,
	hf *HopFunding, fundingOutpoint *btcwire.OutPoint, now int64) storage.WatchEntry {

	return storage.WatchEntry{
		SessionID:       sessionID,
		FundingOutpoint: *fundingOutpoint,
		OwnContractTx:   hf.ContractTx,
		HashlockPubKey:  hop.HashlockPubKey,
		TimelockPubKey:  hop.TimelockPubKey,
		Hash:            hash,
		Timelock:        hop.Timelock,
		Role:            contract.RoleSender,
		PrivKey:         hop.TakerPrivKey.Serialize(),
		CreatedAt:       now,
	}
}

func watchEntryForReceiver(sessionID string, hash contract.Hash,
	preimage contract.Preimage, hop *HopState, hf *HopFunding,
	fundingOutpoint *btcwire.OutPoint, now int64) storage.WatchEntry {

	// The watchtower redeems the hashlock branch, which requires the
	// tweaked key, not the bare multisig key used to countersign the
	// contract tx during negotiation.
	hashlockPrivKey := contract.TweakPrivKey(hop.TakerPrivKey, hop.Tweak)

	return storage.WatchEntry{
		SessionID:       sessionID,
		FundingOutpoint: *fundingOutpoint,
		OwnContractTx:   hf.ContractTx,
		HashlockPubKey:  hop.HashlockPubKey,
		TimelockPubKey:  hop.TimelockPubKey,
		Hash:            hash,
		Timelock:        hop.Timelock,
		Role:            contract.RoleReceiver,
		PrivKey:         hashlockPrivKey.Serialize(),
		Preimage:        &preimage,
		CreatedAt:       now,
	}
}

// settle releases the preimage hop by hop (spec §4.1, "Preimage/Key
// handover": "the Taker sends the preimage to Maker 1 ... which
// confirms by replying with its private key ... the Taker hands its
// own private key back ... repeats hop-by-hop outward") and, for every
// hop, completes the mutual key exchange that lets each hop's receiver
// end up holding both private keys of its incoming multisig (spec §3,
// HopState invariants). Processed in ascending hop order, matching the
// "hop-by-hop outward" sequencing from the Taker's own sending hop
// toward its own receiving hop.
func (ex *Executor) settle() error {
	for _, hop := range ex.sess.Hops {
		if err := ex.settleHop(hop); err != nil {
			return fmt.Errorf("hop %d: %w", hop.Index, err)
		}
	}

	if ex.tower != nil {
		if err := ex.tower.SetPreimage(ex.sess.ID, ex.sess.Preimage); err != nil {
			return fmt.Errorf("notifying watchtower of preimage: %w", err)
		}
	}
	return nil
}

// settleHop runs one hop's handover. Three shapes, depending on which
// endpoints are the Taker itself:
//
//  1. Receiver is a Maker: send RespHashPreimage (bundling the Taker's
//     own privkey as NextHopMultisigPrivKey when the Taker is this
//     hop's sender, since in that case there is no separate sender
//     Maker to ask later) and collect the receiver's reply privkey.
//  2. Sender is a Maker: send an empty RespPrivKeyHandover as the
//     implicit "hand over your key" trigger (spec defines no distinct
//     request message for this; an empty payload disambiguates it
//     from the notification use of the same message, see below) and
//     collect the sender's reply privkey.
//  3. If both 1 and 2 produced a Maker-held key (an interior hop with
//     a Maker on both sides), forward the sender's key to the receiver
//     as a non-empty, no-reply-expected RespPrivKeyHandover so that
//     receiver ends up holding both keys, not just its own.
func (ex *Executor) settleHop(hop *HopState) error {
	receiverConn := hop.ReceiverConn(ex.sess.MakerConns)
	senderConn := hop.SenderConn(ex.sess.MakerConns)

	if receiverConn != nil {
		msg := &swwire.RespHashPreimage{Preimage: ex.sess.Preimage}
		if senderConn == nil {
			msg.NextHopMultisigPrivKey = hop.TakerPrivKey.Serialize()
		}
		reply, err := receiverConn.Request(msg)
		if err != nil {
			return fmt.Errorf("sending preimage: %w", err)
		}
		handover, ok := reply.(*swwire.RespPrivKeyHandover)
		if !ok || len(handover.PrivKeys) != 1 {
			return fmt.Errorf("expected privkey handover reply, got %T", reply)
		}
		hop.ReceiverPrivKey = handover.PrivKeys[0]
	}

	if senderConn != nil {
		reply, err := senderConn.Request(&swwire.RespPrivKeyHandover{})
		if err != nil {
			return fmt.Errorf("requesting sender privkey: %w", err)
		}
		handover, ok := reply.(*swwire.RespPrivKeyHandover)
		if !ok || len(handover.PrivKeys) != 1 {
			return fmt.Errorf("expected privkey handover reply, got %T", reply)
		}
		hop.SenderPrivKey = handover.PrivKeys[0]
	} else {
		hop.SenderPrivKey = hop.TakerPrivKey.Serialize()
	}

	if senderConn != nil && receiverConn != nil {
		if err := receiverConn.Send(&swwire.RespPrivKeyHandover{
			PrivKeys: [][]byte{hop.SenderPrivKey},
		}); err != nil {
			return fmt.Errorf("forwarding sender privkey to receiver: %w", err)
		}
	}
	return nil
}
