// Package watchtower implements the contract-enforcement loop each
// Maker and each Taker with an active swap runs in the background
// (spec §4.3): watching every in-flight hop's funding outpoint for a
// contract-tx broadcast, racing an adversary's broadcast across the
// rest of the swap, and sweeping a matured or hashlock-revealed
// contract output unilaterally.
//
// Grounded on the teacher's sweepbatcher package: an event-driven
// background worker polling chain state on a ticker and racing
// sweeps against a deadline, generalized here from a single HTLC
// sweep-batching concern to the two-branch hashlock/timelock contract
// script this protocol uses.
package watchtower

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/storage"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultPollInterval is how often the tower re-scans watched
// outpoints when not driven by a test ticker.
const DefaultPollInterval = 30 * time.Second

// Tower is the contract-enforcement loop. One Tower serves an entire
// daemon: every in-flight hop across every swap session is registered
// with Watch and unregistered with Forget as the session completes.
type Tower struct {
	node   chain.Node
	wallet chain.Wallet
	store  *storage.Store
	params *chaincfg.Params
	tick   ticker.Ticker

	mu       sync.Mutex
	sessions map[string][]*trackedHop

	quit chan struct{}
	wg   sync.WaitGroup
}

type trackedHop struct {
	entry storage.WatchEntry
}

// New creates a Tower. Pass a ticker.NewForce-backed ticker in tests to
// drive polling deterministically instead of waiting on wall-clock
// time.
func New(node chain.Node, wallet chain.Wallet, store *storage.Store,
	params *chaincfg.Params, tick ticker.Ticker) *Tower {

	if tick == nil {
		tick = ticker.New(DefaultPollInterval)
	}

	return &Tower{
		node:     node,
		wallet:   wallet,
		store:    store,
		params:   params,
		tick:     tick,
		sessions: make(map[string][]*trackedHop),
		quit:     make(chan struct{}),
	}
}

// Start loads any hops persisted from a previous run and begins the
// polling loop.
func (t *Tower) Start() error {
	entries, err := t.store.LoadWatchEntries()
	if err != nil {
		return fmt.Errorf("watchtower: load watch entries: %w", err)
	}

	t.mu.Lock()
	for _, e := range entries {
		t.sessions[e.SessionID] = append(
			t.sessions[e.SessionID], &trackedHop{entry: e},
		)
	}
	t.mu.Unlock()

	t.tick.Resume()

	t.wg.Add(1)
	go t.run()

	log.Infof("watchtower started, tracking %d hops", len(entries))
	return nil
}

// Stop halts the polling loop. It does not forget any tracked hops;
// they resume from disk on the next Start.
func (t *Tower) Stop() {
	close(t.quit)
	t.tick.Stop()
	t.wg.Wait()
}

// Watch registers a hop for enforcement (spec §4.3 rule 1) and persists
// it immediately, so a crash before the next poll doesn't drop
// coverage.
func (t *Tower) Watch(entry storage.WatchEntry) error {
	if err := t.store.PutWatchEntry(entry); err != nil {
		return fmt.Errorf("watchtower: persist watch entry: %w", err)
	}

	t.mu.Lock()
	t.sessions[entry.SessionID] = append(
		t.sessions[entry.SessionID], &trackedHop{entry: entry},
	)
	t.mu.Unlock()

	return nil
}

// Forget removes a hop from enforcement once its swap has completed
// cooperatively and no unilateral action will ever be needed.
func (t *Tower) Forget(sessionID string, fundingOutpoint wire.OutPoint) error {
	t.mu.Lock()
	hops := t.sessions[sessionID]
	for i, h := range hops {
		if h.entry.FundingOutpoint == fundingOutpoint {
			t.sessions[sessionID] = append(hops[:i], hops[i+1:]...)
			break
		}
	}
	if len(t.sessions[sessionID]) == 0 {
		delete(t.sessions, sessionID)
	}
	t.mu.Unlock()

	return t.store.DeleteWatchEntry(fundingOutpoint)
}

// SetPreimage records a newly learned preimage against every tracked
// hop in a session where this party is the receiver, so the next poll
// sweeps the hashlock branch the instant it's able to (spec §4.2,
// hashlock-pubkey tweak: knowing the preimage is necessary but not
// sufficient without the tweak this party already holds).
func (t *Tower) SetPreimage(sessionID string, preimage contract.Preimage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, h := range t.sessions[sessionID] {
		if h.entry.Role != contract.RoleReceiver || h.entry.Preimage != nil {
			continue
		}
		h.entry.Preimage = &preimage
		if err := t.store.PutWatchEntry(h.entry); err != nil {
			return fmt.Errorf("watchtower: persist preimage: %w", err)
		}
	}
	return nil
}

func (t *Tower) run() {
	defer t.wg.Done()

	for {
		select {
		case <-t.tick.Ticks():
			t.pollAll()

		case <-t.quit:
			return
		}
	}
}

func (t *Tower) pollAll() {
	t.mu.Lock()
	sessionIDs := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		sessionIDs = append(sessionIDs, id)
	}
	t.mu.Unlock()

	for _, id := range sessionIDs {
		if err := t.pollSession(id); err != nil {
			log.Warnf("watchtower: session %s: %v", id, err)
		}
	}
}

// pollSession implements spec §4.3 rules 2-3: scan every hop's funding
// outpoint for a contract-tx broadcast, and the instant one is seen,
// race the party's own contract tx onto every other hop of the same
// session rather than waiting for its own funding outpoint to move.
func (t *Tower) pollSession(sessionID string) error {
	t.mu.Lock()
	hops := make([]*trackedHop, len(t.sessions[sessionID]))
	copy(hops, t.sessions[sessionID])
	t.mu.Unlock()

	raced := false
	for _, h := range hops {
		moved, err := t.pollFunding(h)
		if err != nil {
			log.Warnf("watchtower: poll funding %v: %v",
				h.entry.FundingOutpoint, err)
			continue
		}
		if moved {
			raced = true
		}
	}

	// A contract tx confirmed somewhere in this swap: broadcast this
	// party's own contract tx on every sibling hop immediately, rather
	// than waiting for that hop's funding outpoint to be independently
	// observed spent.
	if raced {
		for _, h := range hops {
			if h.entry.ContractOutpoint == nil {
				if err := t.broadcastOwn(h); err != nil {
					log.Warnf("watchtower: race broadcast %v: %v",
						h.entry.FundingOutpoint, err)
				}
			}
		}
	}

	for _, h := range hops {
		if h.entry.ContractOutpoint != nil {
			if err := t.pollContract(h); err != nil {
				log.Warnf("watchtower: poll contract %v: %v",
					*h.entry.ContractOutpoint, err)
			}
		}
	}

	return nil
}

// pollFunding checks whether a hop's funding outpoint has been spent by
// its known contract tx, filling in ContractOutpoint the moment it has.
// It reports whether the contract tx was newly observed this poll.
func (t *Tower) pollFunding(h *trackedHop) (bool, error) {
	if h.entry.ContractOutpoint != nil {
		return false, nil
	}
	if h.entry.OwnContractTx == nil {
		return false, nil
	}

	txOut, err := t.node.GetTxOut(
		&h.entry.FundingOutpoint.Hash, h.entry.FundingOutpoint.Index, true,
	)
	if err != nil {
		return false, fmt.Errorf("get funding txout: %w", err)
	}
	if txOut != nil {
		// Funding output still unspent, nothing to race yet.
		return false, nil
	}

	contractHash := h.entry.OwnContractTx.TxHash()
	raw, err := t.node.GetRawTransactionVerbose(&contractHash)
	if err != nil {
		// The funding output moved but this node hasn't relayed or
		// mined the known contract tx yet (or it's a different spend
		// entirely, which the 2-of-2 funding script should make
		// impossible under honest signing rules). Nothing actionable
		// this round.
		return false, nil
	}

	op := wire.OutPoint{Hash: contractHash, Index: 0}
	h.entry.ContractOutpoint = &op
	h.entry.ContractConfirmedHeight = int32(0)
	if raw.Confirmations > 0 && raw.BlockHash != "" {
		blockHash, err := chainhash.NewHashFromStr(raw.BlockHash)
		if err == nil {
			block, err := t.node.GetBlockVerbose(blockHash)
			if err == nil {
				h.entry.ContractConfirmedHeight = int32(block.Height)
			}
		}
	}
	h.entry.Broadcast = true

	if err := t.store.PutWatchEntry(h.entry); err != nil {
		return true, fmt.Errorf("persist observed contract tx: %w", err)
	}

	log.Infof("watchtower: contract tx %s observed for hop %v",
		contractHash, h.entry.FundingOutpoint)
	return true, nil
}

// broadcastOwn sends a hop's own contract tx and marks it broadcast, a
// no-op if it's already been seen confirmed or in the mempool.
func (t *Tower) broadcastOwn(h *trackedHop) error {
	if h.entry.OwnContractTx == nil || h.entry.Broadcast {
		return nil
	}

	_, err := t.node.SendRawTransaction(h.entry.OwnContractTx, false)
	if err != nil {
		return fmt.Errorf("broadcast own contract tx: %w", err)
	}

	h.entry.Broadcast = true
	return t.store.PutWatchEntry(h.entry)
}

// pollContract checks a confirmed contract output for maturity (sender
// side) or hashlock eligibility (receiver side) and sweeps it
// unilaterally the instant it's able to (spec §4.3 rule 3).
func (t *Tower) pollContract(h *trackedHop) error {
	txOut, err := t.node.GetTxOut(
		&h.entry.ContractOutpoint.Hash, h.entry.ContractOutpoint.Index, true,
	)
	if err != nil {
		return fmt.Errorf("get contract txout: %w", err)
	}
	if txOut == nil {
		if h.entry.Role == contract.RoleReceiver && h.entry.Preimage == nil {
			t.recoverLeakedPreimage(h)
		}
		// Already swept by someone; nothing left to enforce on this hop.
		return t.Forget(h.entry.SessionID, h.entry.FundingOutpoint)
	}

	value, err := btcutil.NewAmount(txOut.Value)
	if err != nil {
		return fmt.Errorf("parse contract output value: %w", err)
	}

	switch h.entry.Role {
	case contract.RoleReceiver:
		if h.entry.Preimage == nil {
			return nil
		}
		return t.sweepHashlock(h, value)

	case contract.RoleSender:
		raw, err := t.node.GetRawTransactionVerbose(&h.entry.ContractOutpoint.Hash)
		if err != nil {
			return fmt.Errorf("check contract tx confirmations: %w", err)
		}
		if int64(raw.Confirmations) < h.entry.Timelock {
			return nil
		}
		return t.sweepTimelock(h, value)
	}
	return nil
}

// recoverLeakedPreimage handles the case where a contract output this
// party watched as a receiver was already spent by the time it got to
// it: the adversary revealed the preimage by sweeping the hashlock
// branch first. It scans the chain for the spending transaction and, if
// its witness took the hashlock branch, propagates the recovered
// preimage to every sibling hop of the same session so their receivers
// can self-serve and race their own sweep (spec §4.3 rule 3).
func (t *Tower) recoverLeakedPreimage(h *trackedHop) {
	preimage, err := t.findHashlockPreimage(
		*h.entry.ContractOutpoint, h.entry.Hash, h.entry.ContractConfirmedHeight,
	)
	if err != nil {
		log.Warnf("watchtower: scanning for leaked preimage on %v: %v",
			*h.entry.ContractOutpoint, err)
		return
	}
	if preimage == nil {
		return
	}

	log.Infof("watchtower: recovered preimage for session %s from a "+
		"hashlock spend of %v", h.entry.SessionID, *h.entry.ContractOutpoint)
	if err := t.SetPreimage(h.entry.SessionID, *preimage); err != nil {
		log.Warnf("watchtower: propagating recovered preimage: %v", err)
	}
}

// findHashlockPreimage scans blocks from fromHeight to the current tip
// for the transaction that spent outpoint and, if that spend walked the
// hashlock branch, extracts and verifies the preimage it revealed. It
// returns a nil preimage, with no error, if the spend isn't found in
// the scanned range or didn't take the hashlock branch.
func (t *Tower) findHashlockPreimage(outpoint wire.OutPoint, hash contract.Hash,
	fromHeight int32) (*contract.Preimage, error) {

	tip, err := t.node.GetBlockCount()
	if err != nil {
		return nil, fmt.Errorf("get block count: %w", err)
	}

	start := int64(fromHeight)
	if start < 0 {
		start = 0
	}

	for height := start; height <= tip; height++ {
		blockHash, err := t.node.GetBlockHash(height)
		if err != nil {
			return nil, fmt.Errorf("get block hash %d: %w", height, err)
		}
		block, err := t.node.GetBlockVerbose(blockHash)
		if err != nil {
			return nil, fmt.Errorf("get block %d: %w", height, err)
		}

		for _, txid := range block.Tx {
			txHash, err := chainhash.NewHashFromStr(txid)
			if err != nil {
				continue
			}
			raw, err := t.node.GetRawTransactionVerbose(txHash)
			if err != nil {
				continue
			}
			witness, ok := spendingWitness(raw, outpoint)
			if !ok {
				continue
			}
			preimage, err := contract.ExtractPreimage(witness, hash)
			if err != nil {
				// Found the spend but it took the timeout branch, or its
				// witness doesn't verify against this hop's hash; nothing
				// to recover from this spend.
				return nil, nil
			}
			return &preimage, nil
		}
	}
	return nil, nil
}

// spendingWitness reports the witness stack of raw's input spending
// outpoint, if any.
func spendingWitness(raw *btcjson.TxRawResult, outpoint wire.OutPoint) (wire.TxWitness, bool) {
	for _, vin := range raw.Vin {
		if vin.Txid != outpoint.Hash.String() || vin.Vout != outpoint.Index {
			continue
		}
		if len(vin.Witness) == 0 {
			return nil, false
		}
		witness := make(wire.TxWitness, len(vin.Witness))
		for i, hexStr := range vin.Witness {
			b, err := hex.DecodeString(hexStr)
			if err != nil {
				return nil, false
			}
			witness[i] = b
		}
		return witness, true
	}
	return nil, false
}

func (t *Tower) sweepHashlock(h *trackedHop, value btcutil.Amount) error {
	script, err := contract.NewScript(
		h.entry.Timelock, h.entry.HashlockPubKey, h.entry.TimelockPubKey,
		h.entry.Hash, t.params,
	)
	if err != nil {
		return fmt.Errorf("rebuild contract script: %w", err)
	}

	privKey, _ := btcec.PrivKeyFromBytes(h.entry.PrivKey)
	destAddr, err := t.wallet.NewAddress()
	if err != nil {
		return fmt.Errorf("get sweep destination: %w", err)
	}

	sweepTx, err := buildSweepTx(*h.entry.ContractOutpoint, value, destAddr)
	if err != nil {
		return err
	}

	sig, err := signSweep(sweepTx, script, value, privKey)
	if err != nil {
		return fmt.Errorf("sign hashlock sweep: %w", err)
	}
	witness, err := script.SuccessWitness(sig, *h.entry.Preimage)
	if err != nil {
		return fmt.Errorf("build hashlock witness: %w", err)
	}
	sweepTx.TxIn[0].Witness = witness

	if _, err := t.node.SendRawTransaction(sweepTx, false); err != nil {
		return fmt.Errorf("broadcast hashlock sweep: %w", err)
	}

	log.Infof("watchtower: swept hashlock branch of %v",
		*h.entry.ContractOutpoint)
	return t.Forget(h.entry.SessionID, h.entry.FundingOutpoint)
}

func (t *Tower) sweepTimelock(h *trackedHop, value btcutil.Amount) error {
	script, err := contract.NewScript(
		h.entry.Timelock, h.entry.HashlockPubKey, h.entry.TimelockPubKey,
		h.entry.Hash, t.params,
	)
	if err != nil {
		return fmt.Errorf("rebuild contract script: %w", err)
	}

	privKey, _ := btcec.PrivKeyFromBytes(h.entry.PrivKey)
	destAddr, err := t.wallet.NewAddress()
	if err != nil {
		return fmt.Errorf("get sweep destination: %w", err)
	}

	sweepTx, err := buildSweepTx(*h.entry.ContractOutpoint, value, destAddr)
	if err != nil {
		return err
	}
	sweepTx.TxIn[0].Sequence = uint32(h.entry.Timelock)

	sig, err := signSweep(sweepTx, script, value, privKey)
	if err != nil {
		return fmt.Errorf("sign timelock sweep: %w", err)
	}
	witness, err := script.TimeoutWitness(sig)
	if err != nil {
		return fmt.Errorf("build timelock witness: %w", err)
	}
	sweepTx.TxIn[0].Witness = witness

	if _, err := t.node.SendRawTransaction(sweepTx, false); err != nil {
		return fmt.Errorf("broadcast timelock sweep: %w", err)
	}

	log.Infof("watchtower: swept timelock branch of %v",
		*h.entry.ContractOutpoint)
	return t.Forget(h.entry.SessionID, h.entry.FundingOutpoint)
}

func buildSweepTx(contractOutpoint wire.OutPoint, value btcutil.Amount,
	dest btcutil.Address) (*wire.MsgTx, error) {

	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, fmt.Errorf("build destination script: %w", err)
	}

	const sweepFee = btcutil.Amount(500)
	if value <= sweepFee {
		return nil, fmt.Errorf("contract value %v too small to sweep", value)
	}

	tx := wire.NewMsgTx(contract.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&contractOutpoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(value-sweepFee), destScript))
	return tx, nil
}

// signSweep returns the raw DER signature over the contract script
// spend, without a trailing sighash-type byte: both SuccessWitness and
// TimeoutWitness append that byte themselves.
func signSweep(tx *wire.MsgTx, script *contract.Script, value btcutil.Amount,
	privKey *btcec.PrivateKey) ([]byte, error) {

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		script.PkScript(), int64(value),
	)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	sigHash, err := txscript.CalcWitnessSigHash(
		script.RawScript(), sigHashes, txscript.SigHashAll, tx, 0, int64(value),
	)
	if err != nil {
		return nil, fmt.Errorf("compute sighash: %w", err)
	}

	sig := ecdsa.Sign(privKey, sigHash)
	return sig.Serialize(), nil
}
