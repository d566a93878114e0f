package watchtower

import (
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/labels"
	"github.com/binaryswap/coinswap/storage"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	txOuts map[wire.OutPoint]*btcjson.GetTxOutResult
	rawTxs map[chainhash.Hash]*btcjson.TxRawResult
	sent   []*wire.MsgTx

	// blockTxids, if set, is returned as the sole block's transaction
	// list by GetBlockVerbose, letting a test simulate a leaked-preimage
	// sweep landing in the single block findHashlockPreimage scans.
	blockTxids []string
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		txOuts: make(map[wire.OutPoint]*btcjson.GetTxOutResult),
		rawTxs: make(map[chainhash.Hash]*btcjson.TxRawResult),
	}
}

func (f *fakeNode) GetBestBlockHash() (*chainhash.Hash, error) { return &chainhash.Hash{}, nil }
func (f *fakeNode) GetBlockCount() (int64, error)              { return 700_000, nil }
func (f *fakeNode) GetBlockHash(int64) (*chainhash.Hash, error) { return &chainhash.Hash{}, nil }

func (f *fakeNode) GetBlockVerbose(hash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error) {
	return &btcjson.GetBlockVerboseResult{Height: 700_000, Tx: f.blockTxids}, nil
}

func (f *fakeNode) GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {
	raw, ok := f.rawTxs[*txHash]
	if !ok {
		return nil, fmt.Errorf("tx %s not found", txHash)
	}
	return raw, nil
}

func (f *fakeNode) GetTxOut(txHash *chainhash.Hash, index uint32,
	mempool bool) (*btcjson.GetTxOutResult, error) {

	return f.txOuts[wire.OutPoint{Hash: *txHash, Index: index}], nil
}

func (f *fakeNode) SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error) {
	f.sent = append(f.sent, tx)
	hash := tx.TxHash()
	return &hash, nil
}

func (f *fakeNode) EstimateSmartFee(int64,
	*btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error) {

	rate := 1.0
	return &btcjson.EstimateSmartFeeResult{FeeRate: &rate}, nil
}

type fakeWallet struct{}

func (fakeWallet) NewAddress() (btcutil.Address, error) {
	return btcutil.NewAddressPubKeyHash(make([]byte, 20), &chaincfg.RegressionNetParams)
}
func (fakeWallet) DeriveKey(int32) (*btcec.PrivateKey, error) { return btcec.NewPrivateKey() }
func (fakeWallet) ListUnspent(labels.Label) ([]chain.UTXO, error) { return nil, nil }
func (fakeWallet) FundInputs(btcutil.Amount, btcutil.Amount) ([]chain.UTXO, *wire.TxOut, error) {
	return nil, nil, nil
}
func (fakeWallet) LabelOutPoint(wire.OutPoint, labels.Label) error { return nil }
func (fakeWallet) SignInput(*wire.MsgTx, int, []byte, btcutil.Amount) (wire.TxWitness, error) {
	return nil, nil
}
func (fakeWallet) Balances() (chain.Balances, error) { return chain.Balances{}, nil }
func (fakeWallet) Sync() error                       { return nil }

func buildTestHop(t *testing.T, role contract.Role) (storage.WatchEntry, *contract.Script) {
	t.Helper()

	hashlockKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	timelockKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	preimage := contract.Preimage{9, 9, 9}
	script, err := contract.NewScript(
		6, hashlockKey.PubKey(), timelockKey.PubKey(), preimage.Hash(),
		&chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	fundingOutpoint := wire.OutPoint{Index: 1}
	contractTx := wire.NewMsgTx(contract.TxVersion)
	contractTx.AddTxIn(wire.NewTxIn(&fundingOutpoint, nil, nil))
	contractTx.AddTxOut(wire.NewTxOut(100_000, script.PkScript()))

	var privKey []byte
	if role == contract.RoleSender {
		privKey = timelockKey.Serialize()
	} else {
		privKey = hashlockKey.Serialize()
	}

	entry := storage.WatchEntry{
		SessionID:       "sess-1",
		FundingOutpoint: fundingOutpoint,
		OwnContractTx:   contractTx,
		HashlockPubKey:  hashlockKey.PubKey(),
		TimelockPubKey:  timelockKey.PubKey(),
		Hash:            preimage.Hash(),
		Timelock:        6,
		Role:            role,
		PrivKey:         privKey,
	}
	if role == contract.RoleReceiver {
		entry.Preimage = &preimage
	}
	return entry, script
}

func newTestTower(t *testing.T, node *fakeNode) (*Tower, *ticker.Force) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	force := ticker.NewForce(DefaultPollInterval)
	tower := New(node, fakeWallet{}, store, &chaincfg.RegressionNetParams, force)
	require.NoError(t, tower.Start())
	t.Cleanup(tower.Stop)

	return tower, force
}

func timeNow() time.Time {
	return time.Unix(1_700_000_000, 0)
}

// waitForCondition polls cond, giving the tower's background poll
// goroutine a chance to process the forced tick before failing.
func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met before deadline")
}

func TestTowerRacesFundingSpendIntoContractTx(t *testing.T) {
	node := newFakeNode()
	entry, _ := buildTestHop(t, contract.RoleSender)

	tower, force := newTestTower(t, node)
	require.NoError(t, tower.Watch(entry))

	contractHash := entry.OwnContractTx.TxHash()
	node.rawTxs[contractHash] = &btcjson.TxRawResult{Confirmations: 0}

	force.Force <- timeNow()
	waitForCondition(t, func() bool {
		tower.mu.Lock()
		defer tower.mu.Unlock()
		hops := tower.sessions[entry.SessionID]
		return len(hops) == 1 && hops[0].entry.ContractOutpoint != nil
	})
}

func TestTowerSweepsTimelockOnceMature(t *testing.T) {
	node := newFakeNode()
	entry, script := buildTestHop(t, contract.RoleSender)

	contractHash := entry.OwnContractTx.TxHash()
	contractOutpoint := wire.OutPoint{Hash: contractHash, Index: 0}
	entry.ContractOutpoint = &contractOutpoint
	entry.Broadcast = true

	node.rawTxs[contractHash] = &btcjson.TxRawResult{Confirmations: 6}
	node.txOuts[contractOutpoint] = &btcjson.GetTxOutResult{
		Value: 0.001,
	}
	_ = script

	tower, force := newTestTower(t, node)
	require.NoError(t, tower.Watch(entry))

	force.Force <- timeNow()
	waitForCondition(t, func() bool {
		return len(node.sent) == 1
	})
}

func TestTowerSweepsHashlockAsSoonAsPreimageKnown(t *testing.T) {
	node := newFakeNode()
	entry, script := buildTestHop(t, contract.RoleReceiver)

	contractHash := entry.OwnContractTx.TxHash()
	contractOutpoint := wire.OutPoint{Hash: contractHash, Index: 0}
	entry.ContractOutpoint = &contractOutpoint
	entry.Broadcast = true

	node.txOuts[contractOutpoint] = &btcjson.GetTxOutResult{Value: 0.001}
	_ = script

	tower, force := newTestTower(t, node)
	require.NoError(t, tower.Watch(entry))

	force.Force <- timeNow()
	waitForCondition(t, func() bool {
		return len(node.sent) == 1
	})
}

// TestTowerRecoversLeakedPreimageFromHashlockSpend covers spec §4.3 rule
// 3's second sentence: when a receiver hop's contract output is found
// already spent with no cooperative preimage on file, the tower must
// scan the spend's witness for a leaked preimage and propagate it so
// sibling hops can self-serve rather than simply forgetting the hop.
func TestTowerRecoversLeakedPreimageFromHashlockSpend(t *testing.T) {
	node := newFakeNode()
	entry, _ := buildTestHop(t, contract.RoleReceiver)
	entry.Preimage = nil

	contractHash := entry.OwnContractTx.TxHash()
	contractOutpoint := wire.OutPoint{Hash: contractHash, Index: 0}
	entry.ContractOutpoint = &contractOutpoint
	entry.ContractConfirmedHeight = 700_000
	entry.Broadcast = true

	// Contract output already spent: the adversary swept the hashlock
	// branch first, leaking the preimage this hop's hash commits to.
	preimage := contract.Preimage{9, 9, 9}
	require.Equal(t, entry.Hash, preimage.Hash())

	sweepTx := wire.NewMsgTx(contract.TxVersion)
	sweepTx.AddTxIn(wire.NewTxIn(&contractOutpoint, nil, nil))
	sweepTxHash := sweepTx.TxHash()

	node.blockTxids = []string{sweepTxHash.String()}
	node.rawTxs[sweepTxHash] = &btcjson.TxRawResult{
		Vin: []btcjson.Vin{{
			Txid: contractOutpoint.Hash.String(),
			Vout: contractOutpoint.Index,
			Witness: []string{
				hex.EncodeToString([]byte{0xAB}),
				hex.EncodeToString(preimage[:]),
				hex.EncodeToString([]byte{0x01}),
				hex.EncodeToString(entry.OwnContractTx.TxOut[0].PkScript),
			},
		}},
	}

	tower, force := newTestTower(t, node)
	require.NoError(t, tower.Watch(entry))

	force.Force <- timeNow()
	waitForCondition(t, func() bool {
		tower.mu.Lock()
		defer tower.mu.Unlock()
		_, tracked := tower.sessions[entry.SessionID]
		return !tracked
	})

	got, err := tower.store.LoadWatchEntries()
	require.NoError(t, err)
	require.Empty(t, got)
}
