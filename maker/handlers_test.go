package maker

import (
	"net"
	"testing"
	"time"

	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/labels"
	"github.com/binaryswap/coinswap/market"
	"github.com/binaryswap/coinswap/wire"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

type fakeWallet struct {
	labeled map[btcwire.OutPoint]labels.Label
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{labeled: make(map[btcwire.OutPoint]labels.Label)}
}

func (w *fakeWallet) NewAddress() (btcutil.Address, error) { return nil, nil }

func (w *fakeWallet) DeriveKey(int32) (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

func (w *fakeWallet) ListUnspent(labels.Label) ([]chain.UTXO, error) { return nil, nil }

func (w *fakeWallet) FundInputs(amount, fee btcutil.Amount) ([]chain.UTXO, *btcwire.TxOut, error) {
	return []chain.UTXO{{
		OutPoint: btcwire.OutPoint{Index: 0},
		Value:    amount + fee,
		PkScript: []byte{0x51},
	}}, nil, nil
}

func (w *fakeWallet) LabelOutPoint(op btcwire.OutPoint, label labels.Label) error {
	w.labeled[op] = label
	return nil
}

func (w *fakeWallet) SignInput(*btcwire.MsgTx, int, []byte, btcutil.Amount) (btcwire.TxWitness, error) {
	return btcwire.TxWitness{{0x01}}, nil
}

func (w *fakeWallet) Balances() (chain.Balances, error) { return chain.Balances{}, nil }
func (w *fakeWallet) Sync() error                        { return nil }

type fakeNode struct {
	confirmations uint64

	// confirmationsSeq, if set, overrides confirmations: each call to
	// GetRawTransactionVerbose advances through it (sticking on the
	// last entry), letting a test simulate confirmation depth growing
	// across poll iterations instead of being satisfied on the first
	// check.
	confirmationsSeq []uint64
	rawCalls         int

	sent []*btcwire.MsgTx
}

func (n *fakeNode) GetBestBlockHash() (*chainhash.Hash, error) { return &chainhash.Hash{}, nil }
func (n *fakeNode) GetBlockCount() (int64, error)               { return 700_000, nil }
func (n *fakeNode) GetBlockHash(int64) (*chainhash.Hash, error) { return &chainhash.Hash{}, nil }

func (n *fakeNode) GetBlockVerbose(*chainhash.Hash) (*btcjson.GetBlockVerboseResult, error) {
	return &btcjson.GetBlockVerboseResult{Height: 700_000}, nil
}

func (n *fakeNode) GetRawTransactionVerbose(*chainhash.Hash) (*btcjson.TxRawResult, error) {
	if len(n.confirmationsSeq) == 0 {
		return &btcjson.TxRawResult{Confirmations: n.confirmations}, nil
	}
	idx := n.rawCalls
	if idx >= len(n.confirmationsSeq) {
		idx = len(n.confirmationsSeq) - 1
	}
	n.rawCalls++
	return &btcjson.TxRawResult{Confirmations: n.confirmationsSeq[idx]}, nil
}

func (n *fakeNode) GetTxOut(*chainhash.Hash, uint32, bool) (*btcjson.GetTxOutResult, error) {
	return nil, nil
}

func (n *fakeNode) SendRawTransaction(tx *btcwire.MsgTx, allowHighFees bool) (*chainhash.Hash, error) {
	n.sent = append(n.sent, tx)
	hash := tx.TxHash()
	return &hash, nil
}

func (n *fakeNode) EstimateSmartFee(int64, *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error) {
	rate := 1.0
	return &btcjson.EstimateSmartFeeResult{FeeRate: &rate}, nil
}

func testConfig() Config {
	return Config{
		Wallet: newFakeWallet(),
		Node:   &fakeNode{confirmations: 6},
		Params: &chaincfg.RegressionNetParams,
		Offer: market.Offer{
			MinSize:     10_000,
			MaxSize:     1_000_000,
			MinLocktime: 100,
			Fees:        market.FeeModel{AbsoluteFeeSats: 500},
		},
	}
}

// pipedHandler returns a Handler wired to one end of an in-memory
// connection, with the other end available for a test to drive.
func pipedHandler(t *testing.T, cfg Config) (*Handler, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	conn := newConn(a)
	t.Cleanup(func() { a.Close(); b.Close() })
	return newHandler(cfg, conn), b
}

func TestSetHashDetectsMismatch(t *testing.T) {
	var cs connState

	var h1 contract.Hash
	h1[0] = 0x01
	require.NoError(t, cs.setHash(h1))
	require.NoError(t, cs.setHash(h1))

	var h2 contract.Hash
	h2[0] = 0x02
	require.ErrorIs(t, cs.setHash(h2), errHashMismatch)
}

func TestHandleReqSwapPubKeyDerivesSenderKey(t *testing.T) {
	h, peer := pipedHandler(t, testConfig())

	var hash contract.Hash
	hash[0] = 0xAA

	go func() {
		err := h.handleReqSwapPubKey(&wire.ReqSwapPubKey{
			Hash: hash,
			Role: contract.RoleSender,
		})
		require.NoError(t, err)
	}()

	msg, err := swwireDecode(t, peer)
	require.NoError(t, err)
	resp, ok := msg.(*wire.RespSwapPubKey)
	require.True(t, ok)
	require.Nil(t, resp.Tweak)
	require.NotNil(t, resp.PubKey)
	require.True(t, h.cs.sender.basePubKey.IsEqual(resp.PubKey))
	require.True(t, h.cs.sender.timelockPubKey.IsEqual(resp.PubKey))
}

func TestHandleReqSwapPubKeyDerivesReceiverKeyWithTweak(t *testing.T) {
	h, peer := pipedHandler(t, testConfig())

	var hash contract.Hash
	hash[0] = 0xBB

	go func() {
		err := h.handleReqSwapPubKey(&wire.ReqSwapPubKey{
			Hash: hash,
			Role: contract.RoleReceiver,
		})
		require.NoError(t, err)
	}()

	msg, err := swwireDecode(t, peer)
	require.NoError(t, err)
	resp, ok := msg.(*wire.RespSwapPubKey)
	require.True(t, ok)
	require.NotNil(t, resp.Tweak)
	require.Equal(t, h.cs.receiver.tweak, *resp.Tweak)

	expected := contract.TweakPubKey(resp.PubKey, *resp.Tweak)
	require.True(t, h.cs.receiver.basePubKey.IsEqual(resp.PubKey))
	require.True(t, h.cs.receiver.hashlockPubKey.IsEqual(expected))
}

func TestVerifyOutgoingFeeMatchesOwnFeeSchedule(t *testing.T) {
	h, _ := pipedHandler(t, testConfig())
	h.cs.receiver.amount = 100_000
	h.cs.receiver.timelock = 100

	fee := h.cfg.Offer.Fees.Cost(h.cs.receiver.amount, h.cs.receiver.timelock)
	h.cs.sender.amount = h.cs.receiver.amount - fee

	require.NoError(t, h.verifyOutgoingFee())

	h.cs.sender.amount--
	require.Error(t, h.verifyOutgoingFee())
}

func TestHandleRespHashPreimageRejectsWrongHash(t *testing.T) {
	h, _ := pipedHandler(t, testConfig())

	var hash contract.Hash
	hash[0] = 0xCC
	h.cs.hash = hash

	var preimage contract.Preimage
	preimage[0] = 0x01

	err := h.handleRespHashPreimage(&wire.RespHashPreimage{Preimage: preimage})
	require.Error(t, err)
}

func TestHandleRespHashPreimageAcceptsMatchingHash(t *testing.T) {
	h, peer := pipedHandler(t, testConfig())

	var preimage contract.Preimage
	preimage[0] = 0x42
	h.cs.hash = preimage.Hash()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	h.cs.receiver.basePrivKey = priv

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.handleRespHashPreimage(&wire.RespHashPreimage{Preimage: preimage})
	}()

	msg, err := swwireDecode(t, peer)
	require.NoError(t, err)
	resp, ok := msg.(*wire.RespPrivKeyHandover)
	require.True(t, ok)
	require.Equal(t, priv.Serialize(), resp.PrivKeys[0])

	require.NoError(t, <-errCh)
}

func TestHandleRespPrivKeyHandoverEmptyTriggersSenderKeyReply(t *testing.T) {
	h, peer := pipedHandler(t, testConfig())

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	h.cs.sender.basePrivKey = priv

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.handleRespPrivKeyHandover(&wire.RespPrivKeyHandover{})
	}()

	msg, err := swwireDecode(t, peer)
	require.NoError(t, err)
	resp, ok := msg.(*wire.RespPrivKeyHandover)
	require.True(t, ok)
	require.Equal(t, priv.Serialize(), resp.PrivKeys[0])

	require.NoError(t, <-errCh)
}

func TestHandleRespPrivKeyHandoverNonEmptyStoresCounterpartKey(t *testing.T) {
	h, _ := pipedHandler(t, testConfig())

	key := []byte{0x01, 0x02, 0x03}
	require.NoError(t, h.handleRespPrivKeyHandover(&wire.RespPrivKeyHandover{
		PrivKeys: [][]byte{key},
	}))
	require.Equal(t, key, h.cs.receiver.counterpartPrivKey)
}

func swwireDecode(t *testing.T, nc net.Conn) (wire.Message, error) {
	t.Helper()
	return wire.Decode(nc)
}

// TestBroadcastOutgoingFundingWaitsForConfirmations exercises the
// sender-side confirmation-wait fix directly: broadcasting must not
// compose a proof of funding until the node independently reports the
// configured confirmation depth, even though SendRawTransaction always
// succeeds the instant it's called.
func TestBroadcastOutgoingFundingWaitsForConfirmations(t *testing.T) {
	force := ticker.NewForce(time.Second)
	node := &fakeNode{confirmationsSeq: []uint64{0, 0, 1}}

	cfg := testConfig()
	cfg.Node = node
	cfg.Tick = force

	h, peer := pipedHandler(t, cfg)

	senderPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiverPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	funding, err := contract.NewFunding(senderPriv.PubKey(), receiverPriv.PubKey(), 50_000, cfg.Params)
	require.NoError(t, err)

	fundingTx := btcwire.NewMsgTx(contract.TxVersion)
	fundingTx.AddTxOut(btcwire.NewTxOut(50_000, funding.PkScript()))

	h.cs.sender.basePrivKey = senderPriv
	h.cs.sender.funding = funding
	h.cs.sender.fundingTx = fundingTx

	errCh := make(chan error, 1)
	go func() { errCh <- h.broadcastOutgoingFunding() }()

	// The first two polls see the funding tx below minConfirmations;
	// only the third (after the second forced tick) is satisfied.
	force.Force <- time.Unix(1_700_000_000, 0)
	force.Force <- time.Unix(1_700_000_001, 0)

	msg, err := swwireDecode(t, peer)
	require.NoError(t, err)
	proof, ok := msg.(*wire.RespProofOfFunding)
	require.True(t, ok)
	require.Equal(t, []int32{1}, proof.Confirmations)

	require.NoError(t, <-errCh)
	require.Len(t, node.sent, 1)
}
