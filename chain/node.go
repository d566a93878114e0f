// Package chain defines the two external collaborators spec.md places
// out of scope but summarizes in §6: the blockchain-node RPC client and
// the wallet (key derivation, UTXO tracking, address book). Only their
// interfaces live here; a real node connection is a thin adapter over
// btcd/rpcclient, and a real wallet is whatever backs the daemon (not
// implemented — every daemon-facing package takes a chain.Wallet).
package chain

import (
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Node is the subset of blockchain-node RPC calls the coinswap engine
// needs: broadcasting transactions, checking confirmation depth, and
// following the chain tip for the watcher and confirmation pollers. It
// is satisfied by *rpcclient.Client in production and by a stub in
// tests (grounded on decred-dcrdex's server/asset/btc.btcNode, which
// narrows rpcclient.Client the same way for the same reason: testing
// without a live node).
type Node interface {
	// GetBestBlockHash returns the tip of the node's best chain.
	GetBestBlockHash() (*chainhash.Hash, error)

	// GetBlockCount returns the height of the node's best chain.
	GetBlockCount() (int64, error)

	// GetBlockHash returns the hash of the block at the given height.
	GetBlockHash(height int64) (*chainhash.Hash, error)

	// GetBlockVerbose returns the block at the given hash with its
	// transactions listed by txid only, used by the watcher to scan
	// newly connected blocks for adversarial contract-tx broadcasts.
	GetBlockVerbose(hash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error)

	// GetRawTransactionVerbose fetches a transaction's confirmation
	// count and containing block, used to satisfy proof-of-funding
	// depth checks.
	GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error)

	// GetTxOut inspects whether a specific output is still unspent,
	// the primitive the watcher uses to detect that a funding or
	// contract outpoint has moved.
	GetTxOut(txHash *chainhash.Hash, index uint32, mempool bool) (*btcjson.GetTxOutResult, error)

	// SendRawTransaction broadcasts a fully signed transaction.
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)

	// EstimateSmartFee asks the node for a fee-rate estimate targeting
	// confirmation within the given number of blocks, in sat/kvB.
	EstimateSmartFee(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error)
}
