package chain

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/binaryswap/coinswap/labels"
)

// UTXO describes one wallet-controlled unspent output, tagged with the
// role it plays in the coinswap so `list-utxo[-{swap|contract|fidelity}]`
// (spec §6) can filter by label without a second index.
type UTXO struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
	Label    labels.Label
}

// Balances is the response shape for `get-balances` (spec §6): the
// regular spendable pool, swap-in-flight funds, funds locked in live
// contract outputs, and fidelity-bond-locked funds, plus the derived
// spendable total.
type Balances struct {
	Regular    btcutil.Amount
	Swap       btcutil.Amount
	Contract   btcutil.Amount
	Fidelity   btcutil.Amount
	Spendable  btcutil.Amount
}

// Wallet is the external collaborator responsible for key derivation,
// UTXO tracking, and the address book (spec §1, "explicitly out of
// scope"). Every long-lived worker that needs funds or keys takes one
// of these as a constructor parameter rather than reaching a global —
// spec §9's "tests must inject both [wallet and offer book] as
// constructor parameters to avoid singletons."
type Wallet interface {
	// NewAddress returns a fresh receive address and marks it used in
	// the address book.
	NewAddress() (btcutil.Address, error)

	// DeriveKey returns a fresh keypair from the given key family, used
	// for multisig and hashlock/timelock pubkeys. The wallet, not the
	// caller, is responsible for persisting the derivation path so the
	// private key can be recovered after restart.
	DeriveKey(keyFamily int32) (*btcec.PrivateKey, error)

	// ListUnspent returns the wallet's UTXOs, optionally filtered to a
	// single label; passing labels.LabelUnknown returns all of them.
	ListUnspent(filter labels.Label) ([]UTXO, error)

	// FundInputs selects enough unspent, unreserved regular UTXOs to
	// cover amount plus fee and marks them reserved, returning the
	// selected inputs and any change output needed.
	FundInputs(amount, fee btcutil.Amount) ([]UTXO, *wire.TxOut, error)

	// LabelOutPoint reassigns a UTXO's label, used when a wallet output
	// changes role (regular -> swap -> contract, or on sweep back to
	// regular).
	LabelOutPoint(op wire.OutPoint, label labels.Label) error

	// SignInput produces the complete witness for one input of tx using
	// the key that controls prevOutPkScript, used for ordinary
	// (non-contract) spends such as funding transaction inputs, fidelity
	// bond creation, and redemption. The wallet, not the caller, knows
	// the output type behind prevOutPkScript and assembles whatever
	// witness stack that type requires.
	SignInput(tx *wire.MsgTx, inputIndex int, prevOutPkScript []byte, prevOutValue btcutil.Amount) (wire.TxWitness, error)

	// Balances computes the current balance breakdown by label.
	Balances() (Balances, error)

	// Sync forces a rescan against the current chain tip, the
	// implementation behind the `sync-wallet` RPC command.
	Sync() error
}
