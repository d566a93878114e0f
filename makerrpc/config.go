// Package makerrpc exposes the Maker daemon's local control surface
// (spec §6): the wallet/lifecycle commands shared with the Taker via
// internal/walletrpc, plus the fidelity-bond and daemon-introspection
// commands unique to running as a Maker.
package makerrpc

import (
	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/market"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
)

// Config bundles the collaborators a Maker's RPC handlers act on.
type Config struct {
	Wallet chain.Wallet
	Node   chain.Node
	Params *chaincfg.Params

	Offer       market.Offer
	Bond        market.Bond
	BondPrivKey *btcec.PrivateKey

	DataDir string

	// RedeemFee is the miner fee subtracted from the bond value when
	// redeem-fidelity sweeps a matured bond.
	RedeemFee int64

	// Shutdown is invoked by the stop command.
	Shutdown func()
}
