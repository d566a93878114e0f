// Package takerrpc exposes the Taker daemon's local control surface
// (spec §6): the wallet/lifecycle commands shared with the Maker via
// internal/walletrpc, plus do-coinswap, the command that starts a new
// SwapSession. Grounded on decred-dcrdex's client/rpcserver package
// for the routes-map dispatch shape, and on server/admin's chi-based
// HTTP transport (internal/rpc.Server) for the wire.
package takerrpc

import (
	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/market"
	"github.com/binaryswap/coinswap/storage"
	"github.com/binaryswap/coinswap/watchtower"
	"github.com/btcsuite/btcd/chaincfg"
)

// Config bundles the collaborators a Taker's RPC handlers act on. It
// mirrors taker.Config plus the pieces the daemon's do-coinswap
// command needs beyond what a single Executor sees: the offer book to
// select a route from and the persistent store to ban a misbehaving
// bond in.
type Config struct {
	Wallet chain.Wallet
	Node   chain.Node
	Tower  *watchtower.Tower
	Store  *storage.Store
	Book   *market.OfferBook
	Params *chaincfg.Params

	// MaxConnectAttempts bounds Maker-dial retries (spec §7).
	MaxConnectAttempts int

	// MinFeeSats is copied into each session's Params and used as the
	// fee floor for route selection; the timelock discipline constants
	// come from taker.DefaultParams.
	MinFeeSats int64

	// Shutdown is invoked by the stop command.
	Shutdown func()

	// Quit, if set, cancels any in-progress confirmation wait (spec §5)
	// a coinswap is blocked on when the daemon shuts down.
	Quit <-chan struct{}
}

func (c Config) maxConnectAttempts() int {
	if c.MaxConnectAttempts <= 0 {
		return 3
	}
	return c.MaxConnectAttempts
}
