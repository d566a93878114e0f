package maker

import (
	"time"

	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/market"
	"github.com/binaryswap/coinswap/storage"
	"github.com/binaryswap/coinswap/watchtower"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultIdleTimeout is the deadline applied to each read and each
// write on a served connection; it bounds how long a single message may
// take, not the length of a whole swap round trip (spec §7, "maker connect timeout -> ... treat offer as stale").
const DefaultIdleTimeout = 5 * time.Minute

// DefaultMinConfirmations is how many confirmations an upstream
// funding transaction must reach before this Maker accepts its proof
// of funding (spec §4.1 Phase B), matching the Taker's own default.
const DefaultMinConfirmations = 1

// Config contains everything a Maker daemon needs to serve incoming
// Taker connections: the wallet and node collaborators, the persistent
// offer and fidelity bond this Maker advertises, and the enforcement
// watchtower every funded hop is registered with.
type Config struct {
	Wallet chain.Wallet
	Node   chain.Node
	Store  *storage.Store
	Tower  *watchtower.Tower
	Params *chaincfg.Params

	Offer       market.Offer
	Bond        market.Bond
	BondPrivKey *btcec.PrivateKey

	IdleTimeout      time.Duration
	MinConfirmations int32

	// Quit, if set, cancels any in-progress confirmation wait (spec §5)
	// a connection's handler is blocked on. Server overwrites this with
	// its own quit channel for every connection it serves.
	Quit <-chan struct{}

	// Tick drives confirmation-wait polling. Nil (the default) falls
	// back to a real-time ticker; tests inject a ticker.NewForce to
	// drive the wait without sleeping.
	Tick ticker.Ticker

	// Clock stands in for wall-clock reads (connection deadlines, watch
	// entry timestamps) so tests can substitute clock.NewTestClock.
	// Nil falls back to clock.NewDefaultClock.
	Clock clock.Clock
}

func (c Config) clockOrDefault() clock.Clock {
	if c.Clock == nil {
		return clock.NewDefaultClock()
	}
	return c.Clock
}

func (c Config) idleTimeout() time.Duration {
	if c.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return c.IdleTimeout
}

func (c Config) minConfirmations() int32 {
	if c.MinConfirmations <= 0 {
		return DefaultMinConfirmations
	}
	return c.MinConfirmations
}
