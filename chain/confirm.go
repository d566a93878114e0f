package chain

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultConfirmPollInterval is how often WaitForConfirmations re-checks
// a transaction's depth when not driven by a test ticker.
const DefaultConfirmPollInterval = 10 * time.Second

// WaitForConfirmations blocks until txHash has reached the required
// confirmation depth, re-checking node on every tick (spec §5, "awaiting
// a funding tx to reach required_confirmations (polling or
// notification... cancellable)"). Closing quit aborts the wait. Pass a
// ticker.NewForce-backed ticker in tests to drive polling deterministically
// instead of waiting on wall-clock time; a nil ticker falls back to
// DefaultConfirmPollInterval.
func WaitForConfirmations(node Node, txHash *chainhash.Hash, required int32,
	tick ticker.Ticker, quit <-chan struct{}) (int32, error) {

	if tick == nil {
		tick = ticker.New(DefaultConfirmPollInterval)
	}
	tick.Resume()
	defer tick.Stop()

	for {
		raw, err := node.GetRawTransactionVerbose(txHash)
		if err != nil {
			return 0, fmt.Errorf("looking up %s on chain: %w", txHash, err)
		}
		if int32(raw.Confirmations) >= required {
			return int32(raw.Confirmations), nil
		}

		select {
		case <-tick.Ticks():
		case <-quit:
			return 0, fmt.Errorf("wait for confirmations on %s canceled", txHash)
		}
	}
}
