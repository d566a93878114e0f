package taker

import (
	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/watchtower"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// DefaultTimelockGap is the safety margin (in blocks) used between two
// adjacent hops' timelocks when a caller doesn't override it (spec §4.3,
// "gap large enough to safely broadcast and confirm a transaction").
const DefaultTimelockGap = 144

// DefaultRequiredConfirmations is how many confirmations a funding
// transaction must reach before its proof of funding is accepted (spec
// §4.1 Phase B).
const DefaultRequiredConfirmations = 1

// DefaultBaseTimelock is the final hop's timelock in blocks, from which
// every other hop's timelock is derived outward by DefaultTimelockGap
// per hop (spec §4.1, "shortest timelock at the Taker-adjacent end").
const DefaultBaseTimelock = 144

// Config contains everything a Taker daemon needs to drive coinswap
// sessions: the wallet and node collaborators, the enforcement
// watchtower, and the chain parameters every contract script and
// address is built against.
type Config struct {
	Wallet chain.Wallet
	Node   chain.Node
	Tower  *watchtower.Tower
	Params *chaincfg.Params

	// MaxConnectAttempts bounds how many times a Maker dial is retried
	// with backoff before the Maker is treated as unresponsive (spec §7).
	MaxConnectAttempts int
}

// DefaultParams returns the swap parameters used when a caller doesn't
// override them, for the given send amount and hop count.
func DefaultParams(sendAmount btcutil.Amount, numMakers int) Params {
	return Params{
		SendAmount:            sendAmount,
		NumMakers:             numMakers,
		TxCountPerHop:         1,
		RequiredConfirmations: DefaultRequiredConfirmations,
		BaseTimelock:          DefaultBaseTimelock,
		TimelockGap:           DefaultTimelockGap,
	}
}
