package makerd

import (
	"github.com/binaryswap/coinswap/internal/config"
)

const defaultSwapPort = 9751

// SwapConfig holds the Maker-specific flag group: where this daemon
// accepts incoming Taker connections. Tor hidden-service setup is out
// of scope (spec §1); an operator wanting onion reachability points
// their own hidden service at this plain listener.
type SwapConfig struct {
	SwapPort int `long:"swapport" description:"port this maker accepts incoming Taker connections on"`
}

// Config is the shared daemon flag set (internal/config) plus the
// Maker's swap-listener group.
type Config struct {
	config.Config

	Swap SwapConfig `group:"swap" namespace:"swap"`
}

// DefaultConfig returns baseline values before flag parsing overrides
// them.
func DefaultConfig(dirBase string) Config {
	return Config{
		Config: config.DefaultConfig(dirBase),
		Swap:   SwapConfig{SwapPort: defaultSwapPort},
	}
}
