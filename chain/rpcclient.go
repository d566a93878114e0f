package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/rpcclient"
)

// RPCConfig carries the connection parameters for a node's JSON-RPC
// endpoint, filled directly from the daemon's `-r`/`-a` flags (spec §6).
type RPCConfig struct {
	Host string
	User string
	Pass string

	// DisableTLS matches most self-hosted bitcoind setups reached over
	// an already-encrypted tunnel or localhost.
	DisableTLS bool
}

// DialNode opens an RPC connection to a Bitcoin node and returns it as
// a Node. The returned client polls rather than subscribes: it embeds
// no notification handlers, matching how the coinswap watcher and
// confirmation pollers drive it (lnd/ticker-scheduled calls, not
// push-based callbacks).
func DialNode(cfg RPCConfig) (*rpcclient.Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("dial node: %w", err)
	}
	return client, nil
}

// static assertion that *rpcclient.Client satisfies Node.
var _ Node = (*rpcclient.Client)(nil)
