package takerd

import (
	"github.com/binaryswap/coinswap/chain"
)

// RPCConfig holds the piece a caller embedding this daemon must supply
// directly rather than through flags, mirroring the teacher's
// loopd.RPCConfig override point (LndConn) for the same reason: this
// module ships no concrete chain.Wallet (spec §1 places the wallet
// explicitly out of scope), so a bare cmd/takerd binary cannot start
// on its own — whatever embeds this daemon must construct a Wallet
// and hand it in here.
type RPCConfig struct {
	// Wallet is the concrete key-derivation/UTXO-tracking backend this
	// daemon drives. Start returns an error immediately if this is nil.
	Wallet chain.Wallet
}
