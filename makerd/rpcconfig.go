package makerd

import (
	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/market"
	"github.com/btcsuite/btcd/btcec/v2"
)

// RPCConfig holds the pieces a caller embedding this daemon must
// supply directly rather than through flags: the wallet backend (spec
// §1 places it out of scope, same as takerd.RPCConfig), and this
// Maker's advertised Offer and the FidelityBond backing it. Bond
// creation is a wallet operation this module does not implement
// (spec §1 lists the wallet's UTXO/key management out of scope), so
// whatever embeds this daemon is expected to have already locked the
// bond UTXO and constructed the matching Offer before calling Start.
type RPCConfig struct {
	Wallet chain.Wallet

	Offer       market.Offer
	Bond        market.Bond
	BondPrivKey *btcec.PrivateKey
}
