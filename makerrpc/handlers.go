package makerrpc

import (
	"github.com/binaryswap/coinswap/internal/rpc"
	"github.com/binaryswap/coinswap/internal/walletrpc"
	"github.com/binaryswap/coinswap/market"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// fidelityView is the JSON shape returned by show-fidelity.
type fidelityView struct {
	Outpoint     string  `json:"outpoint"`
	LockedAmount int64   `json:"locked_amount_sats"`
	LockUntil    int32   `json:"lock_until_height"`
	Value        float64 `json:"value"`
	Expired      bool    `json:"expired"`
}

// Routes builds the Maker's full command table: the shared
// wallet/lifecycle set plus fidelity-bond and introspection commands
// unique to a Maker (spec §6's command list minus do-coinswap, which
// only a Taker issues).
func Routes(cfg Config) rpc.Routes {
	routes := walletrpc.Routes(cfg.Wallet, cfg.Node, cfg.Params, cfg.Shutdown)
	routes["redeem-fidelity"] = handleRedeemFidelity(cfg)
	routes["show-fidelity"] = handleShowFidelity(cfg)
	routes["show-data-dir"] = handleShowDataDir(cfg)
	routes["show-onion-address"] = handleShowOnionAddress(cfg)
	return routes
}

func handleShowOnionAddress(cfg Config) rpc.HandlerFunc {
	return func(_ *rpc.RawParams) *rpc.ResponsePayload {
		return rpc.CreateResponse(cfg.Offer.OnionAddress)
	}
}

func handleShowDataDir(cfg Config) rpc.HandlerFunc {
	return func(_ *rpc.RawParams) *rpc.ResponsePayload {
		return rpc.CreateResponse(cfg.DataDir)
	}
}

func handleShowFidelity(cfg Config) rpc.HandlerFunc {
	return func(_ *rpc.RawParams) *rpc.ResponsePayload {
		height, err := cfg.Node.GetBlockCount()
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrChain, "block count: %v", err))
		}
		bond := cfg.Bond
		return rpc.CreateResponse(fidelityView{
			Outpoint:     bond.Outpoint.String(),
			LockedAmount: int64(bond.LockedAmount),
			LockUntil:    bond.LockUntil,
			Value:        bond.Value(int32(height)),
			Expired:      bond.Expired(int32(height)),
		})
	}
}

// handleRedeemFidelity sweeps a matured fidelity bond back to the
// Maker's own wallet (spec §3, FidelityBond lifecycle: "ends by
// timelock expiry followed by redemption").
func handleRedeemFidelity(cfg Config) rpc.HandlerFunc {
	return func(_ *rpc.RawParams) *rpc.ResponsePayload {
		height, err := cfg.Node.GetBlockCount()
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrChain, "block count: %v", err))
		}
		if !cfg.Bond.Expired(int32(height)) {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrWallet,
				"bond matures at height %d, chain tip is %d", cfg.Bond.LockUntil, height))
		}

		redeemScript, err := market.RedeemScript(cfg.Bond.LockUntil, cfg.Bond.BondPubKey)
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrInternal, "redeem script: %v", err))
		}

		destAddr, err := cfg.Wallet.NewAddress()
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrWallet, "new address: %v", err))
		}
		destPkScript, err := txscript.PayToAddrScript(destAddr)
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrInternal, "dest script: %v", err))
		}

		tx, err := market.RedeemTx(
			cfg.Bond.Outpoint, cfg.Bond.LockedAmount, cfg.Bond.LockUntil,
			destPkScript, redeemFee(cfg),
		)
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrInternal, "redeem tx: %v", err))
		}

		witness, err := market.SignRedeemTx(tx, redeemScript, cfg.Bond.LockedAmount, cfg.BondPrivKey)
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrInternal, "signing redeem tx: %v", err))
		}
		tx.TxIn[0].Witness = witness

		txHash, err := cfg.Node.SendRawTransaction(tx, false)
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrChain, "broadcasting: %v", err))
		}
		return rpc.CreateResponse(txHash.String())
	}
}

func redeemFee(cfg Config) btcutil.Amount {
	if cfg.RedeemFee <= 0 {
		return walletrpc.DefaultSendFee
	}
	return btcutil.Amount(cfg.RedeemFee)
}
