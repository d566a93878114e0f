// Command taker-cli is the CLI controller for takerd's local control
// RPC (spec §6, "RPC surface (local, between the daemon and its CLI
// controller)"). Grounded on the teacher's cmd/loop's urfave/cli
// command-per-file shape, rewired onto internal/rpc.Client instead of
// a generated gRPC stub since this daemon's control surface is a
// small JSON-over-HTTP one (internal/rpc.Server), not gRPC.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/binaryswap/coinswap/internal/config"
	"github.com/binaryswap/coinswap/internal/rpc"
	"github.com/binaryswap/coinswap/takerrpc"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "taker-cli"
	app.Usage = "control client for takerd"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:9750",
			Usage: "host:port takerd's local control rpc listens on",
		},
		cli.StringFlag{
			Name:  "datadir, d",
			Usage: "takerd data directory (to locate its auth cookie)",
		},
		cli.StringFlag{
			Name:  "network",
			Value: "mainnet",
			Usage: "network takerd is running on",
		},
	}

	app.Commands = []cli.Command{
		pingCommand,
		balancesCommand,
		listUTXOCommand,
		newAddressCommand,
		sendToAddressCommand,
		syncWalletCommand,
		doCoinswapCommand,
		stopCommand,
	}

	if err := app.Run(os.Args); err != nil {
		cli.HandleExitCoder(err)
	}
}

func clientFromCtx(ctx *cli.Context) (*rpc.Client, error) {
	dataDir := ctx.GlobalString("datadir")
	if dataDir == "" {
		dataDir = filepath.Join(config.AppDirBase("takerd"), ctx.GlobalString("network"))
	}
	cookiePath := filepath.Join(dataDir, takerrpc.CookieFilename)
	return rpc.NewClient(ctx.GlobalString("rpcserver"), cookiePath)
}

func call(ctx *cli.Context, route string, args ...string) error {
	client, err := clientFromCtx(ctx)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("connecting to takerd: %v", err), 2)
	}
	resp, err := client.Call(route, args)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("%v", err), 2)
	}
	fmt.Println(string(resp.Result))
	return nil
}

var pingCommand = cli.Command{
	Name:  "ping",
	Usage: "check that takerd is responding",
	Action: func(ctx *cli.Context) error {
		return call(ctx, "ping")
	},
}

var balancesCommand = cli.Command{
	Name:  "get-balances",
	Usage: "show regular, swap, contract, fidelity, and spendable balances",
	Action: func(ctx *cli.Context) error {
		return call(ctx, "get-balances")
	},
}

var listUTXOCommand = cli.Command{
	Name:      "list-utxo",
	Usage:     "list UTXOs, optionally filtered by label",
	ArgsUsage: "[swap|contract|fidelity]",
	Action: func(ctx *cli.Context) error {
		route := "list-utxo"
		switch ctx.NArg() {
		case 0:
		case 1:
			switch ctx.Args().First() {
			case "swap", "contract", "fidelity":
				route = "list-utxo-" + ctx.Args().First()
			default:
				return cli.NewExitError("filter must be one of swap, contract, fidelity", 1)
			}
		default:
			return cli.NewExitError("list-utxo takes at most one argument", 1)
		}
		return call(ctx, route)
	},
}

var newAddressCommand = cli.Command{
	Name:  "get-new-address",
	Usage: "generate a new regular-pool wallet address",
	Action: func(ctx *cli.Context) error {
		return call(ctx, "get-new-address")
	},
}

var sendToAddressCommand = cli.Command{
	Name:      "send-to-address",
	Usage:     "send an on-chain payment from the regular pool",
	ArgsUsage: "addr amount_sats fee_sats",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 3 {
			return cli.NewExitError("send-to-address requires addr, amount_sats, fee_sats", 1)
		}
		return call(ctx, "send-to-address", ctx.Args()...)
	},
}

var syncWalletCommand = cli.Command{
	Name:  "sync-wallet",
	Usage: "resync the wallet against the backing node",
	Action: func(ctx *cli.Context) error {
		return call(ctx, "sync-wallet")
	},
}

var doCoinswapCommand = cli.Command{
	Name:      "do-coinswap",
	Usage:     "run a coinswap over a freshly selected route",
	ArgsUsage: "send_amount_sats hop_count",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.NewExitError("do-coinswap requires send_amount_sats and hop_count", 1)
		}
		return call(ctx, "do-coinswap", ctx.Args()...)
	},
}

var stopCommand = cli.Command{
	Name:  "stop",
	Usage: "gracefully shut down takerd",
	Action: func(ctx *cli.Context) error {
		return call(ctx, "stop")
	},
}
