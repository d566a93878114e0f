// Command maker-cli is the CLI controller for makerd's local control
// RPC (spec §6). Same shape as taker-cli, plus the fidelity-bond and
// daemon-introspection commands unique to running as a Maker.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/binaryswap/coinswap/internal/config"
	"github.com/binaryswap/coinswap/internal/rpc"
	"github.com/binaryswap/coinswap/makerrpc"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "maker-cli"
	app.Usage = "control client for makerd"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:9750",
			Usage: "host:port makerd's local control rpc listens on",
		},
		cli.StringFlag{
			Name:  "datadir, d",
			Usage: "makerd data directory (to locate its auth cookie)",
		},
		cli.StringFlag{
			Name:  "network",
			Value: "mainnet",
			Usage: "network makerd is running on",
		},
	}

	app.Commands = []cli.Command{
		pingCommand,
		balancesCommand,
		listUTXOCommand,
		newAddressCommand,
		sendToAddressCommand,
		syncWalletCommand,
		redeemFidelityCommand,
		showFidelityCommand,
		showDataDirCommand,
		showOnionAddressCommand,
		stopCommand,
	}

	if err := app.Run(os.Args); err != nil {
		cli.HandleExitCoder(err)
	}
}

func clientFromCtx(ctx *cli.Context) (*rpc.Client, error) {
	dataDir := ctx.GlobalString("datadir")
	if dataDir == "" {
		dataDir = filepath.Join(config.AppDirBase("makerd"), ctx.GlobalString("network"))
	}
	cookiePath := filepath.Join(dataDir, makerrpc.CookieFilename)
	return rpc.NewClient(ctx.GlobalString("rpcserver"), cookiePath)
}

func call(ctx *cli.Context, route string, args ...string) error {
	client, err := clientFromCtx(ctx)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("connecting to makerd: %v", err), 2)
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
	Usage: "check that makerd is responding",
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

var redeemFidelityCommand = cli.Command{
	Name:  "redeem-fidelity",
	Usage: "sweep a matured fidelity bond back to the regular pool",
	Action: func(ctx *cli.Context) error {
		return call(ctx, "redeem-fidelity")
	},
}

var showFidelityCommand = cli.Command{
	Name:  "show-fidelity",
	Usage: "show this maker's fidelity bond and its current value",
	Action: func(ctx *cli.Context) error {
		return call(ctx, "show-fidelity")
	},
}

var showDataDirCommand = cli.Command{
	Name:  "show-data-dir",
	Usage: "show makerd's data directory",
	Action: func(ctx *cli.Context) error {
		return call(ctx, "show-data-dir")
	},
}

var showOnionAddressCommand = cli.Command{
	Name:  "show-onion-address",
	Usage: "show the onion address makerd advertises to takers",
	Action: func(ctx *cli.Context) error {
		return call(ctx, "show-onion-address")
	},
}

var stopCommand = cli.Command{
	Name:  "stop",
	Usage: "gracefully shut down makerd",
	Action: func(ctx *cli.Context) error {
		return call(ctx, "stop")
	},
}
