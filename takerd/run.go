// Package takerd assembles a standalone Taker daemon: flag/config
// parsing, log rotation, signal handling, and the Daemon that drives
// the offer book, watchtower, and local control RPC surface. Grounded
// on the overall bootstrap flow of the teacher's loopd.Run, adapted
// to this project's own config and RPC layers.
package takerd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/binaryswap/coinswap/internal/build"
	"github.com/binaryswap/coinswap/internal/config"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
)

const defaultLogFilename = "takerd.log"

var logWriter = build.NewRotatingLogWriter()

func chainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// Run parses flags and an optional config file, validates the result,
// wires up logging, and starts a Daemon, blocking until it's shut down
// by a signal or an internal error.
func Run(rpcCfg RPCConfig) error {
	cfg := config.DefaultConfig(config.AppDirBase("takerd"))

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	configFile := filepath.Join(config.CleanAndExpandPath(cfg.DataDir), "takerd.conf")
	if err := flags.IniParse(configFile, &cfg); err != nil {
		if _, ok := err.(*flags.IniError); ok {
			return err
		}
	}
	if _, err := parser.Parse(); err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Println("takerd version", build.Version())
		os.Exit(0)
	}

	if err := config.Validate(&cfg); err != nil {
		return err
	}

	params, err := chainParams(cfg.Network)
	if err != nil {
		return err
	}

	if err := logWriter.InitLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	); err != nil {
		return err
	}

	interceptor, err := build.NewInterceptor()
	if err != nil {
		return err
	}
	UseLogger(logWriter, interceptor.RequestShutdown)

	if err := build.ParseAndSetDebugLevels(cfg.DebugLevel, logWriter); err != nil {
		return err
	}

	log.Infof("Version: %v", build.Version())

	daemon := New(&cfg, params, rpcCfg)
	if err := daemon.Start(); err != nil {
		return err
	}

	select {
	case <-interceptor.ShutdownChannel():
		log.Infof("received shutdown signal")
		daemon.Stop()
		select {
		case err := <-daemon.ErrChan:
			return err
		default:
			return nil
		}

	case err := <-daemon.ErrChan:
		return err
	}
}
