// Package config holds the flag-driven configuration shared by both
// daemon binaries. Mirrors loopd's Config: a flat jessevdk/go-flags
// struct, a DefaultConfig constructor, and a Validate that expands
// paths and namespaces the data/log directories by network.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	defaultNetwork    = "mainnet"
	defaultLogLevel   = "info"
	defaultLogDirname = "logs"

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultRPCPort = 9750
)

// AppDirBase is the platform-appropriate base data directory shared by
// both binaries, namespaced further by daemon name and network.
func AppDirBase(daemonName string) string {
	return btcutil.AppDataDir(daemonName, false)
}

// NodeConfig describes how to reach the backing chain.Node collaborator.
type NodeConfig struct {
	RPCHost string `long:"rpchost" short:"r" description:"host:port of the backing node's RPC listener"`
	RPCUser string `long:"rpcuser" description:"username for node RPC authentication"`
	RPCPass string `long:"rpcpass" short:"a" description:"password for node RPC authentication"`
}

// Config is the flag set common to takerd and makerd. Each daemon
// embeds this plus its own role-specific flag group.
type Config struct {
	ShowVersion bool   `long:"version" description:"display version information and exit"`
	Network     string `long:"network" description:"network to run on" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"signet"`

	DataDir    string `long:"datadir" short:"d" description:"directory for wallet, offer book, ban list, and watcher state"`
	WalletName string `long:"wallet" short:"w" description:"name of the wallet to load from datadir"`
	RPCPort    int    `long:"rpcport" short:"p" description:"port the local control RPC listens on"`

	LogDir         string `long:"logdir" description:"directory to write the debug log to"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"maximum rotated logfiles to keep (0 disables rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"maximum logfile size in MB before rotation"`
	DebugLevel     string `long:"debuglevel" short:"v" description:"logging level for all subsystems {trace, debug, info, warn, error, critical}, or <subsystem>=<level>,... pairs"`

	Node NodeConfig `group:"node" namespace:"node"`
}

// DefaultConfig returns baseline values before flag parsing overrides
// them. dirBase should be the daemon-specific app directory (from
// AppDirBase), kept separate per daemon since a Taker and a Maker
// running on the same host must not share a wallet or offer book.
func DefaultConfig(dirBase string) Config {
	return Config{
		Network:        defaultNetwork,
		DataDir:        dirBase,
		RPCPort:        defaultRPCPort,
		LogDir:         filepath.Join(dirBase, defaultLogDirname),
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		DebugLevel:     defaultLogLevel,
	}
}

// Validate expands and namespaces DataDir/LogDir by network and
// creates them if missing.
func Validate(cfg *Config) error {
	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.Network)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.Network)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	if cfg.Node.RPCHost == "" {
		return fmt.Errorf("node.rpchost must be set")
	}

	return nil
}

// CleanAndExpandPath expands a leading ~ to the user's home directory
// and any environment variables, then cleans the result. Reimplemented
// locally rather than importing lnd/lncfg for this one helper.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}
