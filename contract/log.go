package contract

import "github.com/btcsuite/btclog"

// log is the package-level logger, disabled until UseLogger is called by
// a daemon's logging setup. Mirrors the per-package logger convention
// used throughout this module (see internal/build).
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger for the contract package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
