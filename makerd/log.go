package makerd

import (
	"github.com/binaryswap/coinswap/internal/build"
	"github.com/binaryswap/coinswap/maker"
	"github.com/binaryswap/coinswap/market"
	"github.com/binaryswap/coinswap/watchtower"
	"github.com/btcsuite/btclog"
)

const subsystem = "MKRD"

var log btclog.Logger = btclog.Disabled

// UseLogger installs a logger for this package and every subsystem it
// composes on startup.
func UseLogger(writer *build.RotatingLogWriter, shutdown func()) {
	log = writer.GenSubLogger(subsystem, shutdown)

	maker.UseLogger(writer.GenSubLogger("MAKR", shutdown))
	market.UseLogger(writer.GenSubLogger("MRKT", shutdown))
	watchtower.UseLogger(writer.GenSubLogger("WTWR", shutdown))
}
