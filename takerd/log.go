package takerd

import (
	"github.com/binaryswap/coinswap/internal/build"
	"github.com/binaryswap/coinswap/market"
	"github.com/binaryswap/coinswap/taker"
	"github.com/binaryswap/coinswap/watchtower"
	"github.com/btcsuite/btclog"
)

const subsystem = "TKRD"

var log btclog.Logger = btclog.Disabled

// UseLogger installs a logger for this package and every subsystem it
// composes on startup, matching the teacher's per-subsystem tagging so
// -v subsystem=level flags select individual packages.
func UseLogger(writer *build.RotatingLogWriter, shutdown func()) {
	log = writer.GenSubLogger(subsystem, shutdown)

	taker.UseLogger(writer.GenSubLogger("TAKR", shutdown))
	market.UseLogger(writer.GenSubLogger("MRKT", shutdown))
	watchtower.UseLogger(writer.GenSubLogger("WTWR", shutdown))
}
