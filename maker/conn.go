package maker

import (
	"fmt"
	"net"
	"time"

	"github.com/binaryswap/coinswap/wire"
	"github.com/lightningnetwork/lnd/clock"
)

// DefaultRequestTimeout bounds how long this Maker waits for the next
// message on an established connection before treating the Taker as
// unresponsive (spec §4.1 failure taxonomy, "maker-unresponsive" cuts
// both ways).
const DefaultRequestTimeout = 30 * time.Second

// Conn is one accepted Taker connection, framed identically to the
// Taker's own dial-side connection but answering the hello handshake
// rather than initiating it.
type Conn struct {
	nc      net.Conn
	timeout time.Duration
	clock   clock.Clock
}

func newConn(nc net.Conn) *Conn {
	return &Conn{
		nc:      nc,
		timeout: DefaultRequestTimeout,
		clock:   clock.NewDefaultClock(),
	}
}

func (c *Conn) handshake() error {
	msg, err := c.Recv()
	if err != nil {
		return fmt.Errorf("recv hello: %w", err)
	}
	hello, ok := msg.(*wire.TakerHello)
	if !ok {
		return fmt.Errorf("expected taker hello, got %T", msg)
	}
	if hello.Version != wire.ProtocolVersion {
		return fmt.Errorf("protocol version mismatch: taker %d, maker %d",
			hello.Version, wire.ProtocolVersion)
	}
	return c.Send(&wire.MakerHello{Version: wire.ProtocolVersion})
}

// Send frames and writes msg, honoring the connection's idle timeout.
func (c *Conn) Send(msg wire.Message) error {
	if c.timeout > 0 {
		c.nc.SetWriteDeadline(c.clock.Now().Add(c.timeout))
	}
	return wire.Encode(c.nc, msg)
}

// Recv blocks for one framed message, honoring the connection's idle
// timeout.
func (c *Conn) Recv() (wire.Message, error) {
	if c.timeout > 0 {
		c.nc.SetReadDeadline(c.clock.Now().Add(c.timeout))
	}
	return wire.Decode(c.nc)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}
