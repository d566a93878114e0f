package taker

import (
	"fmt"
	"net"
	"time"

	"github.com/binaryswap/coinswap/wire"
	"github.com/lightningnetwork/lnd/clock"
)

// DefaultRequestTimeout bounds how long the Taker waits for a Maker to
// answer one request before treating it as unresponsive (spec §4.1
// failure taxonomy, "maker-unresponsive").
const DefaultRequestTimeout = 30 * time.Second

// Conn is a single Taker<->Maker connection speaking the length-prefixed
// wire protocol. The Taker dials every Maker in its route directly and
// relays Phase C messages between adjacent hops itself; Makers never
// talk to each other (spec §9, "the Taker routes all messages").
type Conn struct {
	OnionAddress string

	nc      net.Conn
	timeout time.Duration
	clock   clock.Clock
}

// Dial connects to a Maker's advertised onion address and performs the
// version handshake (spec §6, "hello handshake").
func Dial(onionAddress string, dialer func(network, addr string) (net.Conn, error)) (*Conn, error) {
	if dialer == nil {
		dialer = net.Dial
	}
	nc, err := dialer("tcp", onionAddress)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", onionAddress, err)
	}

	c := &Conn{
		OnionAddress: onionAddress,
		nc:           nc,
		timeout:      DefaultRequestTimeout,
		clock:        clock.NewDefaultClock(),
	}
	if err := c.handshake(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) handshake() error {
	if err := c.Send(&wire.TakerHello{Version: wire.ProtocolVersion}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	msg, err := c.Recv()
	if err != nil {
		return fmt.Errorf("recv hello: %w", err)
	}
	hello, ok := msg.(*wire.MakerHello)
	if !ok {
		return fmt.Errorf("expected maker hello, got %T", msg)
	}
	if hello.Version != wire.ProtocolVersion {
		return fmt.Errorf("protocol version mismatch: taker %d, maker %d",
			wire.ProtocolVersion, hello.Version)
	}
	return nil
}

// Send frames and writes msg, honoring the connection's request timeout.
func (c *Conn) Send(msg wire.Message) error {
	if c.timeout > 0 {
		c.nc.SetWriteDeadline(c.clock.Now().Add(c.timeout))
	}
	return wire.Encode(c.nc, msg)
}

// Recv blocks for one framed message, honoring the connection's request
// timeout.
func (c *Conn) Recv() (wire.Message, error) {
	if c.timeout > 0 {
		c.nc.SetReadDeadline(c.clock.Now().Add(c.timeout))
	}
	return wire.Decode(c.nc)
}

// Request sends msg and returns the next message received in reply. The
// wire protocol has no correlation id: a connection carries exactly one
// outstanding request at a time (spec §6), so a plain send-then-receive
// pair is sufficient.
func (c *Conn) Request(msg wire.Message) (wire.Message, error) {
	if err := c.Send(msg); err != nil {
		return nil, fmt.Errorf("send %T: %w", msg, err)
	}
	reply, err := c.Recv()
	if err != nil {
		return nil, fmt.Errorf("recv reply to %T: %w", msg, err)
	}
	return reply, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}
