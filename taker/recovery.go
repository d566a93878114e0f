package taker

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/binaryswap/coinswap/market"
	"github.com/binaryswap/coinswap/watchtower"
)

// MakerFault names a Maker whose behavior caused a session to fail, so
// the caller can decide whether it warrants a ban (spec §4.4, ban
// reasons "unilateral-contract-broadcast" and "malformed-message").
type MakerFault struct {
	Hop    int
	Bond   market.Bond
	Reason market.BanReason
}

func (f MakerFault) Error() string {
	return fmt.Sprintf("hop %d: maker at bond %s: %s",
		f.Hop, f.Bond.Outpoint, f.Reason)
}

// Outcome summarizes what recovery did with a failed session.
type Outcome struct {
	// FinalPhase is the phase the session was left in.
	FinalPhase Phase

	// FundedHops lists the hop indexes whose funding transaction had
	// already been broadcast when the session failed. Each of these is
	// already registered with the watchtower (executor.go registers a
	// hop the instant its funding confirms broadcast, not at
	// settlement), so recovery's only remaining job for them is to leave
	// the session in PhaseRecovering rather than PhaseAborted, since
	// funds are still at risk until the watchtower resolves every one.
	FundedHops []int

	// Banned is the bond outpoint banned as a result of this failure, if
	// any.
	Banned *market.Bond
}

// Recover classifies a failed Executor.Run and decides the session's
// disposition (spec §4.1 "abort" and §7's failure taxonomy):
//
//   - No hop was ever funded: the swap never put money at risk, so the
//     session is simply marked aborted and its Maker connections can be
//     torn down.
//   - At least one hop is funded: money is on-chain in a 2-of-2 the
//     Taker cannot unilaterally spend from before its timelock matures.
//     The session moves to PhaseRecovering, which the caller should treat
//     as "leave it: the watchtower already has every funded hop
//     registered and will broadcast the timelock-refund or hashlock-claim
//     path the moment it can."
//
// If err is a MakerFault, the offending bond is banned from book
// immediately — before the caller decides anything else — since a
// bond that broadcasts early or sends malformed messages should never
// be selected into a future route.
func Recover(sess *Session, book *market.OfferBook, err error) Outcome {
	out := Outcome{FinalPhase: PhaseAborted}

	var fault MakerFault
	if errors.As(err, &fault) {
		book.Ban(fault.Reason, fault.Bond.Outpoint)
		out.Banned = &fault.Bond
	}

	for _, hop := range sess.Hops {
		// Funding txs built during negotiation are only broadcast once
		// the session reaches PhaseFunding.
		if sess.Phase < PhaseFunding {
			break
		}
		if len(hop.Fundings) == 0 {
			continue
		}
		hf := hop.Fundings[0]
		if hf.FundingTx == nil {
			continue
		}
		out.FundedHops = append(out.FundedHops, hop.Index)
	}

	if len(out.FundedHops) > 0 {
		out.FinalPhase = PhaseRecovering
	}
	sess.Phase = out.FinalPhase

	return out
}

// Forget releases a completed or fully-recovered session's watch
// entries. It is safe to call once every hop the Taker funded has
// either settled cooperatively or been swept unilaterally by the
// watchtower — calling it earlier would drop enforcement coverage
// while funds are still exposed.
func Forget(sess *Session, tower *watchtower.Tower) error {
	for _, hop := range sess.Hops {
		if len(hop.Fundings) == 0 {
			continue
		}
		hf := hop.Fundings[0]
		if hf.FundingTx == nil {
			continue
		}
		outpoint, err := hf.Funding.LocateOutput(hf.FundingTx)
		if err != nil {
			continue
		}
		if err := tower.Forget(sess.ID, *outpoint); err != nil {
			return fmt.Errorf("taker: forgetting hop %d: %w", hop.Index, err)
		}
	}
	return nil
}

// requestBackoff implements the retry policy for Maker requests issued
// before any funds are committed (route negotiation, offer refresh):
// exponential backoff starting at two seconds and capped at a minute,
// matching the teacher's subscription reconnect policy
// (utils.SubscriptionManager). Funded-hop requests are never retried
// this way — once money is on-chain, a slow reply is handled by the
// watchtower's timelock path, not by hammering a possibly-compromised
// Maker with more requests.
type requestBackoff struct {
	delay   time.Duration
	maxWait time.Duration
}

func newRequestBackoff() *requestBackoff {
	return &requestBackoff{delay: 2 * time.Second, maxWait: time.Minute}
}

func (b *requestBackoff) wait() {
	time.Sleep(b.delay)
	b.delay *= 2
	if b.delay > b.maxWait {
		b.delay = b.maxWait
	}
}

// DialWithRetry dials a Maker's onion address, retrying transient
// connection failures up to maxAttempts times before giving up and
// treating the Maker as unresponsive (spec §7, "Maker connect timeout
// -> retry N times with backoff, then treat offer as stale, re-route").
// The daemon's do-coinswap handler calls this once per Maker in a
// selected route before handing the resulting connections to an
// Executor.
func DialWithRetry(onionAddress string, maxAttempts int,
	dialer func(network, addr string) (net.Conn, error)) (*Conn, error) {

	backoff := newRequestBackoff()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff.wait()
		}
		conn, err := Dial(onionAddress, dialer)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("taker: maker %s unresponsive after %d attempts: %w",
		onionAddress, maxAttempts, lastErr)
}
