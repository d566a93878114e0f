package takerrpc

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/internal/rpc"
	"github.com/binaryswap/coinswap/internal/walletrpc"
	"github.com/binaryswap/coinswap/market"
	"github.com/binaryswap/coinswap/taker"
	"github.com/btcsuite/btcd/btcutil"
)

// dialTimeout bounds a single Maker dial attempt within
// taker.DialWithRetry's overall backoff schedule.
const dialTimeout = 15 * time.Second

// coinswapResultView is the JSON shape do-coinswap returns once the
// session either completes or is handed to recovery.
type coinswapResultView struct {
	SessionID  string `json:"session_id"`
	Phase      string `json:"phase"`
	FundedHops []int  `json:"funded_hops,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Routes builds the Taker's full command table: the shared
// wallet/lifecycle set plus do-coinswap.
func Routes(cfg Config) rpc.Routes {
	routes := walletrpc.Routes(cfg.Wallet, cfg.Node, cfg.Params, cfg.Shutdown)
	routes["do-coinswap"] = handleDoCoinswap(cfg)
	return routes
}

// handleDoCoinswap is the RPC entry point for spec §3's "A SwapSession
// is created by the Taker on do_coinswap": it selects a route from the
// current offer book, dials every Maker directly, and drives the swap
// to completion or hands a failure to recovery.
//
// Args: send_amount_sats, hop_count.
func handleDoCoinswap(cfg Config) rpc.HandlerFunc {
	return func(p *rpc.RawParams) *rpc.ResponsePayload {
		if err := rpc.CheckNArgs(p, 2); err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrArguments, "%v", err))
		}

		sendAmountSats, err := strconv.ParseInt(p.Args[0], 10, 64)
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrArguments, "invalid send amount: %v", err))
		}
		hopCount, err := strconv.Atoi(p.Args[1])
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrArguments, "invalid hop count: %v", err))
		}

		result, err := runCoinswap(cfg, btcutil.Amount(sendAmountSats), hopCount)
		if err != nil {
			return rpc.ErrorResponse(rpc.NewError(rpc.ErrInternal, "%v", err))
		}
		return rpc.CreateResponse(result)
	}
}

func runCoinswap(cfg Config, sendAmount btcutil.Amount, hopCount int) (*coinswapResultView, error) {
	params := taker.DefaultParams(sendAmount, hopCount)
	params.MinFeeSats = cfg.MinFeeSats

	candidates := acceptingOffers(cfg.Book.Snapshot(), sendAmount)
	route, err := market.SelectRoute(
		candidates, hopCount, int64(sendAmount), cfg.MinFeeSats, params.BaseTimelock,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting route: %w", err)
	}

	preimage, err := randPreimage()
	if err != nil {
		return nil, fmt.Errorf("generating preimage: %w", err)
	}

	sessionID := preimage.Hash().String()
	sess, err := taker.NewSession(sessionID, params, route, preimage)
	if err != nil {
		return nil, fmt.Errorf("building session: %w", err)
	}

	conns, err := dialRoute(cfg, route)
	if err != nil {
		return nil, err
	}
	defer closeAll(conns)
	sess.MakerConns = conns

	ex := taker.NewExecutor(sess, cfg.Wallet, cfg.Node, cfg.Tower, cfg.Params, cfg.Quit)
	runErr := ex.Run()

	view := &coinswapResultView{SessionID: sess.ID}
	if runErr != nil {
		outcome := taker.Recover(sess, cfg.Book, runErr)
		var fault taker.MakerFault
		if cfg.Store != nil && errors.As(runErr, &fault) {
			entry := market.BanEntry{
				Outpoint: fault.Bond.Outpoint,
				Reason:   fault.Reason,
				BannedAt: time.Now().Unix(),
			}
			if err := cfg.Store.PutBan(entry); err != nil {
				return nil, fmt.Errorf("persisting ban: %w", err)
			}
		}
		view.Phase = outcome.FinalPhase.String()
		view.FundedHops = outcome.FundedHops
		view.Error = runErr.Error()
		return view, nil
	}

	if err := taker.Forget(sess, cfg.Tower); err != nil {
		return nil, fmt.Errorf("releasing watch entries: %w", err)
	}
	view.Phase = sess.Phase.String()
	return view, nil
}

// acceptingOffers filters an offer book snapshot down to offers whose
// advertised size range covers sendAmount (spec §8, "send_amount
// exactly at min_swap_amount -> accepted; below -> offer rejected").
// market.SelectRoute assumes this filtering already happened.
func acceptingOffers(offers []market.ScoredOffer, sendAmount btcutil.Amount) []market.ScoredOffer {
	out := make([]market.ScoredOffer, 0, len(offers))
	for _, o := range offers {
		if o.Offer.AcceptsAmount(sendAmount) {
			out = append(out, o)
		}
	}
	return out
}

// dialRoute dials every Maker in the route directly, one connection
// each (spec §9, "Makers never dial each other"), retrying transient
// failures per Config.MaxConnectAttempts before giving up on the
// whole route.
func dialRoute(cfg Config, route []market.ScoredOffer) ([]*taker.Conn, error) {
	dialer := (&net.Dialer{Timeout: dialTimeout}).Dial

	conns := make([]*taker.Conn, 0, len(route))
	for _, offer := range route {
		conn, err := taker.DialWithRetry(offer.Offer.OnionAddress, cfg.maxConnectAttempts(), dialer)
		if err != nil {
			closeAll(conns)
			return nil, fmt.Errorf("dialing %s: %w", offer.Offer.OnionAddress, err)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func closeAll(conns []*taker.Conn) {
	for _, c := range conns {
		c.Close()
	}
}

func randPreimage() (contract.Preimage, error) {
	var buf [contract.PreimageSize]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return contract.Preimage{}, err
	}
	return contract.NewPreimageFromBytes(buf[:])
}
