package takerd

import (
	"context"
	"fmt"
	"sync"

	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/internal/config"
	"github.com/binaryswap/coinswap/market"
	"github.com/binaryswap/coinswap/storage"
	"github.com/binaryswap/coinswap/takerrpc"
	"github.com/binaryswap/coinswap/watchtower"
	"github.com/btcsuite/btcd/chaincfg"
)

// Daemon wires together every collaborator a Taker needs to run
// standalone: a chain node connection, the injected wallet, the offer
// book and ban-list store, the contract-enforcement watchtower, and
// the local control RPC surface. Grounded on the in-repo
// watchtower.Tower / maker.Server idiom (quit channel plus
// sync.WaitGroup) rather than the teacher's own loopd.Daemon, whose
// definition loopd/run.go and loopd/register_default.go both
// reference but which is absent from this module's copy of loopd.
type Daemon struct {
	cfg    *config.Config
	rpcCfg RPCConfig
	params *chaincfg.Params

	store *storage.Store
	tower *watchtower.Tower
	book  *market.OfferBook
	rpc   *takerrpc.Server

	// ErrChan carries the first error that causes the daemon to exit
	// its RPC serving loop, mirroring the teacher's Daemon.ErrChan.
	ErrChan chan error

	quit chan struct{}
	wg   sync.WaitGroup
}

// New builds a Daemon from a parsed and validated config plus any
// caller-supplied overrides. It performs no I/O; call Start to open
// the store, dial the node, and begin serving.
func New(cfg *config.Config, params *chaincfg.Params, rpcCfg RPCConfig) *Daemon {
	return &Daemon{
		cfg:     cfg,
		rpcCfg:  rpcCfg,
		params:  params,
		ErrChan: make(chan error, 1),
		quit:    make(chan struct{}),
	}
}

// Start opens the on-disk store, dials the backing node, restores the
// last-persisted offer book and ban list, starts the watchtower, and
// begins serving the local control RPC. It returns once the RPC
// listener is up; ErrChan later reports if serving ever fails.
func (d *Daemon) Start() error {
	if d.rpcCfg.Wallet == nil {
		return fmt.Errorf("takerd: no wallet supplied (RPCConfig.Wallet is nil)")
	}

	node, err := chain.DialNode(chain.RPCConfig{
		Host: d.cfg.Node.RPCHost,
		User: d.cfg.Node.RPCUser,
		Pass: d.cfg.Node.RPCPass,
	})
	if err != nil {
		return fmt.Errorf("takerd: dialing node: %w", err)
	}

	store, err := storage.New(d.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("takerd: opening store: %w", err)
	}
	d.store = store

	bans, err := store.LoadBans()
	if err != nil {
		return fmt.Errorf("takerd: loading ban list: %w", err)
	}
	book := market.NewOfferBook(bans)

	if persisted, err := store.LoadOfferBook(); err != nil {
		return fmt.Errorf("takerd: loading offer book: %w", err)
	} else if len(persisted) > 0 {
		book.Replace(persisted)
	}
	d.book = book

	tower := watchtower.New(node, d.rpcCfg.Wallet, store, d.params, nil)
	if err := tower.Start(); err != nil {
		return fmt.Errorf("takerd: starting watchtower: %w", err)
	}
	d.tower = tower

	addr := fmt.Sprintf("localhost:%d", d.cfg.RPCPort)
	rpcServer, err := takerrpc.NewServer(addr, d.cfg.DataDir, takerrpc.Config{
		Wallet: d.rpcCfg.Wallet,
		Node:   node,
		Tower:  tower,
		Store:  store,
		Book:   book,
		Params: d.params,
		Shutdown: func() {
			d.RequestShutdown()
		},
		Quit: d.quit,
	}, log)
	if err != nil {
		tower.Stop()
		return fmt.Errorf("takerd: building rpc server: %w", err)
	}
	d.rpc = rpcServer

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-d.quit
		cancel()
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := rpcServer.Run(ctx); err != nil {
			select {
			case d.ErrChan <- err:
			default:
			}
		}
	}()

	log.Infof("takerd started, rpc listening on %s", addr)
	return nil
}

// RequestShutdown signals every background worker to stop. Safe to
// call more than once.
func (d *Daemon) RequestShutdown() {
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
}

// Stop signals shutdown and blocks until every worker has exited.
func (d *Daemon) Stop() {
	d.RequestShutdown()
	d.wg.Wait()

	if d.tower != nil {
		d.tower.Stop()
	}
	if d.store != nil {
		d.store.Close()
	}
}
