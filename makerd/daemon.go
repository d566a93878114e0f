package makerd

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/binaryswap/coinswap/chain"
	"github.com/binaryswap/coinswap/maker"
	"github.com/binaryswap/coinswap/makerrpc"
	"github.com/binaryswap/coinswap/storage"
	"github.com/binaryswap/coinswap/watchtower"
	"github.com/btcsuite/btcd/chaincfg"
)

// Daemon wires together a Maker's collaborators: a chain node
// connection, the injected wallet, this Maker's offer/bond, the
// contract-enforcement watchtower, the swap-protocol listener Takers
// dial into, and the local control RPC surface. Grounded on the same
// watchtower.Tower / maker.Server quit-channel idiom takerd.Daemon
// uses.
type Daemon struct {
	cfg    *Config
	rpcCfg RPCConfig
	params *chaincfg.Params

	store   *storage.Store
	tower   *watchtower.Tower
	swapSrv *maker.Server
	rpc     *makerrpc.Server
	swapLis net.Listener

	ErrChan chan error

	quit chan struct{}
	wg   sync.WaitGroup
}

// New builds a Daemon from a parsed and validated config plus any
// caller-supplied overrides.
func New(cfg *Config, params *chaincfg.Params, rpcCfg RPCConfig) *Daemon {
	return &Daemon{
		cfg:     cfg,
		rpcCfg:  rpcCfg,
		params:  params,
		ErrChan: make(chan error, 1),
		quit:    make(chan struct{}),
	}
}

// Start opens the store, dials the node, starts the watchtower, begins
// accepting Taker connections, and begins serving the local control
// RPC.
func (d *Daemon) Start() error {
	if d.rpcCfg.Wallet == nil {
		return fmt.Errorf("makerd: no wallet supplied (RPCConfig.Wallet is nil)")
	}

	node, err := chain.DialNode(chain.RPCConfig{
		Host: d.cfg.Node.RPCHost,
		User: d.cfg.Node.RPCUser,
		Pass: d.cfg.Node.RPCPass,
	})
	if err != nil {
		return fmt.Errorf("makerd: dialing node: %w", err)
	}

	store, err := storage.New(d.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("makerd: opening store: %w", err)
	}
	d.store = store

	tower := watchtower.New(node, d.rpcCfg.Wallet, store, d.params, nil)
	if err := tower.Start(); err != nil {
		return fmt.Errorf("makerd: starting watchtower: %w", err)
	}
	d.tower = tower

	swapCfg := maker.Config{
		Wallet:      d.rpcCfg.Wallet,
		Node:        node,
		Store:       store,
		Tower:       tower,
		Params:      d.params,
		Offer:       d.rpcCfg.Offer,
		Bond:        d.rpcCfg.Bond,
		BondPrivKey: d.rpcCfg.BondPrivKey,
	}

	swapLis, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", d.cfg.Swap.SwapPort))
	if err != nil {
		tower.Stop()
		return fmt.Errorf("makerd: listening on swap port: %w", err)
	}
	d.swapLis = swapLis

	swapSrv := maker.NewServer(swapCfg, swapLis)
	if err := swapSrv.Start(); err != nil {
		tower.Stop()
		swapLis.Close()
		return fmt.Errorf("makerd: starting swap server: %w", err)
	}
	d.swapSrv = swapSrv

	addr := fmt.Sprintf("localhost:%d", d.cfg.RPCPort)
	rpcServer, err := makerrpc.NewServer(addr, d.cfg.DataDir, makerrpc.Config{
		Wallet:      d.rpcCfg.Wallet,
		Node:        node,
		Params:      d.params,
		Offer:       d.rpcCfg.Offer,
		Bond:        d.rpcCfg.Bond,
		BondPrivKey: d.rpcCfg.BondPrivKey,
		DataDir:     d.cfg.DataDir,
		Shutdown: func() {
			d.RequestShutdown()
		},
	}, log)
	if err != nil {
		swapSrv.Stop()
		tower.Stop()
		return fmt.Errorf("makerd: building rpc server: %w", err)
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

	log.Infof("makerd started, swap listening on %v, rpc listening on %s",
		swapLis.Addr(), addr)
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

	if d.swapSrv != nil {
		d.swapSrv.Stop()
	}
	if d.tower != nil {
		d.tower.Stop()
	}
	if d.store != nil {
		d.store.Close()
	}
}
