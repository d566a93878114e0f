package maker

import (
	"errors"
	"net"
	"sync"
)

// Server accepts incoming Taker connections and runs one Handler per
// connection until the listener is closed. Each connection is fully
// independent; a Handler that errors out only ever tears down its own
// connection.
type Server struct {
	cfg Config
	lis net.Listener

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewServer wraps lis to serve the coinswap wire protocol using cfg.
// The caller owns lis and is responsible for creating it (Tor onion
// listener, plain TCP, or otherwise); Server only Accepts on it.
func NewServer(cfg Config, lis net.Listener) *Server {
	return &Server{
		cfg:  cfg,
		lis:  lis,
		quit: make(chan struct{}),
	}
}

// Start begins accepting connections in the background. It returns
// immediately; call Stop to shut the server down.
func (s *Server) Start() error {
	s.wg.Add(1)
	go s.acceptLoop()

	log.Infof("maker server listening on %v", s.lis.Addr())
	return nil
}

// Stop closes the listener and waits for every in-flight connection's
// Handler goroutine to return.
func (s *Server) Stop() {
	close(s.quit)
	s.lis.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Errorf("accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.serveConn(nc)
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()
	defer nc.Close()

	conn := newConn(nc)
	conn.timeout = s.cfg.idleTimeout()
	conn.clock = s.cfg.clockOrDefault()

	cfg := s.cfg
	cfg.Quit = s.quit

	h := newHandler(cfg, conn)
	if err := h.Serve(); err != nil {
		log.Debugf("connection from %v ended: %v", nc.RemoteAddr(), err)
	}
}
