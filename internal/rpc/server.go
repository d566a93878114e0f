package rpc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// requestTimeout bounds how long a client connection may sit idle
// before this daemon gives up on it, mirroring the admin server's
// rpcTimeoutSeconds: slow requests should not hold connections open,
// and a hung response must eventually die.
const requestTimeout = 30 * time.Second

// cookieFileMode restricts the generated auth cookie to the owner
// only, the same permission bitcoind uses for its own .cookie file.
const cookieFileMode = 0600

// GenerateAuthCookie writes a random 32-byte token to path (creating
// it if necessary) and returns its SHA-256 digest, the value the
// server compares presented credentials against. Loopback-only local
// control RPC has no use for the admin server's TLS certificate pair;
// a freshly generated cookie file plays the same "only someone who can
// read this local file may connect" role bitcoind's own RPC auth
// cookie does.
func GenerateAuthCookie(path string) ([32]byte, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return [32]byte{}, fmt.Errorf("generating auth cookie: %w", err)
	}

	encoded := hex.EncodeToString(raw[:])
	if err := os.WriteFile(path, []byte(encoded), cookieFileMode); err != nil {
		return [32]byte{}, fmt.Errorf("writing auth cookie: %w", err)
	}

	return sha256.Sum256([]byte(encoded)), nil
}

// Config bundles what NewServer needs: the address to bind, the
// caller's route table, and the auth cookie digest GenerateAuthCookie
// produced.
type Config struct {
	Addr    string
	Routes  Routes
	AuthSHA [32]byte
	Log     btclog.Logger
}

// Server is a single-endpoint, password-protected HTTP JSON-RPC
// server for one daemon's local control surface.
type Server struct {
	cfg Config
	srv *http.Server
	log btclog.Logger
}

// NewServer builds a Server whose single POST /api/{route} endpoint
// dispatches into cfg.Routes.
func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = btclog.Disabled
	}

	s := &Server{cfg: cfg, log: log}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RealIP)
	mux.Use(s.authMiddleware)

	mux.Route("/api", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Post("/{route}", s.dispatch)
	})

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}
	return s
}

// Run listens until ctx is canceled, then shuts the server down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("rpc server shutdown: %v", err)
		}
	}()

	s.log.Infof("rpc server listening on %s", s.cfg.Addr)
	err := s.srv.ListenAndServe()
	wg.Wait()

	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		presented := sha256.Sum256([]byte(pass))
		if !ok || subtle.ConstantTimeCompare(s.cfg.AuthSHA[:], presented[:]) != 1 {
			s.log.Warnf("rpc auth failure from %s", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="coinswap rpc"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	route := chi.URLParam(r, "route")
	handler, ok := s.cfg.Routes[route]
	if !ok {
		writeJSON(w, ErrorResponse(NewError(ErrUnknownRoute, "unknown route %q", route)))
		return
	}

	var params RawParams
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeJSON(w, ErrorResponse(NewError(ErrArguments, "decoding request: %v", err)))
			return
		}
	}

	writeJSON(w, handler(&params))
}

func writeJSON(w http.ResponseWriter, payload *ResponsePayload) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
