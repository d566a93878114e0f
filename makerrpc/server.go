package makerrpc

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/binaryswap/coinswap/internal/rpc"
	"github.com/btcsuite/btclog"
)

// CookieFilename is the name of the auth cookie makerd writes into its
// data directory on startup; maker-cli reads it back to authenticate.
const CookieFilename = ".maker-cookie"

// Server is the Maker daemon's local control RPC listener.
type Server struct {
	inner *rpc.Server
}

// NewServer builds a Server bound to addr, generating a fresh auth
// cookie under dataDir.
func NewServer(addr, dataDir string, cfg Config, log btclog.Logger) (*Server, error) {
	authSHA, err := rpc.GenerateAuthCookie(filepath.Join(dataDir, CookieFilename))
	if err != nil {
		return nil, fmt.Errorf("makerrpc: %w", err)
	}

	inner := rpc.NewServer(rpc.Config{
		Addr:    addr,
		Routes:  Routes(cfg),
		AuthSHA: authSHA,
		Log:     log,
	})
	return &Server{inner: inner}, nil
}

// Run blocks serving requests until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.inner.Run(ctx)
}
