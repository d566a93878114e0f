package build

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Interceptor relays SIGINT/SIGTERM into a cancellable context so that
// long-running daemon workers can select on ctx.Done() instead of
// each installing their own signal handler. Reimplemented locally
// with the same call shape as the teacher's
// github.com/lightningnetwork/lnd/signal package, which this project
// otherwise has no reason to depend on.
type Interceptor struct {
	ctx      context.Context
	cancel   context.CancelFunc
	sigCh    chan os.Signal
	listener *int32
}

// NewInterceptor installs a signal handler for SIGINT and SIGTERM and
// returns an Interceptor watching them.
func NewInterceptor() (Interceptor, error) {
	ctx, cancel := context.WithCancel(context.Background())
	listener := int32(1)
	ic := Interceptor{
		ctx:      ctx,
		cancel:   cancel,
		sigCh:    make(chan os.Signal, 1),
		listener: &listener,
	}

	signal.Notify(ic.sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-ic.sigCh
		ic.RequestShutdown()
	}()

	return ic, nil
}

// Listening reports whether the interceptor is still watching for a
// shutdown signal.
func (i Interceptor) Listening() bool {
	return atomic.LoadInt32(i.listener) == 1
}

// RequestShutdown cancels the interceptor's context, waking every
// worker selecting on ShutdownChannel. Safe to call more than once or
// concurrently.
func (i Interceptor) RequestShutdown() {
	atomic.StoreInt32(i.listener, 0)
	i.cancel()
}

// ShutdownChannel returns a channel closed once a shutdown signal has
// been received or RequestShutdown has been called.
func (i Interceptor) ShutdownChannel() <-chan struct{} {
	return i.ctx.Done()
}
