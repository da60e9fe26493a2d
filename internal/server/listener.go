// Package server runs the HTTP listeners (proxy and dashboard) with an
// explicit start/stop lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

var (
	// ErrAlreadyStarted is returned by Start on a running Listener.
	ErrAlreadyStarted = errors.New("server: listener already started")
	// ErrNotStarted is returned by Stop on a Listener that is not running.
	ErrNotStarted = errors.New("server: listener not started")
)

// Listener binds one address and serves a handler on it. net/http runs each
// accepted connection on its own goroutine.
type Listener struct {
	name          string
	addr          string
	handler       http.Handler
	logger        *slog.Logger
	proxyProtocol bool

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// Option configures a Listener.
type Option func(*Listener)

// WithProxyProtocol makes the listener accept a PROXY protocol header, so
// the real caller address survives a port-forwarding hop into the container.
func WithProxyProtocol() Option {
	return func(l *Listener) { l.proxyProtocol = true }
}

// New creates a stopped Listener.
func New(name, addr string, h http.Handler, logger *slog.Logger, opts ...Option) *Listener {
	l := &Listener{
		name:    name,
		addr:    addr,
		handler: h,
		logger:  logger.With("component", name),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the listener name used in logs.
func (l *Listener) Name() string {
	return l.name
}

// Addr returns the bound address, or nil when stopped.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Start binds the address and begins serving in the background.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.srv != nil {
		return fmt.Errorf("%s: %w", l.name, ErrAlreadyStarted)
	}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("%s: bind %s: %w", l.name, l.addr, err)
	}
	if l.proxyProtocol {
		ln = &proxyproto.Listener{Listener: ln, ReadHeaderTimeout: 10 * time.Second}
	}

	srv := &http.Server{
		Handler:           l.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// The bridge's /listen and /call block until a device event, so
		// responses are not bounded by a write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(l.logger.Handler(), slog.LevelWarn),
	}

	l.srv = srv
	l.ln = ln

	l.logger.Info("starting server", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("server error", "err", err)
		}
	}()
	return nil
}

// Stop closes the listening socket so no new connections are accepted, then
// waits for in-flight requests until ctx is done. Requests still running at
// that point are left to finish on their own.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	srv := l.srv
	l.srv = nil
	l.ln = nil
	l.mu.Unlock()

	if srv == nil {
		return fmt.Errorf("%s: %w", l.name, ErrNotStarted)
	}

	l.logger.Info("stopping server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", l.name, err)
	}
	return nil
}
