// Package sink implements a capture SMTP server. It speaks enough of
// ESMTP for real clients (EHLO, STARTTLS, AUTH PLAIN and LOGIN, MAIL,
// RCPT, DATA) and hands every accepted transaction to a Handler instead of
// delivering it.
package sink

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// shutdownTimeout bounds how long Serve waits for open sessions after the
// context is cancelled.
const shutdownTimeout = 30 * time.Second

// DefaultMaxMessageSize is used when Config.MaxMessageSize is zero.
const DefaultMaxMessageSize = 10 * 1024 * 1024

// Envelope is one accepted mail transaction.
type Envelope struct {
	MailFrom string
	RcptTo   []string
	Data     []byte

	// User is the authenticated account, empty when AUTH was not used.
	User string
	TLS  bool

	Received time.Time
}

// Handler processes accepted envelopes. Returning an error rejects the
// transaction with a temporary failure.
type Handler interface {
	HandleEnvelope(ctx context.Context, env *Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// HandleEnvelope calls f.
func (f HandlerFunc) HandleEnvelope(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Config configures a Server.
type Config struct {
	// Hostname is announced in the greeting and EHLO reply.
	Hostname string

	// TLSConfig enables STARTTLS. When nil, STARTTLS is not offered.
	TLSConfig *tls.Config

	// Username and Password enable AUTH. When either is empty, clients
	// may send without authenticating.
	Username string
	Password string

	MaxMessageSize int64

	Logger *slog.Logger
}

// Server accepts SMTP connections and passes their transactions to a
// Handler.
type Server struct {
	cfg     Config
	auth    *Authenticator
	handler Handler
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener

	wg sync.WaitGroup
}

// New returns a Server that passes envelopes to h.
func New(cfg Config, h Handler) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		auth:    NewAuthenticator(cfg.Username, cfg.Password),
		handler: h,
		logger:  logger,
	}
}

// Listen binds the server to addr without accepting connections yet. Use
// "127.0.0.1:0" to pick a free port and read it back with Addr.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts connections on the bound listener until ctx is cancelled,
// then waits for open sessions to finish.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("sink: Serve called before Listen")
	}

	s.logger.Info("SMTP sink listening",
		"addr", ln.Addr().String(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.cfg.TLSConfig != nil,
	)

	stop := context.AfterFunc(ctx, func() {
		s.logger.Info("shutting down SMTP sink")
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.waitForSessions()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(conn, s).serve(ctx)
		}()
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all sink sessions completed")
	case <-time.After(shutdownTimeout):
		s.logger.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
