package nbd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
)

// Server accepts NBD connections and runs the session state machine against
// a single Export per spec (one export, no export-name routing).
type Server struct {
	Export *Export
	Log    *slog.Logger

	ln net.Listener
}

// NewServer builds a Server exposing blocks under name. log may be nil, in
// which case logging is discarded.
func NewServer(name string, blocks Blocks, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(nopWriter{}, nil))
	}
	return &Server{
		Export: &Export{Name: name, Blocks: blocks},
		Log:    log,
	}
}

// ListenAndServe binds addr (host:port, defaulting the port to DefaultPort
// if omitted) and serves until ctx is cancelled or a Listener-level error
// occurs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled, running one
// session goroutine per connection against the shared Export.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ln = ln
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	log := s.Log.With("remote", conn.RemoteAddr())
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			log.Warn("setting TCP_NODELAY failed", "error", err)
		}
	}

	log.Info("connection accepted")
	sess := newSession(conn, s.Export, log)
	if err := sess.handle(); err != nil {
		log.Warn("session ended with error", "error", err)
		return
	}
	log.Info("connection closed")
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
