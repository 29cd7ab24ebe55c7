package stream

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"uwrangler/internal/config"
	"uwrangler/internal/logging"
	"uwrangler/internal/store"
)

// Server accepts display clients over TCP and streams cached frame
// sequences to them. Each connection gets its own session goroutine; a
// misbehaving client affects only its own session.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	activity *ActivityLog

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer wires a stream server. Start must be called before clients can
// connect.
func NewServer(cfg *config.Config, st *store.Store, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		logger:   logging.NewComponentLogger(logger, "stream"),
		activity: NewActivityLog(cfg.Stream.ActivityLogSize),
	}
}

// Activity exposes the recent-session event log for the management API.
func (s *Server) Activity() *ActivityLog {
	return s.activity
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the configured address and begins accepting sessions.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("stream server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Stream.Bind)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.listener = listener
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptLoop(runCtx, listener)

	s.logger.Info("stream server listening", logging.String("addr", listener.Addr().String()))
	return nil
}

// Stop closes the listener and waits for active sessions to finish their
// current frame and drain.
func (s *Server) Stop() {
	s.mu.Lock()
	listener := s.listener
	cancel := s.cancel
	s.listener = nil
	s.cancel = nil
	s.mu.Unlock()

	if listener == nil {
		return
	}
	cancel()
	listener.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", logging.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}
