package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/majorcontext/girasol/internal/catalog"
	"github.com/majorcontext/girasol/internal/history"
	"github.com/majorcontext/girasol/internal/log"
	"github.com/majorcontext/girasol/internal/metrics"
	"github.com/majorcontext/girasol/internal/notifier"
	"github.com/majorcontext/girasol/internal/supervisor"
)

// ServerOptions wires a Server to the components it dispatches to.
type ServerOptions struct {
	Listen     string
	Catalog    *catalog.Store
	Supervisor *supervisor.Supervisor
	// History may be nil, in which case history requests fail.
	History   *history.Store
	Transport notifier.Options
	// MaxMessageSize caps inbound frames. Zero means 1 MiB.
	MaxMessageSize int64
}

// Server is the daemon's endpoint: the websocket command channel plus the
// health and metrics endpoints, all on one listener.
type Server struct {
	opts      ServerOptions
	registry  *Registry
	upgrader  websocket.Upgrader
	server    *http.Server
	listener  net.Listener
	startedAt time.Time
	logger    *slog.Logger

	onConnect func() // called when a session opens
	onEmpty   func() // called when the last session closes
	onKill    func() // called when a client asks for shutdown
}

// NewServer creates a server. Nothing is bound until Listen or Serve.
func NewServer(opts ServerOptions) *Server {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1 << 20
	}
	s := &Server{
		opts:      opts,
		registry:  NewRegistry(),
		startedAt: time.Now(),
		logger:    log.With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Non-browser clients send no Origin; browsers must match the host.
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == "http://"+r.Host
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)
	mux.Handle("GET /metrics", metrics.Handler())

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry { return s.registry }

// SetOnConnect sets a callback invoked when a session opens.
func (s *Server) SetOnConnect(fn func()) { s.onConnect = fn }

// SetOnEmpty sets a callback invoked when the last session closes.
func (s *Server) SetOnEmpty(fn func()) { s.onEmpty = fn }

// SetOnKill sets a callback invoked after a kill request was acknowledged.
// It should start the ordered shutdown and must not block.
func (s *Server) SetOnKill(fn func()) { s.onKill = fn }

// Listen binds the listener. A bind failure is fatal for the daemon.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Listen
	}
	return s.listener.Addr().String()
}

// Serve blocks serving the bound listener until Stop.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the listener, then every open session. Queued frames are
// flushed to each session before its connection closes.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.registry.CloseAll()
	for _, sess := range s.registry.List() {
		select {
		case <-sess.Notifier.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		// Unblocks the session's read loop.
		if sess.conn != nil {
			_ = sess.conn.Close()
		}
	}
	return err
}

// handleHealth responds with daemon health information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		PID:         os.Getpid(),
		Listen:      s.Addr(),
		Connections: s.registry.Count(),
		StartedAt:   s.startedAt.Format(time.RFC3339),
		Uptime:      time.Since(s.startedAt).Truncate(time.Second).String(),
	}
	if s.opts.Supervisor != nil {
		if running, err := s.opts.Supervisor.List(r.Context()); err == nil {
			resp.Running = len(running)
		}
	}
	if s.opts.Catalog != nil {
		if n, err := s.opts.Catalog.Count(r.Context()); err == nil {
			resp.Definitions = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWebSocket upgrades the request and serves the session until the
// client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := &Session{Remote: r.RemoteAddr, ConnectedAt: time.Now(), conn: ws}
	sess.ID = newSessionID()
	sess.Notifier = notifier.New(ws, sess.ID, s.opts.Transport)
	s.registry.Register(sess)
	metrics.ConnectionOpened()
	if s.onConnect != nil {
		s.onConnect()
	}
	s.logger.Info("session opened", "session", sess.ID, "remote", sess.Remote)

	newDispatcher(s, sess, ws).readLoop()

	sess.Notifier.Close()
	<-sess.Notifier.Done()
	_ = ws.Close()
	metrics.ConnectionClosed()
	s.logger.Info("session closed", "session", sess.ID)

	empty := s.registry.Unregister(sess.ID)
	if empty && s.onEmpty != nil {
		s.onEmpty()
	}
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
