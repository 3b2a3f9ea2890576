package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/demonid/chatline/model"
	"github.com/gorilla/websocket"
)

// Server accepts websocket connections and runs one Session per
// connection through login, message routing and cleanup.
type Server struct {
	config   *Config
	registry *Registry
	router   *Router
	accounts *AccountBook // nil when name claims are disabled
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// live holds every session that has not finished cleanup, pending
	// ones included, so shutdown can reach them.
	live   map[*Session]struct{}
	liveMu sync.Mutex
	conns  sync.WaitGroup
}

func NewServer(config *Config, accounts *AccountBook, logger *slog.Logger) *Server {
	registry := NewRegistry(logger)
	return &Server{
		config:   config,
		registry: registry,
		router:   NewRouter(registry, logger),
		accounts: accounts,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Terminal clients send no Origin
			},
		},
		live: make(map[*Session]struct{}),
	}
}

// Handler returns the HTTP routes served on the listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.serveIndex)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /api/sessions", s.serveSessions)
	return mux
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled. Failing to bind is the only fatal error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes
// every session and waits for their goroutines.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()
	s.logger.Info("server started", "addr", ln.Addr().String())

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "sessions", s.registry.Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	s.closeAll(model.CodeShutdown, "Server is shutting down.")

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.config.WriteTimeout):
		s.logger.Warn("connections still open after shutdown timeout")
	}
	s.logger.Info("shutdown complete")
	return nil
}

func (s *Server) closeAll(code model.ErrorCode, text string) {
	s.liveMu.Lock()
	sessions := make([]*Session, 0, len(s.live))
	for sess := range s.live {
		sessions = append(sessions, sess)
	}
	s.liveMu.Unlock()

	for _, sess := range sessions {
		sess.CloseWithError(code, text)
	}
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s\n\nThis is the chat server endpoint. Use the terminal client to connect:\n\n    client --host %s --port %s\n",
		s.config.ServerName, s.config.Host, s.config.Port)
}

func (s *Server) serveSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.registry.Names()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// serveWs handles websocket requests from the peer.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sess := newSession(conn, r.RemoteAddr, s.config.SendBuffer, s.logger)
	s.track(sess)

	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		defer s.untrack(sess)
		s.handleConnection(sess)
	}()
}

func (s *Server) track(sess *Session) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	s.live[sess] = struct{}{}
}

func (s *Server) untrack(sess *Session) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	delete(s.live, sess)
}

// handleConnection runs one session from PENDING to CLOSED. Every exit
// path unregisters the session and releases the connection.
func (s *Server) handleConnection(sess *Session) {
	sess.logger.Debug("connection accepted")
	sess.conn.SetReadLimit(s.config.MaxFrameSize)

	name, err := s.login(sess)
	if err != nil {
		sess.logger.Info("login rejected", "error", err)
		s.rejectLogin(sess, err)
		return
	}
	defer s.release(sess)

	pongWait := s.config.PongWait
	if !sess.startPump(s.config.WriteTimeout, pongWait*9/10) {
		return
	}
	sess.logger.Info("logged in", "name", name)

	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	s.readLoop(sess)
}

// login reads the first frame and registers the session under the
// presented name. The write pump is not running yet, so replies are
// written directly.
func (s *Server) login(sess *Session) (string, error) {
	sess.conn.SetReadDeadline(time.Now().Add(s.config.LoginTimeout))
	_, data, err := sess.conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("reading login: %w", err)
	}
	ev, err := model.DecodeEvent(data)
	if err != nil {
		return "", err
	}
	if ev.Type != model.EventLogin {
		return "", fmt.Errorf("%w: expected login, got %s", model.ErrMalformedFrame, ev.Type)
	}
	var payload model.LoginPayload
	if err := ev.Decode(&payload); err != nil {
		return "", err
	}

	name := payload.Name
	if err := model.ValidateName(name); err != nil {
		return "", err
	}
	if s.config.IsBanned(name) {
		return "", fmt.Errorf("%w: %s", model.ErrBanned, name)
	}
	if s.accounts != nil {
		if err := s.accounts.Check(name, payload.Password); err != nil {
			return "", err
		}
	}
	if err := s.registry.Register(name, sess); err != nil {
		return "", err
	}
	if err := sess.activate(name); err != nil {
		s.registry.Unregister(name)
		return "", err
	}

	welcome, err := model.EncodeEvent(model.EventWelcome, model.WelcomePayload{
		Name:   name,
		Text:   s.config.Welcome(),
		Online: s.registry.Names(),
	})
	if err == nil {
		err = sess.writeDirect(welcome, s.config.WriteTimeout)
	}
	if err != nil {
		s.registry.Remove(sess)
		return "", fmt.Errorf("writing welcome: %w", err)
	}
	return name, nil
}

// rejectLogin reports a failed login when the failure is one the client
// can act on, then closes the pending session.
func (s *Server) rejectLogin(sess *Session, err error) {
	defer sess.Close()

	var netErr net.Error
	if isExpectedClose(err) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return
	}
	frame, encErr := model.EncodeEvent(model.EventError, model.ErrorPayload{
		Code: model.CodeOf(err),
		Text: loginFailureText(err),
	})
	if encErr != nil {
		return
	}
	if werr := sess.writeDirect(frame, s.config.WriteTimeout); werr != nil {
		return
	}
	sess.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.config.WriteTimeout))
}

func loginFailureText(err error) string {
	switch {
	case errors.Is(err, model.ErrNameCollision):
		return "This name is already in use."
	case errors.Is(err, model.ErrAuthFailed):
		return "Wrong password for this name."
	case errors.Is(err, model.ErrBanned):
		return "This name is banned."
	default:
		return "Login failed: " + err.Error()
	}
}

func (s *Server) readLoop(sess *Session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				sess.logger.Warn("read failed", "name", sess.Name(), "error", err)
			}
			return
		}

		ev, err := model.DecodeEvent(data)
		if err != nil {
			s.reportMalformed(sess, err)
			continue
		}

		switch ev.Type {
		case model.EventMessage:
			var msg model.Message
			if err := ev.Decode(&msg); err != nil {
				s.reportMalformed(sess, err)
				continue
			}
			delivery, err := s.router.Route(sess, msg.Text)
			if err != nil {
				sess.logger.Debug("message not delivered", "name", sess.Name(), "error", err)
				continue
			}
			sess.logger.Debug("message routed",
				"name", sess.Name(),
				"seq", delivery.Message.Seq,
				"target", delivery.Message.TargetName,
				"delivered", len(delivery.Delivered),
				"failed", len(delivery.Failed),
			)
		case model.EventDisconnect:
			sess.logger.Info("client said goodbye", "name", sess.Name())
			return
		default:
			s.reportMalformed(sess, fmt.Errorf("%w: unexpected %s frame", model.ErrMalformedFrame, ev.Type))
		}
	}
}

func (s *Server) reportMalformed(sess *Session, err error) {
	sess.logger.Debug("malformed frame", "name", sess.Name(), "error", err)
	sess.DeliverEvent(model.EventError, model.ErrorPayload{
		Code: model.CodeMalformedFrame,
		Text: err.Error(),
	})
}

// release is the single cleanup path for an active session: the name is
// freed first, so no delivery can find the session once it is closing.
func (s *Server) release(sess *Session) {
	name := sess.Name()
	s.registry.Remove(sess)
	sess.Close()
	sess.wait(s.config.WriteTimeout * 2)
	sess.logger.Info("disconnected", "name", name)
}

// Kick closes the named session with a notice. It reports whether the
// name was online.
func (s *Server) Kick(name, reason string) bool {
	sess, ok := s.registry.Lookup(name)
	if !ok {
		return false
	}
	if reason == "" {
		reason = "You have been kicked."
	}
	sess.CloseWithError(model.CodeKicked, reason)
	return true
}

// Broadcast sends an operator notice to everyone online.
func (s *Server) Broadcast(text string) int {
	return s.router.Notice(text)
}

// Stats returns server statistics as a formatted string.
func (s *Server) Stats() string {
	names := s.registry.Names()
	return "connections=" + strconv.Itoa(len(names)) + ",users=" + strings.Join(names, ";")
}

// isExpectedClose reports whether err is a normal connection termination.
func isExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
