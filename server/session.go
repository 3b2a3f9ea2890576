package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/demonid/chatline/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionState is the lifecycle position of a Session.
type SessionState int

const (
	StatePending SessionState = iota // accepted, no identity yet
	StateActive                      // registered under a name
	StateClosed                      // terminal
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// closeWriteTimeout bounds the final error frame written to a session
// that has no write pump.
const closeWriteTimeout = time.Second

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Session binds one websocket connection to one name. All writes to the
// connection after activation go through the send channel and are
// performed by writePump, so concurrent deliveries never interleave.
type Session struct {
	id         string
	remoteAddr string

	// The websocket connection. Nil in router tests.
	conn *websocket.Conn

	// Buffered channel of outbound frames. Never closed.
	send chan []byte

	// Closed when the session reaches StateClosed.
	done chan struct{}

	// Closed when writePump has returned.
	stopped chan struct{}

	logger *slog.Logger

	// Serializes writes made before the pump owns the connection.
	directMu sync.Mutex

	mu      sync.Mutex
	name    string
	state   SessionState
	pumping bool
}

func newSession(conn *websocket.Conn, remoteAddr string, sendBuffer int, logger *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:         id,
		remoteAddr: remoteAddr,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     logger.With("session", id, "remote", remoteAddr),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// activate moves a pending session to StateActive under name. The caller
// must already hold the name in the registry.
func (s *Session) activate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePending {
		return fmt.Errorf("activate %q: session is %s", name, s.state)
	}
	s.name = name
	s.state = StateActive
	return nil
}

// Deliver queues one encoded frame. It never blocks: a full buffer is
// reported as errSendBufferFull and the caller treats the recipient as failed.
func (s *Session) Deliver(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return errSessionClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// DeliverEvent encodes and queues one event.
func (s *Session) DeliverEvent(t model.EventType, payload any) error {
	frame, err := model.EncodeEvent(t, payload)
	if err != nil {
		return err
	}
	return s.Deliver(frame)
}

// Close moves the session to StateClosed. Frames already queued are
// flushed by writePump before the connection closes. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// CloseWithError queues an error frame and closes the session. Before
// the write pump starts the frame is written directly instead.
func (s *Session) CloseWithError(code model.ErrorCode, text string) {
	frame, err := model.EncodeEvent(model.EventError, model.ErrorPayload{Code: code, Text: text})

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	direct := !s.pumping && s.conn != nil
	if !direct {
		if err == nil {
			select {
			case s.send <- frame:
			default:
			}
		}
		s.closeLocked()
		s.mu.Unlock()
		return
	}
	// Mark closed now so startPump refuses; the connection is ours to release.
	s.state = StateClosed
	close(s.done)
	s.mu.Unlock()

	if err == nil && s.writeDirect(frame, closeWriteTimeout) == nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout))
	}
	s.conn.Close()
}

func (s *Session) closeLocked() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	close(s.done)
	// Without a pump nobody else will release the connection.
	if !s.pumping && s.conn != nil {
		s.conn.Close()
	}
}

// startPump launches writePump. It reports false if the session was
// closed first.
func (s *Session) startPump(writeTimeout, pingPeriod time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.pumping = true
	go s.writePump(writeTimeout, pingPeriod)
	return true
}

// wait blocks until writePump has flushed and closed the connection.
func (s *Session) wait(timeout time.Duration) {
	s.mu.Lock()
	pumping := s.pumping
	s.mu.Unlock()
	if !pumping {
		return
	}
	select {
	case <-s.stopped:
	case <-time.After(timeout):
		s.logger.Warn("write pump did not stop in time")
	}
}

// writeDirect writes a frame without the pump. Only valid while the pump
// is not running, i.e. during login.
func (s *Session) writeDirect(frame []byte, writeTimeout time.Duration) error {
	s.directMu.Lock()
	defer s.directMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Session) writePump(writeTimeout, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(s.stopped)
	}()

	for {
		select {
		case frame := <-s.send:
			if err := s.write(frame, writeTimeout); err != nil {
				s.logger.Debug("write failed", "name", s.Name(), "error", err)
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("ping failed", "name", s.Name(), "error", err)
				s.Close()
				return
			}
		case <-s.done:
			s.flush(writeTimeout)
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// flush writes whatever is still queued.
func (s *Session) flush(writeTimeout time.Duration) {
	for {
		select {
		case frame := <-s.send:
			if err := s.write(frame, writeTimeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(frame []byte, writeTimeout time.Duration) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}
