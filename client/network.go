package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/demonid/chatline/model"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	welcomeTimeout = 10 * time.Second
	outboxSize     = 64
)

var errOutboxFull = errors.New("send queue is full")

// View receives what the connection produces. Callbacks are made from
// the connection goroutines and from Send, never from the caller of
// Connect after it returns.
type View interface {
	ShowMessage(msg model.Message)
	ShowNotice(text string)
	ShowError(text string)
	SetConnectStatus(status model.ConnectStatus)
}

// ConnectError reports that no session could be established.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Controller owns the single connection of a client.
type Controller struct {
	view   View
	logger *slog.Logger
	dialer websocket.Dialer

	mu      sync.Mutex
	status  model.ConnectStatus
	account model.Account
	link    *link

	// Cancels the Connect in flight, if any. dialGen tells a finished
	// Connect whether cancelDial is still its own.
	cancelDial context.CancelFunc
	dialGen    uint64
}

// link is one established connection. A reader and a writer goroutine
// serve it; gorilla allows one of each per connection.
type link struct {
	conn   *websocket.Conn
	outbox chan []byte
	quit   chan struct{}
	stop   sync.Once
	wg     sync.WaitGroup
}

func (l *link) close() {
	l.stop.Do(func() { close(l.quit) })
}

func NewController(view View, logger *slog.Logger) *Controller {
	return &Controller{
		view:   view,
		logger: logger,
		dialer: websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Status returns the current connection status.
func (c *Controller) Status() model.ConnectStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Account returns the account of the last connection attempt.
func (c *Controller) Account() model.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

func (c *Controller) setStatus(status model.ConnectStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.view.SetConnectStatus(status)
}

// Connect dials the server in account, logs in and starts the
// connection goroutines. An existing connection is closed first.
func (c *Controller) Connect(ctx context.Context, account model.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	c.Disconnect()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.account = account
	c.cancelDial = cancel
	c.dialGen++
	gen := c.dialGen
	c.mu.Unlock()
	c.setStatus(model.Connecting)

	conn, welcome, err := c.dial(ctx, account)

	var l *link
	c.mu.Lock()
	if c.dialGen == gen {
		c.cancelDial = nil
	}
	// Disconnect cancels under c.mu, so a canceled ctx here is final.
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		l = &link{
			conn:   conn,
			outbox: make(chan []byte, outboxSize),
			quit:   make(chan struct{}),
		}
		c.link = l
	}
	c.mu.Unlock()

	if err != nil {
		if conn != nil {
			conn.Close()
		}
		c.setStatus(model.Disconnected)
		return &ConnectError{Addr: account.Addr(), Err: err}
	}

	c.logger.Info("connected", "addr", account.Addr(), "name", account.Name)
	c.setStatus(model.Connected)
	if welcome.Text != "" {
		c.view.ShowNotice(welcome.Text)
	}
	c.view.ShowNotice("Online: " + strings.Join(welcome.Online, ", "))

	l.wg.Add(2)
	go c.readLoop(l)
	go c.writeLoop(l)
	return nil
}

// dial opens the websocket and completes the login exchange.
func (c *Controller) dial(ctx context.Context, account model.Account) (*websocket.Conn, model.WelcomePayload, error) {
	var welcome model.WelcomePayload

	u := url.URL{Scheme: "ws", Host: account.Addr(), Path: "/ws"}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, welcome, err
	}
	// Unblocks the login exchange when ctx is canceled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	frame, err := model.EncodeEvent(model.EventLogin, model.LoginPayload{
		Name:     account.Name,
		Password: account.Password,
	})
	if err != nil {
		conn.Close()
		return nil, welcome, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		conn.Close()
		return nil, welcome, fmt.Errorf("sending login: %w", err)
	}

	deadline := time.Now().Add(welcomeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, welcome, fmt.Errorf("waiting for welcome: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	ev, err := model.DecodeEvent(data)
	if err == nil {
		switch ev.Type {
		case model.EventWelcome:
			err = ev.Decode(&welcome)
		case model.EventError:
			err = loginError(ev)
		default:
			err = fmt.Errorf("%w: expected welcome, got %s", model.ErrMalformedFrame, ev.Type)
		}
	}
	if err != nil {
		conn.Close()
		return nil, welcome, err
	}
	if !stop() {
		return nil, welcome, ctx.Err()
	}
	return conn, welcome, nil
}

func loginError(ev model.Event) error {
	var payload model.ErrorPayload
	if err := ev.Decode(&payload); err != nil {
		return err
	}
	if sentinel := payload.Code.Err(); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, payload.Text)
	}
	return errors.New(payload.Text)
}

// Send queues text for the server and echoes it to the view. It never
// waits for the network.
func (c *Controller) Send(text string) error {
	target, body := model.SplitAddress(text)
	if strings.TrimSpace(body) == "" {
		return model.ErrEmptyMessage
	}
	if err := model.ValidateText(text); err != nil {
		return err
	}

	c.mu.Lock()
	l, name := c.link, c.account.Name
	c.mu.Unlock()
	if l == nil {
		return model.ErrNotConnected
	}

	frame, err := model.EncodeEvent(model.EventMessage, model.Message{AuthorName: name, Text: text})
	if err != nil {
		return err
	}
	select {
	case <-l.quit:
		return model.ErrNotConnected
	default:
	}
	select {
	case l.outbox <- frame:
	default:
		return errOutboxFull
	}

	c.view.ShowMessage(model.Message{
		AuthorName: name,
		TargetName: target,
		Text:       body,
		Timestamp:  time.Now(),
	})
	return nil
}

// Disconnect tells the server goodbye, closes the connection and waits
// for its goroutines. A Connect in flight is canceled and reports the
// status change itself.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	l := c.link
	c.link = nil
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.mu.Unlock()
	if l == nil {
		return
	}

	l.close()
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * writeTimeout):
		c.logger.Warn("connection goroutines did not stop")
	}
	c.logger.Info("disconnected")
	c.setStatus(model.Disconnected)
}

// lost handles the end of l that nobody asked for. It does nothing if
// Disconnect or a newer Connect already replaced l.
func (c *Controller) lost(l *link, err error) {
	c.mu.Lock()
	current := c.link == l
	if current {
		c.link = nil
	}
	c.mu.Unlock()
	l.close()
	if !current {
		return
	}

	if isExpectedClose(err) {
		c.logger.Info("server closed the connection")
		c.view.ShowNotice("Disconnected from server.")
	} else {
		c.logger.Warn("connection lost", "error", err)
		c.view.ShowError("Connection lost: " + err.Error())
	}
	c.setStatus(model.Disconnected)
}

func (c *Controller) readLoop(l *link) {
	defer l.wg.Done()
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			c.lost(l, err)
			return
		}
		ev, err := model.DecodeEvent(data)
		if err != nil {
			c.logger.Warn("dropping frame", "error", err)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Controller) dispatch(ev model.Event) {
	switch ev.Type {
	case model.EventMessage:
		var msg model.Message
		if err := ev.Decode(&msg); err != nil {
			c.logger.Warn("dropping message", "error", err)
			return
		}
		c.view.ShowMessage(msg)
	case model.EventNotice:
		var notice model.NoticePayload
		if err := ev.Decode(&notice); err != nil {
			c.logger.Warn("dropping notice", "error", err)
			return
		}
		c.view.ShowNotice(notice.Text)
	case model.EventError:
		var payload model.ErrorPayload
		if err := ev.Decode(&payload); err != nil {
			c.logger.Warn("dropping error frame", "error", err)
			return
		}
		c.logger.Debug("server error", "code", payload.Code, "text", payload.Text)
		c.view.ShowError(payload.Text)
	default:
		c.logger.Debug("ignoring frame", "type", ev.Type)
	}
}

// writeLoop is the only writer on l.conn. On quit it flushes the outbox,
// says goodbye and closes the connection, which also ends readLoop.
func (c *Controller) writeLoop(l *link) {
	defer l.wg.Done()
	defer l.conn.Close()
	for {
		select {
		case frame := <-l.outbox:
			if err := c.write(l, frame); err != nil {
				c.logger.Warn("write failed", "error", err)
				l.close()
				return
			}
		case <-l.quit:
		drain:
			for {
				select {
				case frame := <-l.outbox:
					if c.write(l, frame) != nil {
						return
					}
				default:
					break drain
				}
			}
			if bye, err := model.EncodeEvent(model.EventDisconnect, nil); err == nil {
				c.write(l, bye)
			}
			l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

func (c *Controller) write(l *link, frame []byte) error {
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteMessage(websocket.TextMessage, frame)
}

// isExpectedClose reports whether err is a normal connection termination.
func isExpectedClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
