package model

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Account is what a client presents to connect and log in.
// IP and Port are connection parameters and never go over the wire.
type Account struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	IP       string `json:"-"`
	Port     string `json:"-"`
}

// Addr returns the host:port the account connects to.
func (a Account) Addr() string {
	return net.JoinHostPort(a.IP, a.Port)
}

// Validate checks the fields needed to open a connection and log in.
func (a Account) Validate() error {
	if err := ValidateName(a.Name); err != nil {
		return err
	}
	if strings.TrimSpace(a.IP) == "" {
		return fmt.Errorf("server address is required")
	}
	port, err := strconv.Atoi(a.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", a.Port)
	}
	return nil
}

// MaxNameLength bounds a session name in runes.
const MaxNameLength = 32

// MaxTextLength bounds the raw text of one outgoing message in runes.
const MaxTextLength = 1024

// MaxFrameSize is the default read limit for a frame. It leaves room for a
// message at MaxTextLength where every rune is JSON-escaped to six bytes.
const MaxFrameSize = 64 << 10

// ValidateText reports whether text is short enough to send.
func ValidateText(text string) error {
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return fmt.Errorf("%w: %d characters, limit is %d", ErrMessageTooLong, n, MaxTextLength)
	}
	return nil
}

// ValidateName reports whether name can be used as a session identity.
// Names are non-empty, contain no whitespace and do not start with '@'.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.HasPrefix(name, "@") {
		return fmt.Errorf("%w: name must not start with '@'", ErrInvalidName)
	}
	if len([]rune(name)) > MaxNameLength {
		return fmt.Errorf("%w: name is longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: name contains whitespace or control characters", ErrInvalidName)
		}
	}
	return nil
}

// Message represents a routed chat message.
type Message struct {
	Seq        uint64    `json:"seq,omitempty"`
	AuthorName string    `json:"author_name"`
	TargetName string    `json:"target_name,omitempty"` // empty means broadcast
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
}

// IsPrivate reports whether the message is addressed to a single session.
func (m Message) IsPrivate() bool {
	return m.TargetName != ""
}

// SplitAddress applies the private addressing convention to raw text.
// When the first token is "@name" it returns name and the remainder with
// the separating whitespace removed. Otherwise target is empty and body is
// text unchanged.
func SplitAddress(text string) (target, body string) {
	if !strings.HasPrefix(text, "@") {
		return "", text
	}
	end := strings.IndexFunc(text, unicode.IsSpace)
	if end < 0 {
		end = len(text)
	}
	name := text[1:end]
	if name == "" {
		return "", text
	}
	return name, strings.TrimLeftFunc(text[end:], unicode.IsSpace)
}

// ConnectStatus drives the presentation state of a client.
type ConnectStatus int

const (
	Disconnected ConnectStatus = iota
	Connecting
	Connected
)

func (s ConnectStatus) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("ConnectStatus(%d)", int(s))
	}
}

// EventType represents the type of a frame.
type EventType string

const (
	EventLogin      EventType = "login"
	EventMessage    EventType = "message"
	EventDisconnect EventType = "disconnect"
	EventWelcome    EventType = "welcome"
	EventNotice     EventType = "notice"
	EventError      EventType = "error"
)

// Event is the envelope of every websocket frame.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent wraps payload into an event. A nil payload produces an empty one.
func NewEvent(t EventType, payload any) (Event, error) {
	ev := Event{Type: t}
	if payload == nil {
		return ev, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	ev.Payload = raw
	return ev, nil
}

// EncodeEvent wraps payload and serializes the whole frame.
func EncodeEvent(t EventType, payload any) ([]byte, error) {
	ev, err := NewEvent(t, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}

// DecodeEvent parses one frame.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return ev, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s frame has no payload", ErrMalformedFrame, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, e.Type, err)
	}
	return nil
}

// LoginPayload is the payload of a login frame.
type LoginPayload struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// WelcomePayload acknowledges a login.
type WelcomePayload struct {
	Name   string   `json:"name"`
	Text   string   `json:"text,omitempty"`
	Online []string `json:"online,omitempty"`
}

// NoticePayload carries an operator announcement.
type NoticePayload struct {
	Text string `json:"text"`
}

// ErrorPayload reports a failure to a single client.
type ErrorPayload struct {
	Code ErrorCode `json:"code"`
	Text string    `json:"text"`
}
