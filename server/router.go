package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/demonid/chatline/model"
)

// Router delivers messages to the sessions in a Registry.
//
// The author never receives its own message from the server: clients
// echo what they send, so the sender still sees exactly one copy.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
	seq      atomic.Uint64
}

func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Delivery summarizes one routed message.
type Delivery struct {
	Message   model.Message
	Delivered []string
	Failed    []string
}

// Route parses raw text from author and delivers it. Unknown targets and
// empty bodies are reported to the author only; the returned error is for
// logging and never means the router itself failed.
func (r *Router) Route(author *Session, raw string) (Delivery, error) {
	target, body := model.SplitAddress(raw)
	if strings.TrimSpace(body) == "" {
		r.reject(author, model.CodeEmptyMessage, "Nothing to send.")
		return Delivery{}, model.ErrEmptyMessage
	}

	msg := model.Message{
		Seq:        r.seq.Add(1),
		AuthorName: author.Name(),
		TargetName: target,
		Text:       body,
		Timestamp:  r.now().UTC(),
	}
	delivery := Delivery{Message: msg}

	frame, err := model.EncodeEvent(model.EventMessage, msg)
	if err != nil {
		return delivery, err
	}

	if !msg.IsPrivate() {
		for _, recipient := range r.registry.Snapshot() {
			if recipient == author {
				continue
			}
			r.deliver(recipient, frame, &delivery)
		}
		return delivery, nil
	}

	recipient, ok := r.registry.Lookup(target)
	if !ok {
		r.reject(author, model.CodeUnknownTarget, fmt.Sprintf("User %s is not connected.", target))
		return delivery, fmt.Errorf("%w: %s", model.ErrUnknownTarget, target)
	}
	if recipient == author {
		return delivery, nil
	}
	r.deliver(recipient, frame, &delivery)
	if len(delivery.Failed) > 0 {
		// The target is on its way out; from the author's side it is gone.
		r.reject(author, model.CodeUnknownTarget, fmt.Sprintf("User %s is not connected.", target))
		return delivery, fmt.Errorf("%w: %s", model.ErrUnknownTarget, target)
	}
	return delivery, nil
}

// deliver writes frame to one recipient. A failing recipient is closed;
// its own connection goroutine unregisters it.
func (r *Router) deliver(recipient *Session, frame []byte, delivery *Delivery) {
	name := recipient.Name()
	if err := recipient.Deliver(frame); err != nil {
		delivery.Failed = append(delivery.Failed, name)
		if !errors.Is(err, errSessionClosed) {
			r.logger.Warn("delivery failed, closing session", "name", name, "error", err)
			recipient.Close()
		}
		return
	}
	delivery.Delivered = append(delivery.Delivered, name)
}

func (r *Router) reject(author *Session, code model.ErrorCode, text string) {
	if err := author.DeliverEvent(model.EventError, model.ErrorPayload{Code: code, Text: text}); err != nil {
		r.logger.Debug("could not report error to author", "name", author.Name(), "code", code, "error", err)
	}
}

// Notice sends an operator announcement to every session and returns the
// number of sessions that accepted it.
func (r *Router) Notice(text string) int {
	frame, err := model.EncodeEvent(model.EventNotice, model.NoticePayload{Text: text})
	if err != nil {
		r.logger.Error("encoding notice", "error", err)
		return 0
	}
	var delivery Delivery
	for _, recipient := range r.registry.Snapshot() {
		r.deliver(recipient, frame, &delivery)
	}
	return len(delivery.Delivered)
}
