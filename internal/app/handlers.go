package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

const reasonNoRoom = "Room does not exist"

var (
	errNotInRoom    = &protocol.Error{Text: "Not in a room"}
	errJoinThrottle = &protocol.Error{Text: "Too many room joins"}
)

// Handler routes one decoded message into the addressed room. Returning a
// *protocol.Error answers the sender with an error message.
type Handler func(ctx context.Context, s *Session, env *protocol.Envelope) error

// Handle registers h for a message type. A later registration for the same
// type replaces the earlier one.
func (h *Hub) Handle(msgType string, handler Handler) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[msgType] = handler
}

func (h *Hub) handler(msgType string) (Handler, bool) {
	h.handlersMu.RLock()
	defer h.handlersMu.RUnlock()
	handler, ok := h.handlers[msgType]
	return handler, ok
}

func (h *Hub) registerDefaultHandlers() {
	h.Handle(protocol.TypeRoomJoin, h.handleRoomJoin)
	h.Handle(protocol.TypeRoomCreate, h.handleRoomCreate)
	h.Handle(protocol.TypeClientSetName, h.handleSetName)
	h.Handle(protocol.TypeTextMessage, h.handleTextMessage)
	h.Handle(protocol.TypeState, h.handleState)
	h.Handle(protocol.TypeKeySet, h.handleKeySet)
	h.Handle(protocol.TypeKeyDelete, h.handleKeyDelete)
}

// Dispatch decodes one inbound frame and routes it. Protocol errors go back
// to s as an error message and never end the session.
func (h *Hub) Dispatch(ctx context.Context, s *Session, data []byte) {
	err := h.dispatch(ctx, s, data)
	if err == nil {
		return
	}
	h.metrics.ProtocolErrors.Inc()
	pe, ok := protocol.AsError(err)
	if !ok {
		log.Error().Err(err).Str("module", "app.dispatch").Stringer("client_id", s.ID()).Msg("handler failed")
		pe = protocol.ErrMalformed
	}
	log.Debug().Str("module", "app.dispatch").Stringer("client_id", s.ID()).Str("error", pe.Text).Msg("bad message")
	s.Enqueue(protocol.NewError(pe.Text))
}

func (h *Hub) dispatch(ctx context.Context, s *Session, data []byte) error {
	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	ctx, span := h.tracer.Start(ctx, "hub.dispatch", trace.WithAttributes(
		attribute.String("message.type", env.Type),
		attribute.Int64("client.id", int64(s.ID())),
	))
	defer span.End()

	handler, ok := h.handler(env.Type)
	if !ok {
		err = protocol.UnknownType(env.Type)
	} else {
		h.metrics.MessagesReceived.WithLabelValues(env.Type).Inc()
		err = handler(ctx, s, env)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func roomJoinFailed(name domain.RoomName) protocol.RoomJoinFailed {
	return protocol.NewRoomJoinFailed(name, reasonNoRoom)
}

func (h *Hub) handleRoomJoin(_ context.Context, s *Session, env *protocol.Envelope) error {
	name, err := env.String("room-name")
	if err != nil {
		return err
	}
	username, _, err := env.OptionalString("username")
	if err != nil {
		return err
	}
	if username != "" {
		if err := domain.ValidateUsername(username); err != nil {
			return protocol.BadField("username")
		}
	}
	if !h.joins.Allow(s.ID()) {
		return errJoinThrottle
	}
	// room-join-failed is already queued; nothing else to report.
	_ = h.JoinRoom(s, domain.RoomName(name), username)
	return nil
}

func (h *Hub) handleRoomCreate(ctx context.Context, s *Session, env *protocol.Envelope) error {
	name, err := env.String("room-name")
	if err != nil {
		return err
	}
	if name == "" {
		return protocol.BadField("room-name")
	}
	h.CreateRoom(ctx, domain.RoomName(name), false)
	s.Enqueue(protocol.NewRoomCreated(domain.RoomName(name)))
	return nil
}

func (h *Hub) handleSetName(_ context.Context, s *Session, env *protocol.Envelope) error {
	username, err := env.String("username")
	if err != nil {
		return err
	}
	if err := domain.ValidateUsername(username); err != nil {
		return protocol.BadField("username")
	}
	s.setName(username)
	if room := s.Room(); room != nil {
		room.Broadcast(protocol.NewClientSetName(s.ID(), username))
	}
	return nil
}

func (h *Hub) handleTextMessage(_ context.Context, s *Session, env *protocol.Envelope) error {
	text, err := env.String("text")
	if err != nil {
		return err
	}
	room, err := currentRoom(s)
	if err != nil {
		return err
	}
	room.Broadcast(protocol.NewTextMessage(s.dto(), text), s.ID())
	return nil
}

func (h *Hub) handleState(_ context.Context, s *Session, env *protocol.Envelope) error {
	raw, err := env.Raw("state")
	if err != nil {
		return err
	}
	room, err := currentRoom(s)
	if err != nil {
		return err
	}
	room.ForceSetState(raw, s.ID())
	return nil
}

func (h *Hub) handleKeySet(_ context.Context, s *Session, env *protocol.Envelope) error {
	key, err := env.String("key")
	if err != nil {
		return err
	}
	value, err := env.Raw("value")
	if err != nil {
		return err
	}
	room, err := currentRoom(s)
	if err != nil {
		return err
	}
	room.SetKey(s.ID(), key, value)
	return nil
}

func (h *Hub) handleKeyDelete(_ context.Context, s *Session, env *protocol.Envelope) error {
	key, err := env.String("key")
	if err != nil {
		return err
	}
	room, err := currentRoom(s)
	if err != nil {
		return err
	}
	room.DeleteKey(s.ID(), key)
	return nil
}

func currentRoom(s *Session) (*core.Room, error) {
	room := s.Room()
	if room == nil {
		return nil, errNotInRoom
	}
	return room, nil
}
