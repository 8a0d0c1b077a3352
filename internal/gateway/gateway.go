// Package gateway implements the Session Gateway (spec.md §4.7): it owns
// the per-client WebSocket event loop, binds identity to a Connection
// Registry handle, drains the Inbox Cache on reconnect, and routes
// inbound transport events to Ingress and Delivery Ack. Grounded on
// ceyewan-resonance's gateway/connection/conn.go for the read/write pump
// shape (ping ticker, read deadline refreshed by pong, single writer
// goroutine reading off a buffered channel) and on gorilla/websocket,
// the transport that repo and the (deleted) teacher ws handler share.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webitel/chat-delivery-service/internal/ack"
	"github.com/webitel/chat-delivery-service/internal/apperr"
	"github.com/webitel/chat-delivery-service/internal/cache"
	"github.com/webitel/chat-delivery-service/internal/domain/model"
	"github.com/webitel/chat-delivery-service/internal/ingress"
	"github.com/webitel/chat-delivery-service/internal/registry"
	"github.com/webitel/chat-delivery-service/internal/store"
	"github.com/webitel/chat-delivery-service/internal/telemetry"
)

const (
	writeBufferedEvents = 256
	sendTimeout         = 5 * time.Second
	pingInterval        = 30 * time.Second
	pongTimeout         = 60 * time.Second
	maxMessageBytes     = 64 * 1024
)

// sessionState mirrors spec.md §4.7's per-session state machine. It is
// recorded on the session at bind and at teardown, and no code path reads
// it; the pump goroutines are the actual source of truth for whether a
// session is live.
type sessionState int32

const (
	stateConnecting sessionState = iota
	stateBound
	stateDraining
	stateClosed
)

// Gateway upgrades HTTP connections to WebSocket sessions and wires each
// one to the registry, inbox cache, message store, ingress, and ack
// services spec.md §4.7 names.
type Gateway struct {
	auth     Authenticator
	registry registry.Registry
	cache    cache.InboxCache
	store    store.Store
	ingress  ingress.Ingress
	ack      ack.Ack
	logger   *slog.Logger
	upgrader websocket.Upgrader
	serverID string
}

func New(auth Authenticator, reg registry.Registry, c cache.InboxCache, s store.Store, in ingress.Ingress, ak ack.Ack, logger *slog.Logger, serverID string) *Gateway {
	return &Gateway{
		auth:     auth,
		registry: reg,
		cache:    c,
		store:    s,
		ingress:  in,
		ack:      ak,
		logger:   logger,
		serverID: serverID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP is the upgrade endpoint. A missing identity transitions
// straight to Closed and releases the transport, per spec.md §4.7.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.auth.Authenticate(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("gateway: websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	g.bind(userID, conn)
}

// bind implements the Connecting → Bound transition and starts the
// session's read/write pumps.
func (g *Gateway) bind(userID string, wsConn *websocket.Conn) {
	connHandle := registry.NewConnector(context.Background(), userID, writeBufferedEvents)

	sess := &session{
		state:   stateBound,
		userID:  userID,
		conn:    wsConn,
		handle:  connHandle,
		gateway: g,
	}

	if evicted, hadPrior := g.registry.Add(userID, connHandle); hadPrior {
		g.logger.Info("gateway: evicting prior session for user", "user_id", userID)
		evicted.Close()
	}

	if err := g.cache.SetUserConnection(context.Background(), userID, g.serverID); err != nil {
		g.logger.Error("gateway: failed to record presence", "user_id", userID, "error", err)
	}

	go sess.writePump()
	go sess.readPump()

	sess.drain()
}

// SendToUser implements the Dispatcher's Gateway contract (spec.md
// §4.7): true iff a local session exists and the emit was attempted.
func (g *Gateway) SendToUser(userID string, ev model.Eventer) bool {
	handle, ok := g.registry.HandleOf(userID)
	if !ok {
		return false
	}
	return handle.Send(ev, sendTimeout)
}

// session is one bound client connection.
type session struct {
	state        sessionState
	userID       string
	conn         *websocket.Conn
	handle       registry.Connector
	gateway      *Gateway
	teardownOnce sync.Once
}

// drain implements spec.md §4.7's reconnect drain: fetch the inbox,
// re-fetch each message from the store, and emit without waiting for
// acks. Per-id failures are logged and skipped, leaving the id in the
// inbox for a future drain.
func (s *session) drain() {
	ctx, span := telemetry.StartSpan(context.Background(), "gateway.drain")
	defer span.End()

	ids, err := s.gateway.cache.GetInbox(ctx, s.userID)
	if err != nil {
		s.gateway.logger.Error("gateway: inbox drain failed", "user_id", s.userID, "error", err)
		return
	}

	for _, id := range ids {
		msg, err := s.gateway.store.FindByID(ctx, id)
		if err != nil {
			s.gateway.logger.Warn("gateway: drain skipped missing message", "user_id", s.userID, "message_id", id, "error", err)
			continue
		}
		ev := model.NewIncomingMessageEvent(s.userID, model.IncomingMessagePayload{
			MessageID: msg.MessageID,
			SenderID:  msg.SenderID,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})
		if !s.handle.Send(ev, sendTimeout) {
			s.gateway.logger.Warn("gateway: drain emit failed, id remains pending", "user_id", s.userID, "message_id", id)
		}
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.teardown("write pump exit")
	}()

	for {
		select {
		case ev, ok := <-s.handle.Recv():
			if !ok {
				return
			}
			frame := encodeEvent(ev)
			if frame == nil {
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.gateway.logger.Warn("gateway: write failed", "user_id", s.userID, "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.handle.Done():
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *session) readPump() {
	defer s.teardown("read pump exit")

	s.conn.SetReadLimit(maxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.gateway.logger.Warn("gateway: unexpected close", "user_id", s.userID, "error", err)
			}
			return
		}
		s.handleFrame(data)
	}
}

// handleFrame implements spec.md §4.7's inbound event routing.
func (s *session) handleFrame(data []byte) {
	env, err := decodeInbound(data)
	if err != nil {
		s.writeError("malformed frame")
		return
	}

	ctx, span := telemetry.StartSpan(context.Background(), "gateway.handleFrame")
	defer span.End()

	switch env.Type {
	case inboundSendMessage:
		res, err := s.gateway.ingress.Send(ctx, s.userID, env.ReceiverID, env.Content, env.Timestamp, env.MessageIDByClient)
		if err != nil {
			s.writeError(errorMessage(err))
			return
		}
		ev := model.NewMessageReceivedEvent(s.userID, model.MessageReceivedPayload{
			MessageID:         res.MessageID,
			MessageIDByClient: res.MessageIDByClient,
			Timestamp:         res.Timestamp.UnixMilli(),
		})
		s.handle.Send(ev, sendTimeout)

	case inboundMessageDelivered:
		if err := s.gateway.ack.Acknowledge(ctx, s.userID, env.MessageID); err != nil {
			s.gateway.logger.Warn("gateway: delivery ack failed", "user_id", s.userID, "message_id", env.MessageID, "error", err)
		}

	default:
		s.writeError("unknown event type")
	}
}

// writeError enqueues an error frame on the same single-writer channel
// the write pump drains, so it never races a concurrent Dispatcher-driven
// write on the same connection.
func (s *session) writeError(message string) {
	s.handle.Send(model.NewErrorEvent(s.userID, message), sendTimeout)
}

// teardown implements the Bound → Draining → Closed transition (spec.md
// §4.7): any in-flight Ingress calls are left to complete since their
// durable effects are already committed.
func (s *session) teardown(reason string) {
	s.teardownOnce.Do(func() {
		s.state = stateClosed
		s.handle.Close()
		s.gateway.registry.Remove(s.userID, s.handle.GetID())
		if err := s.gateway.cache.RemoveUserConnection(context.Background(), s.userID); err != nil {
			s.gateway.logger.Error("gateway: failed to clear presence", "user_id", s.userID, "error", err)
		}
		_ = s.conn.Close()
		s.gateway.logger.Debug("gateway: session closed", "user_id", s.userID, "reason", reason)
	})
}

func encodeEvent(ev model.Eventer) []byte {
	switch p := ev.GetPayload().(type) {
	case model.IncomingMessagePayload:
		return encodeIncomingMessage(p.MessageID, p.SenderID, p.Content, p.Timestamp)
	case model.MessageReceivedPayload:
		return encodeMessageReceived(p.MessageID, p.MessageIDByClient, p.Timestamp)
	case model.ErrorPayload:
		return encodeError(p.Message)
	default:
		return nil
	}
}

func errorMessage(err error) string {
	if apperr.CodeOf(err) == apperr.CodeValidation {
		return err.Error()
	}
	return "send failed"
}
