// Package ws is the websocket edge: it authenticates connections, keeps the
// single-connection-per-user registry, and dispatches inbound commands to
// the session registry and the matchmaking engine.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"video-chess/internal/auth"
	"video-chess/internal/protocol"
	"video-chess/internal/session"
)

// Games is the slice of the session registry the edge drives.
type Games interface {
	Join(ctx context.Context, sessionID string, c session.Conn) error
	ApplyMove(ctx context.Context, sessionID, userID, move string) error
	Detach(sessionID string, c session.Conn)
	Relay(sessionID string, ev protocol.Outbound, sender session.Conn) bool
}

// Matchmaker is the slice of the matchmaking engine the edge drives.
type Matchmaker interface {
	Enqueue(ctx context.Context, userID string, timeControl int) error
	Forget(ctx context.Context, userID string)
}

// Users records authenticated identities in the durable store.
type Users interface {
	UpsertUser(ctx context.Context, id, name string, guest bool) error
}

type Server struct {
	verifier *auth.Verifier
	users    Users
	games    Games
	match    Matchmaker
	upgrader websocket.Upgrader

	mu     sync.Mutex
	byUser map[string]*Client
}

func NewServer(verifier *auth.Verifier, users Users, games Games) *Server {
	return &Server{
		verifier: verifier,
		users:    users,
		games:    games,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		byUser:   map[string]*Client{},
	}
}

// SetMatchmaker wires the matchmaking engine in after construction; the
// engine itself needs this server as its presence source. Must be called
// before serving.
func (s *Server) SetMatchmaker(m Matchmaker) { s.match = m }

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	identity, err := s.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket auth failed")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"))
		_ = conn.Close()
		return
	}

	if err := s.users.UpsertUser(r.Context(), identity.ID, identity.Name, identity.Guest); err != nil {
		log.Error().Err(err).Str("user_id", identity.ID).Msg("user upsert failed")
	}

	c := &Client{conn: conn, send: make(chan []byte, 32), identity: identity}
	s.register(c)
	c.Send(protocol.Outbound{Type: protocol.TypeConnectionAck, Payload: protocol.ConnectionAck{
		Message: "Connected as " + identity.Name,
	}})
	log.Info().Str("user_id", identity.ID).Bool("guest", identity.Guest).Msg("websocket connected")

	go s.writeLoop(c)
	s.readLoop(c)
}

// register makes c the user's single live connection; a previous one is
// closed and its read loop unwinds through unregister on its own.
func (s *Server) register(c *Client) {
	s.mu.Lock()
	old := s.byUser[c.identity.ID]
	s.byUser[c.identity.ID] = c
	s.mu.Unlock()

	if old != nil {
		log.Debug().Str("user_id", c.identity.ID).Msg("evicting previous connection")
		old.close()
	}
}

// unregister drops c from the registry only while it is still the user's
// current connection, so an evicted connection cannot knock out its
// replacement.
func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	if s.byUser[c.identity.ID] == c {
		delete(s.byUser, c.identity.ID)
	}
	s.mu.Unlock()

	s.match.Forget(context.Background(), c.identity.ID)
	if c.gameID != "" {
		s.games.Detach(c.gameID, c)
	}
	safeClose(c.send)
	log.Info().Str("user_id", c.identity.ID).Msg("websocket disconnected")
}

func (s *Server) readLoop(c *Client) {
	defer func() {
		s.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(c, msg)
	}
}

func (s *Server) writeLoop(c *Client) {
	for msg := range c.send {
		_ = c.conn.WriteMessage(websocket.TextMessage, msg)
	}
	_ = c.conn.Close()
}

func (s *Server) dispatch(c *Client, msg []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.sendError("Invalid message.")
		return
	}
	ctx := context.Background()

	switch env.Type {
	case protocol.TypeJoinGame:
		var p protocol.JoinGame
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.GameID == "" {
			c.sendError("Invalid payload.")
			return
		}
		if !s.fromSelf(c, p.UserID) {
			return
		}
		if c.gameID != "" && c.gameID != p.GameID {
			s.games.Detach(c.gameID, c)
			c.gameID = ""
		}
		if err := s.games.Join(ctx, p.GameID, c); err != nil {
			s.reportError(c, err)
			return
		}
		c.gameID = p.GameID

	case protocol.TypeMakeMove:
		var p protocol.MakeMove
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.GameID == "" || p.Move == "" {
			c.sendError("Invalid payload.")
			return
		}
		if !s.fromSelf(c, p.UserID) {
			return
		}
		if err := s.games.ApplyMove(ctx, p.GameID, c.identity.ID, p.Move); err != nil {
			s.reportError(c, err)
		}

	case protocol.TypeFindMatch:
		var p protocol.FindMatch
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.TimeControl <= 0 {
			c.sendError("Invalid payload.")
			return
		}
		if !s.fromSelf(c, p.UserID) {
			return
		}
		if err := s.match.Enqueue(ctx, c.identity.ID, p.TimeControl); err != nil {
			log.Error().Err(err).Str("user_id", c.identity.ID).Msg("matchmaking enqueue failed")
			c.sendError("Could not join matchmaking.")
		}

	case protocol.TypeChatMessage:
		var p protocol.Chat
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.sendError("Invalid payload.")
			return
		}
		if !s.fromSelf(c, p.UserID) {
			return
		}
		gameID := p.GameID
		if gameID == "" {
			gameID = c.gameID
		}
		// Sender identity is authoritative regardless of the payload.
		s.games.Relay(gameID, protocol.Outbound{Type: protocol.TypeChatMessage, Payload: protocol.Chat{
			GameID:  gameID,
			Message: p.Message,
			Name:    c.identity.Name,
			UserID:  c.identity.ID,
		}}, c)

	default:
		if protocol.IsSignaling(env.Type) {
			s.relaySignal(c, env)
			return
		}
		c.sendError("Unknown message type.")
	}
}

// relaySignal forwards an opaque signaling payload to the session's other
// connections, stamping the sender's identity into it.
func (s *Server) relaySignal(c *Client, env protocol.Envelope) {
	payload := map[string]any{}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.sendError("Invalid payload.")
			return
		}
	}
	payload["userId"] = c.identity.ID

	gameID, _ := payload["gameId"].(string)
	if gameID == "" {
		gameID = c.gameID
	}
	if gameID == "" {
		return
	}
	s.games.Relay(gameID, protocol.Outbound{Type: env.Type, Payload: payload}, c)
}

// fromSelf drops commands whose payload claims a different identity than
// the authenticated connection.
func (s *Server) fromSelf(c *Client, claimed string) bool {
	if claimed == "" || claimed == c.identity.ID {
		return true
	}
	log.Warn().Str("user_id", c.identity.ID).Str("claimed", claimed).Msg("identity mismatch, command dropped")
	return false
}

func (s *Server) reportError(c *Client, err error) {
	var se *session.StateError
	if errors.As(err, &se) {
		c.sendError(se.Msg)
		return
	}
	log.Error().Err(err).Str("user_id", c.identity.ID).Msg("command failed")
	c.sendError("Internal error.")
}

// Connected reports whether userID has a live connection on this process.
func (s *Server) Connected(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byUser[userID]
	if !ok {
		return "", false
	}
	return c.identity.Name, true
}

// Deliver sends an event to userID's live connection, if any.
func (s *Server) Deliver(userID string, ev protocol.Outbound) bool {
	s.mu.Lock()
	c, ok := s.byUser[userID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return c.Send(ev)
}
