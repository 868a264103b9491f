package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"video-chess/internal/game"
	"video-chess/internal/protocol"
	"video-chess/internal/store"
	"video-chess/internal/task"
)

// Loader is the slice of the durable store the registry reads from.
type Loader interface {
	GetSessionWithMoves(ctx context.Context, id string) (*store.SessionWithMoves, error)
}

// Registry owns the map of live sessions and is their sole mutation
// surface. The registry lock guards only the map; each session carries its
// own lock, acquired after the registry's when both are needed.
type Registry struct {
	loader Loader
	tasks  task.Enqueuer

	live     syncMap
	now      func() time.Time
	tickEach time.Duration
}

func NewRegistry(loader Loader, tasks task.Enqueuer) *Registry {
	return &Registry{
		loader:   loader,
		tasks:    tasks,
		live:     syncMap{sessions: map[string]*Session{}},
		now:      time.Now,
		tickEach: time.Second,
	}
}

// Join attaches a connection to a session, reconstructing it from the
// durable store when it is not already live in this process.
func (r *Registry) Join(ctx context.Context, sessionID string, c Conn) error {
	s, err := r.getOrLoad(ctx, sessionID, c.UserID())
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.status != store.StatusWaiting {
		if _, ok := s.colorOf(c.UserID()); !ok {
			s.mu.Unlock()
			return &StateError{Msg: "You are not a player in this game."}
		}
	}
	s.conns[c] = struct{}{}

	if s.status == store.StatusWaiting {
		switch {
		case s.whiteID == "":
			s.whiteID = c.UserID()
			s.whiteName = c.UserName()
			s.queueTask(task.AssignPlayer{GameID: s.id, UserID: c.UserID(), Color: "w"})
		case s.blackID == "" && s.whiteID != c.UserID():
			s.blackID = c.UserID()
			s.blackName = c.UserName()
			s.queueTask(task.AssignPlayer{GameID: s.id, UserID: c.UserID(), Color: "b"})
		}
		if s.whiteID != "" && s.blackID != "" {
			s.status = store.StatusInProgress
			s.checkpoint = r.now()
			s.queueTask(task.UpdateGameStatus{GameID: s.id, Status: store.StatusInProgress, Reason: "Game started"})
			s.startClock(r)
			log.Info().Str("game_id", s.id).Msg("game_start")
		}
	}

	c.Send(protocol.Outbound{Type: protocol.TypeFullGameState, Payload: s.fullStateLocked()})
	s.broadcast(protocol.Outbound{
		Type:    protocol.TypeUserJoined,
		Payload: protocol.UserJoined{GameID: s.id, UserID: c.UserID(), Name: c.UserName()},
	}, c)

	// Server restart or everyone had left: the game is live again, so the
	// clock must be too.
	if s.status == store.StatusInProgress && s.clock == nil {
		s.checkpoint = r.now()
		s.startClock(r)
	}
	s.mu.Unlock()

	r.flush(ctx, s)
	return nil
}

func (r *Registry) getOrLoad(ctx context.Context, sessionID, userID string) (*Session, error) {
	if s, ok := r.live.get(sessionID); ok {
		return s, nil
	}

	snap, err := r.loader.GetSessionWithMoves(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &StateError{Msg: "Game not found."}
	}
	if err != nil {
		return nil, err
	}
	if snap.Status != store.StatusWaiting {
		white, black := strOf(snap.WhitePlayerID), strOf(snap.BlackPlayerID)
		if userID != white && userID != black {
			return nil, &StateError{Msg: "You are not a player in this game."}
		}
	}

	s := newFromSnapshot(snap)
	var timedOut task.Task
	existing, loaded := r.live.getOrStore(sessionID, func() *Session {
		timedOut = s.recomputeOnLoad(r.now())
		return s
	})
	if loaded {
		return existing, nil
	}
	if timedOut != nil {
		log.Warn().Str("game_id", sessionID).Msg("timeout detected on load")
		s.mu.Lock()
		s.queueTask(timedOut)
		s.mu.Unlock()
		r.flush(ctx, s)
	}
	return s, nil
}

// ApplyMove validates and applies one move for userID. Rejections leave the
// session untouched and enqueue nothing.
func (r *Registry) ApplyMove(ctx context.Context, sessionID, userID, move string) error {
	s, ok := r.live.get(sessionID)
	if !ok {
		return &StateError{Msg: "Game not found in active runtime."}
	}

	s.mu.Lock()
	if s.status != store.StatusInProgress {
		s.mu.Unlock()
		return &StateError{Msg: "Game is not in progress."}
	}
	color, isPlayer := s.colorOf(userID)
	if !isPlayer || color != s.turn {
		s.mu.Unlock()
		return &StateError{Msg: "Not your turn."}
	}

	res, err := game.Apply(s.fen, move)
	if err != nil {
		s.mu.Unlock()
		return &StateError{Msg: "Invalid move."}
	}

	now := r.now()
	elapsed := now.Sub(s.checkpoint).Milliseconds()
	if elapsed > 0 {
		if color == game.White {
			s.whiteLeft -= elapsed
		} else {
			s.blackLeft -= elapsed
		}
	}
	if s.whiteLeft < 0 {
		s.whiteLeft = 0
	}
	if s.blackLeft < 0 {
		s.blackLeft = 0
	}

	s.fen = res.FEN
	s.turn = res.Turn
	s.checkpoint = now
	s.plies++
	number := s.plies/2 + s.plies%2

	s.queueTask(task.CreateMove{
		GameID:        s.id,
		PlayerID:      userID,
		MoveNumber:    number,
		MoveSAN:       res.SAN,
		FENAfterMove:  res.FEN,
		WhiteTimeLeft: s.whiteLeft,
		BlackTimeLeft: s.blackLeft,
		TimestampMS:   now.UnixMilli(),
	})
	s.moves = append(s.moves, protocol.MoveHistoryEntry{
		Number:        number,
		SAN:           res.SAN,
		PlayerID:      userID,
		WhiteTimeLeft: s.whiteLeft,
		BlackTimeLeft: s.blackLeft,
		TimestampMS:   now.UnixMilli(),
	})

	var over *protocol.GameOver
	if res.Over {
		s.stopClockLocked()
		s.status = store.StatusCompleted
		s.winner = res.Winner
		reason := res.Reason
		if res.Winner == "w" || res.Winner == "b" {
			reason = "Checkmate! " + s.sideLabel(game.Color(res.Winner)) + " wins."
		}
		s.queueTask(task.UpdateGameStatus{GameID: s.id, Status: store.StatusCompleted, Winner: res.Winner, Reason: reason})
		over = &protocol.GameOver{GameID: s.id, Winner: res.Winner, Reason: reason}
		log.Info().Str("game_id", s.id).Str("winner", res.Winner).Str("reason", reason).Msg("game_end")
	}

	s.broadcast(protocol.Outbound{Type: protocol.TypeGameStateUpdate, Payload: protocol.GameStateUpdate{
		GameID:        s.id,
		CurrentFEN:    s.fen,
		Turn:          string(s.turn),
		WhiteTimeLeft: s.whiteLeft,
		BlackTimeLeft: s.blackLeft,
		LastMoveSAN:   res.SAN,
		Status:        s.status,
	}}, nil)
	if over != nil {
		s.broadcast(protocol.Outbound{Type: protocol.TypeGameOver, Payload: *over}, nil)
	}
	s.mu.Unlock()

	r.flush(ctx, s)
	return nil
}

// Detach removes a connection from a session. The last detach stops the
// clock and drops the session from the registry; the durable record is
// untouched.
func (r *Registry) Detach(sessionID string, c Conn) {
	r.live.withBoth(sessionID, func(s *Session, remove func()) {
		delete(s.conns, c)
		if len(s.conns) == 0 {
			s.stopClockLocked()
			remove()
			log.Debug().Str("game_id", sessionID).Msg("session released")
			return
		}
		s.broadcast(protocol.Outbound{
			Type:    protocol.TypeUserLeft,
			Payload: protocol.UserLeft{GameID: sessionID, UserID: c.UserID()},
		}, nil)
	})
}

// Relay broadcasts a non-authoritative event (chat, signaling) to every
// connection attached to the session except the sender.
func (r *Registry) Relay(sessionID string, ev protocol.Outbound, sender Conn) bool {
	s, ok := r.live.get(sessionID)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.broadcast(ev, sender)
	s.mu.Unlock()
	return true
}

// Live reports whether the session is currently in the registry.
func (r *Registry) Live(sessionID string) bool {
	_, ok := r.live.get(sessionID)
	return ok
}

// flush drains the session's pending write tasks into the shared queue in
// acceptance order. flushMu serializes concurrent flushers so ordering
// survives; the session lock is never held across the queue I/O.
func (r *Registry) flush(ctx context.Context, s *Session) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		t := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		if err := r.tasks.Enqueue(ctx, t); err != nil {
			log.Error().Err(err).Str("game_id", s.id).Str("kind", string(t.Kind())).Msg("enqueue write task failed")
		}
	}
}
