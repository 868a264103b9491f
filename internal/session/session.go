// Package session holds the in-memory runtime of live games. A session
// exists in the registry only while at least one connection is attached;
// otherwise it is reconstructed on demand from the durable store. All
// mutation of a session funnels through the registry's handful of entry
// points, serialized by a per-session lock.
package session

import (
	"sync"
	"time"

	"video-chess/internal/game"
	"video-chess/internal/protocol"
	"video-chess/internal/store"
	"video-chess/internal/task"
)

// Conn is the attachment point for one live connection. Send must never
// block; slow consumers drop events.
type Conn interface {
	UserID() string
	UserName() string
	Send(ev protocol.Outbound) bool
}

// StateError is a game-state rejection: unknown session, not your turn,
// illegal move, session not joinable. It is reported to the originating
// connection only and never mutates the session.
type StateError struct {
	Msg string
}

func (e *StateError) Error() string { return e.Msg }

// Session is the runtime state of one game. All fields are guarded by mu
// except pending's drain, which flushMu serializes (see registry.flush).
type Session struct {
	mu sync.Mutex

	id          string
	conns       map[Conn]struct{}
	fen         string
	turn        game.Color
	status      string
	winner      string
	whiteID     string
	blackID     string
	whiteName   string
	blackName   string
	timeControl int
	whiteLeft   int64 // ms, never negative
	blackLeft   int64
	checkpoint  time.Time
	plies       int
	moves       []protocol.MoveHistoryEntry

	clock *clock

	flushMu sync.Mutex
	pending []task.Task
}

func strOf(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func newFromSnapshot(snap *store.SessionWithMoves) *Session {
	s := &Session{
		id:          snap.ID,
		conns:       map[Conn]struct{}{},
		fen:         snap.CurrentFEN,
		turn:        game.Color(snap.Turn),
		status:      snap.Status,
		whiteID:     strOf(snap.WhitePlayerID),
		blackID:     strOf(snap.BlackPlayerID),
		whiteName:   strOf(snap.WhitePlayerName),
		blackName:   strOf(snap.BlackPlayerName),
		timeControl: snap.TimeControl,
		whiteLeft:   snap.WhiteTimeLeft,
		blackLeft:   snap.BlackTimeLeft,
		checkpoint:  snap.LastMoveTimestamp,
	}
	if s.turn != game.Black {
		s.turn = game.White
	}
	if snap.WinnerID != nil {
		switch {
		case snap.WhitePlayerID != nil && *snap.WinnerID == *snap.WhitePlayerID:
			s.winner = "w"
		case snap.BlackPlayerID != nil && *snap.WinnerID == *snap.BlackPlayerID:
			s.winner = "b"
		}
	} else if snap.Status == store.StatusCompleted {
		s.winner = "draw"
	}
	for _, m := range snap.Moves {
		s.moves = append(s.moves, protocol.MoveHistoryEntry{
			Number:        m.MoveNumber,
			SAN:           m.MoveSAN,
			PlayerID:      m.PlayerID,
			PlayerName:    m.PlayerName,
			WhiteTimeLeft: m.WhiteTimeLeft,
			BlackTimeLeft: m.BlackTimeLeft,
			TimestampMS:   m.Timestamp.UnixMilli(),
		})
	}
	s.plies = len(snap.Moves)
	return s
}

// recomputeOnLoad debits the side to move for the wall-clock time elapsed
// since the durable checkpoint. When that empties a clock the session is
// finalized immediately and the corresponding status task is returned for
// the caller to enqueue.
func (s *Session) recomputeOnLoad(now time.Time) task.Task {
	if s.status != store.StatusInProgress {
		return nil
	}
	elapsed := now.Sub(s.checkpoint).Milliseconds()
	if elapsed > 0 {
		if s.turn == game.White {
			s.whiteLeft -= elapsed
		} else {
			s.blackLeft -= elapsed
		}
	}
	s.checkpoint = now

	var t task.Task
	if s.whiteLeft <= 0 || s.blackLeft <= 0 {
		winner := game.White
		if s.whiteLeft <= 0 {
			winner = game.Black
		}
		s.status = store.StatusCompleted
		s.winner = string(winner)
		t = task.UpdateGameStatus{
			GameID: s.id,
			Status: store.StatusCompleted,
			Winner: string(winner),
			Reason: s.sideLabel(winner.Opponent()) + "'s time ran out",
		}
	}
	if s.whiteLeft < 0 {
		s.whiteLeft = 0
	}
	if s.blackLeft < 0 {
		s.blackLeft = 0
	}
	return t
}

func (s *Session) sideLabel(c game.Color) string {
	if c == game.White {
		if s.whiteName != "" {
			return s.whiteName
		}
		if s.whiteID != "" {
			return s.whiteID
		}
		return "White"
	}
	if s.blackName != "" {
		return s.blackName
	}
	if s.blackID != "" {
		return s.blackID
	}
	return "Black"
}

func (s *Session) colorOf(userID string) (game.Color, bool) {
	switch userID {
	case "":
		return "", false
	case s.whiteID:
		return game.White, true
	case s.blackID:
		return game.Black, true
	}
	return "", false
}

// queueTask records a write task in acceptance order; callers flush after
// releasing the session lock.
func (s *Session) queueTask(t task.Task) {
	s.pending = append(s.pending, t)
}

// broadcast sends an event to every attached connection except skip.
// Callers hold s.mu; sends are non-blocking.
func (s *Session) broadcast(ev protocol.Outbound, skip Conn) {
	for c := range s.conns {
		if c != skip {
			c.Send(ev)
		}
	}
}

func (s *Session) fullStateLocked() protocol.FullGameState {
	moves := make([]protocol.MoveHistoryEntry, len(s.moves))
	copy(moves, s.moves)
	return protocol.FullGameState{
		ID:                s.id,
		FEN:               s.fen,
		Turn:              string(s.turn),
		WhitePlayerID:     s.whiteID,
		BlackPlayerID:     s.blackID,
		WhitePlayerName:   s.whiteName,
		BlackPlayerName:   s.blackName,
		Status:            s.status,
		Winner:            s.winner,
		TimeControl:       s.timeControl,
		WhiteTimeLeft:     s.whiteLeft,
		BlackTimeLeft:     s.blackLeft,
		LastMoveTimestamp: s.checkpoint.UnixMilli(),
		Moves:             moves,
	}
}
