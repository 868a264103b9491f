package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"video-chess/internal/game"
	"video-chess/internal/protocol"
	"video-chess/internal/store"
	"video-chess/internal/task"
)

// clock is the cancellable handle of a session's ticking process. At most
// one clock is active per session, and only while the game is in progress.
type clock struct {
	stop chan struct{}
}

// startClock spawns the ticking goroutine. No-op when a clock is already
// active or the session is not in progress. Callers hold s.mu.
func (s *Session) startClock(r *Registry) {
	if s.clock != nil || s.status != store.StatusInProgress {
		return
	}
	c := &clock{stop: make(chan struct{})}
	s.clock = c
	go r.runClock(s, c)
	log.Debug().Str("game_id", s.id).Msg("clock started")
}

// stopClockLocked cancels the active clock, if any. Idempotent. Callers
// hold s.mu.
func (s *Session) stopClockLocked() {
	if s.clock == nil {
		return
	}
	close(s.clock.stop)
	s.clock = nil
	log.Debug().Str("game_id", s.id).Msg("clock stopped")
}

func (r *Registry) runClock(s *Session, c *clock) {
	ticker := time.NewTicker(r.tickEach)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if r.tick(s, c) {
				return
			}
		}
	}
}

// tick recomputes the side-to-move's remaining time from the wall-clock
// delta since the checkpoint. Working from real elapsed time rather than
// tick counts keeps the clock honest under scheduling jitter. Returns true
// when the goroutine should exit.
func (r *Registry) tick(s *Session, c *clock) bool {
	s.mu.Lock()
	if s.clock != c || s.status != store.StatusInProgress {
		s.mu.Unlock()
		return true
	}

	now := r.now()
	elapsed := now.Sub(s.checkpoint).Milliseconds()
	if elapsed > 0 {
		if s.turn == game.White {
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
	s.checkpoint = now

	if s.whiteLeft == 0 || s.blackLeft == 0 {
		winner := game.White
		if s.whiteLeft == 0 {
			winner = game.Black
		}
		reason := s.sideLabel(winner.Opponent()) + "'s time ran out"
		s.status = store.StatusCompleted
		s.winner = string(winner)
		s.stopClockLocked()
		s.queueTask(task.UpdateGameStatus{
			GameID: s.id,
			Status: store.StatusCompleted,
			Winner: string(winner),
			Reason: reason,
		})
		s.broadcast(protocol.Outbound{Type: protocol.TypeGameOver, Payload: protocol.GameOver{
			GameID: s.id,
			Winner: string(winner),
			Reason: reason,
		}}, nil)
		s.mu.Unlock()

		log.Info().Str("game_id", s.id).Str("winner", string(winner)).Msg("game ended on time")
		r.flush(context.Background(), s)
		return true
	}

	s.broadcast(protocol.Outbound{Type: protocol.TypeTimerUpdate, Payload: protocol.TimerUpdate{
		GameID:        s.id,
		WhiteTimeLeft: s.whiteLeft,
		BlackTimeLeft: s.blackLeft,
	}}, nil)
	s.mu.Unlock()
	return false
}
