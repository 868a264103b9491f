// Package pump drains the write-behind log into the durable store. A single
// consumer processes one task at a time, which together with the queue's
// FIFO order guarantees per-session tasks reach the store in the order they
// were accepted.
package pump

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"video-chess/internal/game"
	"video-chess/internal/queue"
	"video-chess/internal/store"
	"video-chess/internal/task"
)

// Store is the slice of the durable store the pump writes to.
type Store interface {
	RecordMove(ctx context.Context, m store.MoveRecord) error
	UpdateStatus(ctx context.Context, gameID, status string, winnerID, pgn *string, zeroWhiteClock, zeroBlackClock bool) error
	AssignColor(ctx context.Context, gameID, userID, color string) error
	CreateMatchedSession(ctx context.Context, id, whitePlayerID, blackPlayerID string, timeControl int, initialTimeMS int64) error
	SessionPlayers(ctx context.Context, gameID string) (whiteID, blackID *string, err error)
	MoveSANs(ctx context.Context, gameID string) ([]string, error)
}

// Queues is the slice of the shared queue client the pump uses.
type Queues interface {
	Pop(ctx context.Context, name string) (string, error)
	Push(ctx context.Context, name string, values ...string) error
}

type Pump struct {
	queues Queues
	store  Store
	idle   time.Duration
}

func New(queues Queues, st Store, idle time.Duration) *Pump {
	if idle <= 0 {
		idle = 500 * time.Millisecond
	}
	return &Pump{queues: queues, store: st, idle: idle}
}

// Run drains the write queue until ctx is cancelled. A successful task is
// followed immediately by the next pop; an empty queue waits the idle
// interval; a failed task is parked on the dead-letter list and the loop
// backs off for twice the idle interval.
func (p *Pump) Run(ctx context.Context) {
	log.Info().Dur("idle", p.idle).Msg("persistence pump started")
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.ProcessOne(ctx)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("write task failed")
			if !sleep(ctx, 2*p.idle) {
				return
			}
		case !processed:
			if !sleep(ctx, p.idle) {
				return
			}
		}
	}
}

// ProcessOne pops and applies a single task. It reports whether a task was
// present. The pop is destructive: a task that fails to apply is not
// retried in place but pushed to the dead-letter list for inspection.
func (p *Pump) ProcessOne(ctx context.Context) (bool, error) {
	raw, err := p.queues.Pop(ctx, queue.WriteQueue)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pop write queue: %w", err)
	}

	t, err := task.Decode([]byte(raw))
	if err != nil {
		p.deadLetter(ctx, raw)
		return true, err
	}
	if err := p.apply(ctx, t); err != nil {
		p.deadLetter(ctx, raw)
		return true, fmt.Errorf("apply %s: %w", t.Kind(), err)
	}
	return true, nil
}

func (p *Pump) deadLetter(ctx context.Context, raw string) {
	if err := p.queues.Push(ctx, queue.DeadLetterQueue, raw); err != nil {
		log.Error().Err(err).Msg("dead-letter push failed; task lost")
	}
}

func (p *Pump) apply(ctx context.Context, t task.Task) error {
	switch t := t.(type) {
	case task.CreateMove:
		err := p.store.RecordMove(ctx, store.MoveRecord{
			GameID:        t.GameID,
			PlayerID:      t.PlayerID,
			MoveNumber:    t.MoveNumber,
			MoveSAN:       t.MoveSAN,
			FENAfterMove:  t.FENAfterMove,
			WhiteTimeLeft: t.WhiteTimeLeft,
			BlackTimeLeft: t.BlackTimeLeft,
			Timestamp:     time.UnixMilli(t.TimestampMS),
		})
		if err == nil {
			log.Debug().Str("game_id", t.GameID).Int("move", t.MoveNumber).Msg("move persisted")
		}
		return err
	case task.UpdateGameStatus:
		return p.applyStatus(ctx, t)
	case task.AssignPlayer:
		return p.store.AssignColor(ctx, t.GameID, t.UserID, t.Color)
	case task.CreateMatchedGame:
		return p.store.CreateMatchedSession(ctx, t.GameID, t.WhitePlayerID, t.BlackPlayerID, t.TimeControl, t.InitialTimeMS)
	default:
		return fmt.Errorf("unhandled task kind %q", t.Kind())
	}
}

func (p *Pump) applyStatus(ctx context.Context, t task.UpdateGameStatus) error {
	var winnerID *string
	if t.Winner == "w" || t.Winner == "b" {
		whiteID, blackID, err := p.store.SessionPlayers(ctx, t.GameID)
		if err != nil {
			return fmt.Errorf("resolve winner: %w", err)
		}
		if t.Winner == "w" {
			winnerID = whiteID
		} else {
			winnerID = blackID
		}
	}

	// Regenerate the full move text once a game completes so the record is
	// readable without replaying the moves table.
	var pgn *string
	if t.Status == store.StatusCompleted {
		sans, err := p.store.MoveSANs(ctx, t.GameID)
		if err != nil {
			log.Error().Err(err).Str("game_id", t.GameID).Msg("pgn rebuild failed")
		} else if len(sans) > 0 {
			text := game.PGN(sans)
			pgn = &text
		}
	}

	// A flag fall means the loser's clock reached zero; pin the stored
	// value there so reloads cannot resurrect a stale remainder.
	timeout := strings.Contains(t.Reason, "time ran out")
	zeroWhite := timeout && t.Winner == "b"
	zeroBlack := timeout && t.Winner == "w"
	if err := p.store.UpdateStatus(ctx, t.GameID, t.Status, winnerID, pgn, zeroWhite, zeroBlack); err != nil {
		return err
	}
	log.Info().Str("game_id", t.GameID).Str("status", t.Status).Str("winner", t.Winner).Msg("status persisted")
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
