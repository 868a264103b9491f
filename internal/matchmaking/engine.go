// Package matchmaking pairs waiting identities into new sessions. Buckets
// live in the shared queue service, so several coordinator processes can
// sweep them; atomic pops plus front push-back compensation keep two sweeps
// from dequeuing overlapping identities.
package matchmaking

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"video-chess/internal/protocol"
	"video-chess/internal/queue"
	"video-chess/internal/task"
)

// Time controls swept even before anyone asked for them, seconds per side.
var defaultTimeControls = []int{60, 180, 300, 600, 900, 1800}

// Queues is the slice of the shared queue client the engine uses.
type Queues interface {
	Len(ctx context.Context, name string) (int64, error)
	Pop(ctx context.Context, name string) (string, error)
	Push(ctx context.Context, name string, values ...string) error
	PushFront(ctx context.Context, name, value string) error
	Remove(ctx context.Context, name, value string) (int64, error)
}

// Presence answers whether an identity has a live connection on this
// process and delivers match notifications to it.
type Presence interface {
	Connected(userID string) (name string, ok bool)
	Deliver(userID string, ev protocol.Outbound) bool
}

type Engine struct {
	queues   Queues
	tasks    task.Enqueuer
	presence Presence
	interval time.Duration
	kick     chan int

	mu      sync.Mutex
	buckets map[int]struct{}

	newID func() string
	coin  func() bool
}

func New(queues Queues, tasks task.Enqueuer, presence Presence, interval time.Duration) *Engine {
	e := &Engine{
		queues:   queues,
		tasks:    tasks,
		presence: presence,
		interval: interval,
		kick:     make(chan int, 16),
		buckets:  map[int]struct{}{},
		newID:    uuid.NewString,
		coin:     func() bool { return rand.Intn(2) == 0 },
	}
	for _, tc := range defaultTimeControls {
		e.buckets[tc] = struct{}{}
	}
	return e
}

// Run sweeps every known bucket on the configured interval until ctx is
// cancelled. Enqueue triggers an immediate out-of-band sweep of one bucket.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", e.interval).Msg("matchmaking sweep started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tc := range e.knownBuckets() {
				e.sweepBucket(ctx, tc)
			}
		case tc := <-e.kick:
			e.sweepBucket(ctx, tc)
		}
	}
}

// Enqueue puts an identity at the tail of its time-control bucket and
// nudges the sweeper.
func (e *Engine) Enqueue(ctx context.Context, userID string, timeControl int) error {
	if timeControl <= 0 {
		return errors.New("invalid time control")
	}
	if err := e.queues.Push(ctx, queue.MatchmakingBucket(timeControl), userID); err != nil {
		return err
	}
	e.mu.Lock()
	e.buckets[timeControl] = struct{}{}
	e.mu.Unlock()

	select {
	case e.kick <- timeControl:
	default:
	}
	return nil
}

// Forget purges a disconnected identity from every bucket it may occupy.
func (e *Engine) Forget(ctx context.Context, userID string) {
	for _, tc := range e.knownBuckets() {
		removed, err := e.queues.Remove(ctx, queue.MatchmakingBucket(tc), userID)
		if err != nil {
			log.Error().Err(err).Int("time_control", tc).Msg("purge from matchmaking bucket failed")
			continue
		}
		if removed > 0 {
			log.Debug().Str("user_id", userID).Int("time_control", tc).Msg("removed from matchmaking bucket")
		}
	}
}

func (e *Engine) knownBuckets() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, 0, len(e.buckets))
	for tc := range e.buckets {
		out = append(out, tc)
	}
	return out
}

func (e *Engine) sweepBucket(ctx context.Context, timeControl int) {
	bucket := queue.MatchmakingBucket(timeControl)
	for {
		n, err := e.queues.Len(ctx, bucket)
		if err != nil {
			log.Error().Err(err).Str("bucket", bucket).Msg("bucket length failed")
			return
		}
		if n < 2 {
			return
		}

		first, err := e.queues.Pop(ctx, bucket)
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) {
				log.Error().Err(err).Str("bucket", bucket).Msg("bucket pop failed")
			}
			return
		}
		second, err := e.queues.Pop(ctx, bucket)
		if err != nil {
			// Raced with another sweep; restore the one we took.
			_ = e.queues.PushFront(ctx, bucket, first)
			if !errors.Is(err, queue.ErrEmpty) {
				log.Error().Err(err).Str("bucket", bucket).Msg("bucket pop failed")
			}
			return
		}

		if first == second {
			// Duplicate entries for one identity; keep a single copy.
			_ = e.queues.PushFront(ctx, bucket, first)
			continue
		}

		firstName, firstLive := e.presence.Connected(first)
		secondName, secondLive := e.presence.Connected(second)
		switch {
		case firstLive && secondLive:
			e.pair(ctx, timeControl, first, firstName, second, secondName)
		case firstLive:
			_ = e.queues.PushFront(ctx, bucket, first)
		case secondLive:
			_ = e.queues.PushFront(ctx, bucket, second)
		}
		// Neither live: both are dropped.
	}
}

// pair originates a new session for two live identities. Colors are a
// uniform coin flip per pairing.
func (e *Engine) pair(ctx context.Context, timeControl int, firstID, firstName, secondID, secondName string) {
	whiteID, whiteName := firstID, firstName
	blackID, blackName := secondID, secondName
	if e.coin() {
		whiteID, whiteName, blackID, blackName = secondID, secondName, firstID, firstName
	}

	gameID := e.newID()
	initialMS := int64(timeControl) * 1000
	if err := e.tasks.Enqueue(ctx, task.CreateMatchedGame{
		GameID:        gameID,
		WhitePlayerID: whiteID,
		BlackPlayerID: blackID,
		TimeControl:   timeControl,
		InitialTimeMS: initialMS,
	}); err != nil {
		// Could not make the pairing durable; restore both queue positions.
		log.Error().Err(err).Str("game_id", gameID).Msg("enqueue matched game failed")
		bucket := queue.MatchmakingBucket(timeControl)
		_ = e.queues.PushFront(ctx, bucket, secondID)
		_ = e.queues.PushFront(ctx, bucket, firstID)
		return
	}

	e.presence.Deliver(whiteID, protocol.Outbound{Type: protocol.TypeMatchFound, Payload: protocol.MatchFound{
		GameID:       gameID,
		OpponentName: blackName,
		Color:        "w",
	}})
	e.presence.Deliver(blackID, protocol.Outbound{Type: protocol.TypeMatchFound, Payload: protocol.MatchFound{
		GameID:       gameID,
		OpponentName: whiteName,
		Color:        "b",
	}})
	log.Info().Str("game_id", gameID).Str("white", whiteID).Str("black", blackID).
		Int("time_control", timeControl).Msg("match_found")
}
