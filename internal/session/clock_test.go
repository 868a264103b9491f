package session

import (
	"context"
	"testing"
	"time"

	"video-chess/internal/protocol"
	"video-chess/internal/store"
	"video-chess/internal/task"
)

// startedGame joins two players into a fresh session with a fast ticker and
// returns everything the clock tests need.
func startedGame(t *testing.T, timeControl int) (*Registry, *captureEnqueuer, *fakeClock, *fakeConn, *fakeConn) {
	t.Helper()
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": waitingSnap("g1", timeControl)}}
	r, tasks, fc := testRegistry(loader)
	r.tickEach = 5 * time.Millisecond
	white := &fakeConn{id: "alice", name: "Alice"}
	black := &fakeConn{id: "bob", name: "Bob"}
	mustJoin(t, r, "g1", white)
	mustJoin(t, r, "g1", black)
	return r, tasks, fc, white, black
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestTickBroadcastsTimerUpdates(t *testing.T) {
	r, _, fc, white, black := startedGame(t, 60)
	defer r.Detach("g1", white)
	defer r.Detach("g1", black)

	fc.Advance(time.Second)
	waitFor(t, "debited timer update", func() bool {
		evs := black.byType(protocol.TypeTimerUpdate)
		if len(evs) == 0 {
			return false
		}
		tu := evs[len(evs)-1].Payload.(protocol.TimerUpdate)
		return tu.WhiteTimeLeft == 59000 && tu.BlackTimeLeft == 60000
	})
}

func TestTickFlagFallEndsGameOnce(t *testing.T) {
	r, tasks, fc, white, black := startedGame(t, 60)
	defer r.Detach("g1", white)
	defer r.Detach("g1", black)

	fc.Advance(61 * time.Second)
	waitFor(t, "game over", func() bool {
		return len(black.byType(protocol.TypeGameOver)) > 0
	})
	// Give further ticks a chance to misfire before asserting exactly-once.
	time.Sleep(30 * time.Millisecond)

	for _, c := range []*fakeConn{white, black} {
		overs := c.byType(protocol.TypeGameOver)
		if len(overs) != 1 {
			t.Fatalf("%s saw %d GAME_OVER, want 1", c.id, len(overs))
		}
		over := overs[0].Payload.(protocol.GameOver)
		if over.Winner != "b" || over.Reason != "Alice's time ran out" {
			t.Fatalf("game over = %+v", over)
		}
	}

	var statuses []task.UpdateGameStatus
	for _, tk := range tasks.all() {
		if u, ok := tk.(task.UpdateGameStatus); ok && u.Status == store.StatusCompleted {
			statuses = append(statuses, u)
		}
	}
	if len(statuses) != 1 {
		t.Fatalf("got %d completion tasks, want exactly 1", len(statuses))
	}
	if statuses[0].Winner != "b" {
		t.Fatalf("completion task = %+v", statuses[0])
	}

	err := r.ApplyMove(context.Background(), "g1", "bob", "e5")
	var se *StateError
	if se, _ = err.(*StateError); se == nil || se.Msg != "Game is not in progress." {
		t.Fatalf("move after flag fall: %v", err)
	}
}

func TestMoveRacingTickerKeepsClocksConsistent(t *testing.T) {
	r, _, fc, white, black := startedGame(t, 60)
	defer r.Detach("g1", white)
	defer r.Detach("g1", black)
	ctx := context.Background()

	// Moves land while the ticker is firing; whoever wins each race, the
	// two clocks must account for exactly the elapsed time.
	script := []struct{ user, move string }{
		{"alice", "e4"}, {"bob", "e5"}, {"alice", "Nf3"}, {"bob", "Nc6"},
	}
	for _, m := range script {
		fc.Advance(500 * time.Millisecond)
		if err := r.ApplyMove(ctx, "g1", m.user, m.move); err != nil {
			t.Fatalf("ApplyMove %s: %v", m.move, err)
		}
	}

	updates := white.byType(protocol.TypeGameStateUpdate)
	last := updates[len(updates)-1].Payload.(protocol.GameStateUpdate)
	if last.WhiteTimeLeft+last.BlackTimeLeft != 118000 {
		t.Fatalf("clock sum = %d, want 118000", last.WhiteTimeLeft+last.BlackTimeLeft)
	}
	if last.WhiteTimeLeft != 59000 || last.BlackTimeLeft != 59000 {
		t.Fatalf("clocks = %d/%d, want 59000 each", last.WhiteTimeLeft, last.BlackTimeLeft)
	}
}
