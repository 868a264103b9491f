package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"video-chess/internal/game"
	"video-chess/internal/protocol"
	"video-chess/internal/store"
	"video-chess/internal/task"
)

type fakeLoader struct {
	snaps map[string]*store.SessionWithMoves
	calls int
}

func (l *fakeLoader) GetSessionWithMoves(_ context.Context, id string) (*store.SessionWithMoves, error) {
	l.calls++
	if snap, ok := l.snaps[id]; ok {
		return snap, nil
	}
	return nil, store.ErrNotFound
}

type captureEnqueuer struct {
	mu    sync.Mutex
	tasks []task.Task
}

func (c *captureEnqueuer) Enqueue(_ context.Context, t task.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, t)
	return nil
}

func (c *captureEnqueuer) all() []task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]task.Task(nil), c.tasks...)
}

type fakeConn struct {
	id, name string

	mu     sync.Mutex
	events []protocol.Outbound
}

func (c *fakeConn) UserID() string   { return c.id }
func (c *fakeConn) UserName() string { return c.name }

func (c *fakeConn) Send(ev protocol.Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) byType(typ string) []protocol.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Outbound
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func testRegistry(loader Loader) (*Registry, *captureEnqueuer, *fakeClock) {
	tasks := &captureEnqueuer{}
	r := NewRegistry(loader, tasks)
	fc := &fakeClock{t: time.Unix(1700000000, 0)}
	r.now = fc.Now
	// Keep the background ticker out of the way; tick behavior has its own
	// tests that shorten this.
	r.tickEach = time.Hour
	return r, tasks, fc
}

func waitingSnap(id string, timeControl int) *store.SessionWithMoves {
	ms := int64(timeControl) * 1000
	return &store.SessionWithMoves{Session: store.Session{
		ID:            id,
		Status:        store.StatusWaiting,
		CurrentFEN:    game.StartFEN,
		Turn:          "w",
		TimeControl:   timeControl,
		WhiteTimeLeft: ms,
		BlackTimeLeft: ms,
	}}
}

func mustJoin(t *testing.T, r *Registry, id string, c Conn) {
	t.Helper()
	if err := r.Join(context.Background(), id, c); err != nil {
		t.Fatalf("Join(%s, %s): %v", id, c.UserID(), err)
	}
}

func fullState(t *testing.T, c *fakeConn) protocol.FullGameState {
	t.Helper()
	evs := c.byType(protocol.TypeFullGameState)
	if len(evs) == 0 {
		t.Fatalf("%s received no full state", c.id)
	}
	return evs[len(evs)-1].Payload.(protocol.FullGameState)
}

func TestJoinUnknownGame(t *testing.T) {
	r, _, _ := testRegistry(&fakeLoader{snaps: map[string]*store.SessionWithMoves{}})
	err := r.Join(context.Background(), "missing", &fakeConn{id: "alice"})
	var se *StateError
	if !errors.As(err, &se) || se.Msg != "Game not found." {
		t.Fatalf("err = %v, want game-not-found state error", err)
	}
}

func TestJoinAssignsColorsAndStartsGame(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": waitingSnap("g1", 60)}}
	r, tasks, _ := testRegistry(loader)
	white := &fakeConn{id: "alice", name: "Alice"}
	black := &fakeConn{id: "bob", name: "Bob"}

	mustJoin(t, r, "g1", white)
	st := fullState(t, white)
	if st.WhitePlayerID != "alice" || st.Status != store.StatusWaiting {
		t.Fatalf("after first join: %+v", st)
	}
	if st.WhiteTimeLeft != 60000 || st.BlackTimeLeft != 60000 {
		t.Fatalf("clocks = %d/%d, want 60000 each", st.WhiteTimeLeft, st.BlackTimeLeft)
	}

	mustJoin(t, r, "g1", black)
	st = fullState(t, black)
	if st.BlackPlayerID != "bob" || st.Status != store.StatusInProgress {
		t.Fatalf("after second join: %+v", st)
	}

	got := tasks.all()
	if len(got) != 3 {
		t.Fatalf("got %d tasks, want 3: %v", len(got), got)
	}
	if a := got[0].(task.AssignPlayer); a.Color != "w" || a.UserID != "alice" {
		t.Fatalf("task 0 = %+v", a)
	}
	if a := got[1].(task.AssignPlayer); a.Color != "b" || a.UserID != "bob" {
		t.Fatalf("task 1 = %+v", a)
	}
	if u := got[2].(task.UpdateGameStatus); u.Status != store.StatusInProgress {
		t.Fatalf("task 2 = %+v", u)
	}

	if evs := white.byType(protocol.TypeUserJoined); len(evs) != 1 {
		t.Fatalf("white saw %d USER_JOINED, want 1", len(evs))
	}
	r.Detach("g1", white)
	r.Detach("g1", black)
}

func TestJoinSameUserTwiceTakesOneSeat(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": waitingSnap("g1", 60)}}
	r, tasks, _ := testRegistry(loader)
	first := &fakeConn{id: "alice", name: "Alice"}
	second := &fakeConn{id: "alice", name: "Alice"}

	mustJoin(t, r, "g1", first)
	mustJoin(t, r, "g1", second)

	st := fullState(t, second)
	if st.WhitePlayerID != "alice" || st.BlackPlayerID != "" {
		t.Fatalf("seats = %q/%q, want alice and empty", st.WhitePlayerID, st.BlackPlayerID)
	}
	if st.Status != store.StatusWaiting {
		t.Fatalf("status = %s, want WAITING", st.Status)
	}
	if got := tasks.all(); len(got) != 1 {
		t.Fatalf("got %d tasks, want 1 assignment", len(got))
	}
}

func TestJoinInProgressRejectsOutsider(t *testing.T) {
	snap := waitingSnap("g1", 60)
	alice, bob := "alice", "bob"
	snap.Status = store.StatusInProgress
	snap.WhitePlayerID, snap.BlackPlayerID = &alice, &bob
	snap.LastMoveTimestamp = time.Unix(1700000000, 0)
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": snap}}
	r, _, _ := testRegistry(loader)

	err := r.Join(context.Background(), "g1", &fakeConn{id: "carol"})
	var se *StateError
	if !errors.As(err, &se) || se.Msg != "You are not a player in this game." {
		t.Fatalf("err = %v, want non-player rejection", err)
	}
	if r.Live("g1") {
		t.Fatal("rejected join must not leave the session live")
	}
}

func TestReloadDebitsElapsedTime(t *testing.T) {
	snap := waitingSnap("g1", 60)
	alice, bob := "alice", "bob"
	snap.Status = store.StatusInProgress
	snap.WhitePlayerID, snap.BlackPlayerID = &alice, &bob
	snap.LastMoveTimestamp = time.Unix(1700000000, 0).Add(-10 * time.Second)
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": snap}}
	r, _, _ := testRegistry(loader)

	white := &fakeConn{id: "alice", name: "Alice"}
	mustJoin(t, r, "g1", white)
	st := fullState(t, white)
	if st.WhiteTimeLeft != 50000 {
		t.Fatalf("white clock = %d, want 50000 after 10s away", st.WhiteTimeLeft)
	}
	if st.BlackTimeLeft != 60000 {
		t.Fatalf("black clock = %d, want untouched", st.BlackTimeLeft)
	}
	r.Detach("g1", white)
}

func TestReloadDetectsTimeout(t *testing.T) {
	snap := waitingSnap("g1", 60)
	alice, bob := "alice", "bob"
	snap.Status = store.StatusInProgress
	snap.WhitePlayerID, snap.BlackPlayerID = &alice, &bob
	snap.WhitePlayerName, snap.BlackPlayerName = &alice, &bob
	snap.LastMoveTimestamp = time.Unix(1700000000, 0).Add(-2 * time.Minute)
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": snap}}
	r, tasks, _ := testRegistry(loader)

	white := &fakeConn{id: "alice", name: "alice"}
	mustJoin(t, r, "g1", white)
	st := fullState(t, white)
	if st.Status != store.StatusCompleted || st.Winner != "b" {
		t.Fatalf("state = %s/%s, want completed with black winning", st.Status, st.Winner)
	}
	if st.WhiteTimeLeft != 0 {
		t.Fatalf("white clock = %d, want 0", st.WhiteTimeLeft)
	}

	got := tasks.all()
	if len(got) != 1 {
		t.Fatalf("got %d tasks, want 1", len(got))
	}
	u := got[0].(task.UpdateGameStatus)
	if u.Status != store.StatusCompleted || u.Winner != "b" || !strings.Contains(u.Reason, "time ran out") {
		t.Fatalf("status task = %+v", u)
	}
	r.Detach("g1", white)
}

func TestApplyMoveFullExchange(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": waitingSnap("g1", 60)}}
	r, tasks, fc := testRegistry(loader)
	white := &fakeConn{id: "alice", name: "Alice"}
	black := &fakeConn{id: "bob", name: "Bob"}
	mustJoin(t, r, "g1", white)
	mustJoin(t, r, "g1", black)
	ctx := context.Background()

	fc.Advance(1200 * time.Millisecond)
	if err := r.ApplyMove(ctx, "g1", "alice", "e4"); err != nil {
		t.Fatalf("ApplyMove e4: %v", err)
	}

	updates := black.byType(protocol.TypeGameStateUpdate)
	if len(updates) != 1 {
		t.Fatalf("black saw %d updates, want 1", len(updates))
	}
	up := updates[0].Payload.(protocol.GameStateUpdate)
	if up.Turn != "b" || up.LastMoveSAN != "e4" {
		t.Fatalf("update = %+v", up)
	}
	if up.WhiteTimeLeft != 58800 || up.BlackTimeLeft != 60000 {
		t.Fatalf("clocks = %d/%d, want 58800/60000", up.WhiteTimeLeft, up.BlackTimeLeft)
	}

	fc.Advance(500 * time.Millisecond)
	if err := r.ApplyMove(ctx, "g1", "bob", "e5"); err != nil {
		t.Fatalf("ApplyMove e5: %v", err)
	}
	up = white.byType(protocol.TypeGameStateUpdate)[1].Payload.(protocol.GameStateUpdate)
	if up.Turn != "w" || up.BlackTimeLeft != 59500 {
		t.Fatalf("after e5: %+v", up)
	}

	var moves []task.CreateMove
	for _, tk := range tasks.all() {
		if m, ok := tk.(task.CreateMove); ok {
			moves = append(moves, m)
		}
	}
	if len(moves) != 2 {
		t.Fatalf("got %d move tasks, want 2", len(moves))
	}
	if moves[0].MoveNumber != 1 || moves[1].MoveNumber != 1 {
		t.Fatalf("move numbers = %d/%d, want 1/1", moves[0].MoveNumber, moves[1].MoveNumber)
	}
	if moves[0].MoveSAN != "e4" || moves[1].MoveSAN != "e5" {
		t.Fatalf("sans = %s/%s", moves[0].MoveSAN, moves[1].MoveSAN)
	}
	r.Detach("g1", white)
	r.Detach("g1", black)
}

func TestApplyMoveRejections(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": waitingSnap("g1", 60)}}
	r, tasks, _ := testRegistry(loader)
	white := &fakeConn{id: "alice", name: "Alice"}
	black := &fakeConn{id: "bob", name: "Bob"}
	mustJoin(t, r, "g1", white)
	mustJoin(t, r, "g1", black)
	ctx := context.Background()
	before := len(tasks.all())

	cases := []struct {
		name, session, user, move, want string
	}{
		{"unknown session", "nope", "alice", "e4", "Game not found in active runtime."},
		{"not a player", "g1", "carol", "e4", "Not your turn."},
		{"out of turn", "g1", "bob", "e5", "Not your turn."},
		{"illegal move", "g1", "alice", "Ke2", "Invalid move."},
	}
	for _, tc := range cases {
		err := r.ApplyMove(ctx, tc.session, tc.user, tc.move)
		var se *StateError
		if !errors.As(err, &se) || se.Msg != tc.want {
			t.Fatalf("%s: err = %v, want %q", tc.name, err, tc.want)
		}
	}

	if got := len(tasks.all()); got != before {
		t.Fatalf("rejections enqueued %d tasks", got-before)
	}
	st := fullState(t, white)
	if st.Turn != "w" {
		t.Fatalf("turn = %s, rejections must not advance it", st.Turn)
	}
	r.Detach("g1", white)
	r.Detach("g1", black)
}

func TestApplyMoveCheckmateEndsGame(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": waitingSnap("g1", 300)}}
	r, tasks, _ := testRegistry(loader)
	white := &fakeConn{id: "alice", name: "Alice"}
	black := &fakeConn{id: "bob", name: "Bob"}
	mustJoin(t, r, "g1", white)
	mustJoin(t, r, "g1", black)
	ctx := context.Background()

	script := []struct{ user, move string }{
		{"alice", "e4"}, {"bob", "e5"},
		{"alice", "Qh5"}, {"bob", "Nc6"},
		{"alice", "Bc4"}, {"bob", "Nf6"},
		{"alice", "Qxf7#"},
	}
	for _, m := range script {
		if err := r.ApplyMove(ctx, "g1", m.user, m.move); err != nil {
			t.Fatalf("ApplyMove %s %s: %v", m.user, m.move, err)
		}
	}

	overs := black.byType(protocol.TypeGameOver)
	if len(overs) != 1 {
		t.Fatalf("black saw %d GAME_OVER, want 1", len(overs))
	}
	over := overs[0].Payload.(protocol.GameOver)
	if over.Winner != "w" || over.Reason != "Checkmate! Alice wins." {
		t.Fatalf("game over = %+v", over)
	}

	all := tasks.all()
	last := all[len(all)-1].(task.UpdateGameStatus)
	if last.Status != store.StatusCompleted || last.Winner != "w" {
		t.Fatalf("final task = %+v", last)
	}
	// The losing move must be durable before the completion.
	prev, ok := all[len(all)-2].(task.CreateMove)
	if !ok || prev.MoveSAN != "Qxf7#" || prev.MoveNumber != 4 {
		t.Fatalf("task before completion = %+v", all[len(all)-2])
	}

	err := r.ApplyMove(ctx, "g1", "bob", "a6")
	var se *StateError
	if !errors.As(err, &se) || se.Msg != "Game is not in progress." {
		t.Fatalf("move after checkmate: %v", err)
	}
	r.Detach("g1", white)
	r.Detach("g1", black)
}

func TestDetachReleasesSession(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": waitingSnap("g1", 60)}}
	r, _, _ := testRegistry(loader)
	white := &fakeConn{id: "alice", name: "Alice"}
	black := &fakeConn{id: "bob", name: "Bob"}
	mustJoin(t, r, "g1", white)
	mustJoin(t, r, "g1", black)

	r.Detach("g1", white)
	if !r.Live("g1") {
		t.Fatal("session released while a connection remains")
	}
	if evs := black.byType(protocol.TypeUserLeft); len(evs) != 1 {
		t.Fatalf("black saw %d USER_LEFT, want 1", len(evs))
	}

	r.Detach("g1", black)
	if r.Live("g1") {
		t.Fatal("session still live after last detach")
	}

	// Reconstruction hits the store again.
	calls := loader.calls
	mustJoin(t, r, "g1", &fakeConn{id: "alice", name: "Alice"})
	if loader.calls != calls+1 {
		t.Fatalf("loader calls = %d, want %d", loader.calls, calls+1)
	}
}

func TestRelaySkipsSender(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]*store.SessionWithMoves{"g1": waitingSnap("g1", 60)}}
	r, _, _ := testRegistry(loader)
	white := &fakeConn{id: "alice", name: "Alice"}
	black := &fakeConn{id: "bob", name: "Bob"}
	mustJoin(t, r, "g1", white)
	mustJoin(t, r, "g1", black)

	ev := protocol.Outbound{Type: protocol.TypeChatMessage, Payload: map[string]string{"message": "hi"}}
	if !r.Relay("g1", ev, white) {
		t.Fatal("Relay reported no session")
	}
	if evs := black.byType(protocol.TypeChatMessage); len(evs) != 1 {
		t.Fatalf("black saw %d chat events, want 1", len(evs))
	}
	if evs := white.byType(protocol.TypeChatMessage); len(evs) != 0 {
		t.Fatalf("sender saw %d chat events, want 0", len(evs))
	}
	if r.Relay("nope", ev, white) {
		t.Fatal("Relay invented a session")
	}
	r.Detach("g1", white)
	r.Detach("g1", black)
}
