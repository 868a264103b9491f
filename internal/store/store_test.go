package store

import "testing"

func TestNewIDUniqueAndSortable(t *testing.T) {
	seen := map[string]bool{}
	prev := ""
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != 26 {
			t.Fatalf("ulid length = %d, want 26", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		if id < prev {
			t.Fatalf("ids not monotonic: %s after %s", id, prev)
		}
		prev = id
	}
}

func TestTurnFromFEN(t *testing.T) {
	cases := []struct {
		fen  string
		want string
	}{
		{"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", "w"},
		{"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1", "b"},
		{"garbage", "w"},
		{"", "w"},
	}
	for _, c := range cases {
		if got := turnFromFEN(c.fen); got != c.want {
			t.Fatalf("turnFromFEN(%q) = %q, want %q", c.fen, got, c.want)
		}
	}
}
