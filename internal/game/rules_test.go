package game

import (
	"errors"
	"strings"
	"testing"
)

func TestApplyFirstMoveSAN(t *testing.T) {
	res, err := Apply(StartFEN, "e4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.SAN != "e4" {
		t.Fatalf("SAN = %q, want e4", res.SAN)
	}
	if res.Turn != Black {
		t.Fatalf("Turn = %q, want b", res.Turn)
	}
	if res.Over {
		t.Fatal("game should not be over after 1. e4")
	}
	if !strings.Contains(res.FEN, " b ") {
		t.Fatalf("FEN side to move not black: %q", res.FEN)
	}
}

func TestApplyFirstMoveUCI(t *testing.T) {
	res, err := Apply(StartFEN, "e2e4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.SAN != "e4" {
		t.Fatalf("SAN = %q, want e4", res.SAN)
	}
}

func TestApplyRejectsIllegalMove(t *testing.T) {
	_, err := Apply(StartFEN, "e5")
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	_, err = Apply(StartFEN, "not a move")
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
}

func TestApplyEmptyFENStartsFresh(t *testing.T) {
	res, err := Apply("", "d4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.SAN != "d4" {
		t.Fatalf("SAN = %q, want d4", res.SAN)
	}
}

func TestApplyDetectsCheckmate(t *testing.T) {
	// Scholar's mate one move before the end.
	fen := "r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5Q2/PPPP1PPP/RNB1K1NR w KQkq - 4 4"
	res, err := Apply(fen, "Qxf7#")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Over || res.Winner != "w" {
		t.Fatalf("expected white checkmate win, got %+v", res)
	}
	if res.Reason != "Checkmate!" {
		t.Fatalf("Reason = %q", res.Reason)
	}
}

func TestApplyDetectsStalemate(t *testing.T) {
	// White to move; Qc7 stalemates the black king on a8.
	fen := "k7/8/2K5/8/8/8/8/2Q5 w - - 0 1"
	res, err := Apply(fen, "Qc7")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Over || res.Winner != "draw" {
		t.Fatalf("expected stalemate draw, got %+v", res)
	}
	if res.Reason != "Draw by Stalemate!" {
		t.Fatalf("Reason = %q", res.Reason)
	}
}

func TestTurn(t *testing.T) {
	if Turn(StartFEN) != White {
		t.Fatal("start position should be white to move")
	}
	res, err := Apply(StartFEN, "e4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if Turn(res.FEN) != Black {
		t.Fatal("after 1. e4 black should be to move")
	}
}

func TestPGNReplaysMoves(t *testing.T) {
	pgn := PGN([]string{"e4", "e5", "Nf3"})
	for _, want := range []string{"e4", "e5", "Nf3"} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("PGN missing %q: %q", want, pgn)
		}
	}
}
