// Package game adapts the chess rules engine: given a position and a
// candidate move it decides legality, the resulting position, and the
// terminal classification. It holds no state of its own.
package game

import (
	"errors"
	"fmt"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var ErrIllegalMove = errors.New("illegal move")

type Color string

const (
	White Color = "w"
	Black Color = "b"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Result describes an accepted move: its SAN notation, the position after
// it, whose turn is next, and whether the game ended with it.
type Result struct {
	SAN    string
	FEN    string
	Turn   Color
	Over   bool
	Winner string // "w", "b" or "draw" when Over
	Reason string
}

func load(fen string) (*nchess.Game, error) {
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, err
	}
	return nchess.NewGame(opt), nil
}

// Apply validates a candidate move (UCI or SAN) against the position in fen
// and returns the outcome. The position is never mutated on rejection.
func Apply(fen, move string) (Result, error) {
	g, err := load(fen)
	if err != nil {
		return Result{}, fmt.Errorf("load position: %w", err)
	}
	before := g.Position()
	if err := g.PushNotationMove(move, nchess.UCINotation{}, nil); err != nil {
		if err := g.PushNotationMove(move, nchess.AlgebraicNotation{}, nil); err != nil {
			return Result{}, ErrIllegalMove
		}
	}
	moves := g.Moves()
	last := moves[len(moves)-1]

	res := Result{
		SAN:  nchess.AlgebraicNotation{}.Encode(before, last),
		FEN:  g.FEN(),
		Turn: colorOf(g.Position().Turn()),
	}
	switch g.Outcome() {
	case nchess.WhiteWon:
		res.Over, res.Winner = true, string(White)
	case nchess.BlackWon:
		res.Over, res.Winner = true, string(Black)
	case nchess.Draw:
		res.Over, res.Winner = true, "draw"
	}
	if res.Over {
		res.Reason = reasonFor(g.Method())
	}
	return res, nil
}

// Turn reports the side to move in fen, defaulting to white when the field
// cannot be read.
func Turn(fen string) Color {
	g, err := load(fen)
	if err != nil {
		return White
	}
	return colorOf(g.Position().Turn())
}

// PGN rebuilds the move text of a finished game from its recorded SAN moves,
// starting from the initial position. Unreplayable moves end the rebuild at
// the last consistent point.
func PGN(sans []string) string {
	g := nchess.NewGame()
	for _, san := range sans {
		if err := g.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
			break
		}
	}
	return g.String()
}

func colorOf(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}

func reasonFor(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "Checkmate!"
	case nchess.Stalemate:
		return "Draw by Stalemate!"
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return "Draw by Threefold Repetition!"
	case nchess.InsufficientMaterial:
		return "Draw by Insufficient Material!"
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return "Draw by 50-move rule!"
	default:
		return "Game over"
	}
}
