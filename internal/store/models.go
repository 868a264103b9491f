package store

import "time"

const (
	StatusWaiting    = "WAITING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusAborted    = "ABORTED"
)

// Session is the durable record of one game.
type Session struct {
	ID                string
	WhitePlayerID     *string
	BlackPlayerID     *string
	WhitePlayerName   *string
	BlackPlayerName   *string
	Status            string
	WinnerID          *string
	CurrentFEN        string
	Turn              string
	TimeControl       int // seconds per side
	WhiteTimeLeft     int64
	BlackTimeLeft     int64
	LastMoveTimestamp time.Time
	PGN               *string
	EndTime           *time.Time
	CreatedAt         time.Time
}

type MoveRecord struct {
	ID            string
	GameID        string
	PlayerID      string
	PlayerName    string
	MoveNumber    int
	MoveSAN       string
	FENAfterMove  string
	WhiteTimeLeft int64
	BlackTimeLeft int64
	Timestamp     time.Time
}

// SessionWithMoves is the full durable snapshot used to reconstruct a
// session in memory.
type SessionWithMoves struct {
	Session
	Moves []MoveRecord
}
