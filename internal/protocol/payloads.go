package protocol

// Inbound command payloads.

type JoinGame struct {
	GameID string `json:"gameId"`
	UserID string `json:"userId,omitempty"`
}

type MakeMove struct {
	GameID string `json:"gameId"`
	Move   string `json:"move"`
	UserID string `json:"userId,omitempty"`
}

type FindMatch struct {
	TimeControl int    `json:"timeControl"` // seconds per side
	UserID      string `json:"userId,omitempty"`
}

type Chat struct {
	GameID  string `json:"gameId"`
	Message string `json:"message"`
	Name    string `json:"name"`
	UserID  string `json:"userId,omitempty"`
}

// Outbound event payloads.

type ConnectionAck struct {
	Message string `json:"message"`
}

type Error struct {
	Message string `json:"message"`
}

type MoveHistoryEntry struct {
	Number        int    `json:"number"`
	SAN           string `json:"san"`
	PlayerID      string `json:"playerId"`
	PlayerName    string `json:"playerName,omitempty"`
	WhiteTimeLeft int64  `json:"whiteTimeLeft"`
	BlackTimeLeft int64  `json:"blackTimeLeft"`
	TimestampMS   int64  `json:"timestamp"`
}

// FullGameState is the complete reconstructed snapshot sent to a joining
// connection only.
type FullGameState struct {
	ID                string             `json:"id"`
	FEN               string             `json:"fen"`
	Turn              string             `json:"turn"`
	WhitePlayerID     string             `json:"whitePlayerId,omitempty"`
	BlackPlayerID     string             `json:"blackPlayerId,omitempty"`
	WhitePlayerName   string             `json:"whitePlayerName,omitempty"`
	BlackPlayerName   string             `json:"blackPlayerName,omitempty"`
	Status            string             `json:"status"`
	Winner            string             `json:"winner,omitempty"`
	TimeControl       int                `json:"timeControl"`
	WhiteTimeLeft     int64              `json:"whiteTimeLeft"`
	BlackTimeLeft     int64              `json:"blackTimeLeft"`
	LastMoveTimestamp int64              `json:"lastMoveTimestamp"`
	Moves             []MoveHistoryEntry `json:"moves"`
}

// GameStateUpdate is the incremental broadcast after an accepted move.
type GameStateUpdate struct {
	GameID        string `json:"gameId"`
	CurrentFEN    string `json:"currentFen"`
	Turn          string `json:"turn"`
	WhiteTimeLeft int64  `json:"whiteTimeLeft"`
	BlackTimeLeft int64  `json:"blackTimeLeft"`
	LastMoveSAN   string `json:"lastMoveSan"`
	Status        string `json:"status"`
}

type TimerUpdate struct {
	GameID        string `json:"gameId"`
	WhiteTimeLeft int64  `json:"whiteTimeLeft"`
	BlackTimeLeft int64  `json:"blackTimeLeft"`
}

type GameOver struct {
	GameID string `json:"gameId"`
	Winner string `json:"winner"` // "w", "b" or "draw"
	Reason string `json:"reason"`
}

type MatchFound struct {
	GameID       string `json:"gameId"`
	OpponentName string `json:"opponentName"`
	Color        string `json:"color"`
}

type UserJoined struct {
	GameID string `json:"gameId"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type UserLeft struct {
	GameID string `json:"gameId"`
	UserID string `json:"userId"`
}
