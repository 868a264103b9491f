// Package task defines the closed set of write-behind tasks the coordinator
// enqueues for the persistence pump. Tasks for one session must be enqueued
// in the order their causing events were accepted and applied in that order.
package task

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindCreateMove        Kind = "CREATE_MOVE"
	KindUpdateGameStatus  Kind = "UPDATE_GAME_STATUS"
	KindAssignPlayer      Kind = "ASSIGN_PLAYER"
	KindCreateMatchedGame Kind = "CREATE_MATCHED_GAME"
)

// Task is the sealed interface over the write-task variants.
type Task interface {
	Kind() Kind
}

// CreateMove records an accepted move together with the post-move clocks.
type CreateMove struct {
	GameID        string `json:"gameId"`
	PlayerID      string `json:"playerId"`
	MoveNumber    int    `json:"moveNumber"`
	MoveSAN       string `json:"moveSAN"`
	FENAfterMove  string `json:"fenAfterMove"`
	WhiteTimeLeft int64  `json:"whiteTimeLeft"`
	BlackTimeLeft int64  `json:"blackTimeLeft"`
	TimestampMS   int64  `json:"timestamp"`
}

func (CreateMove) Kind() Kind { return KindCreateMove }

// UpdateGameStatus transitions the durable record's status and, when the
// game finished, records the winner ("w", "b", "draw" or empty) and reason.
type UpdateGameStatus struct {
	GameID string `json:"gameId"`
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (UpdateGameStatus) Kind() Kind { return KindUpdateGameStatus }

// AssignPlayer fills one color slot of a waiting session.
type AssignPlayer struct {
	GameID string `json:"gameId"`
	UserID string `json:"userId"`
	Color  string `json:"color"`
}

func (AssignPlayer) Kind() Kind { return KindAssignPlayer }

// CreateMatchedGame creates the durable record for a session originated by
// matchmaking. Matched games start in progress with full clocks.
type CreateMatchedGame struct {
	GameID        string `json:"gameId"`
	WhitePlayerID string `json:"whitePlayerId"`
	BlackPlayerID string `json:"blackPlayerId"`
	TimeControl   int    `json:"timeControl"`
	InitialTimeMS int64  `json:"initialTimeMs"`
}

func (CreateMatchedGame) Kind() Kind { return KindCreateMatchedGame }

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps a task in its tagged wire envelope.
func Encode(t Task) ([]byte, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: t.Kind(), Payload: payload})
}

// Decode parses a tagged envelope into exactly one concrete task variant.
func Decode(data []byte) (Task, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode task envelope: %w", err)
	}
	switch env.Type {
	case KindCreateMove:
		var t CreateMove
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return nil, err
		}
		return t, nil
	case KindUpdateGameStatus:
		var t UpdateGameStatus
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return nil, err
		}
		return t, nil
	case KindAssignPlayer:
		var t AssignPlayer
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return nil, err
		}
		return t, nil
	case KindCreateMatchedGame:
		var t CreateMatchedGame
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown task kind %q", env.Type)
	}
}
