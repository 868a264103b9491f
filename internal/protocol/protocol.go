// Package protocol defines the websocket wire messages. Every message is a
// tagged JSON envelope {type, payload}; the tags form a closed set so
// dispatch can be exhaustive.
package protocol

import "encoding/json"

// Client → server command tags.
const (
	TypeJoinGame    = "JOIN_GAME"
	TypeMakeMove    = "MAKE_MOVE"
	TypeFindMatch   = "FIND_MATCH"
	TypeChatMessage = "CHAT_MESSAGE"

	// Opaque signaling tags: payloads are relayed to the session's other
	// connections without interpretation.
	TypeVideoOffer  = "VIDEO_OFFER"
	TypeVideoAnswer = "VIDEO_ANSWER"
	TypeVideoICE    = "VIDEO_ICE"
	TypeStartVideo  = "START_VIDEO"
	TypeEndVideo    = "END_VIDEO"
)

// Server → client event tags.
const (
	TypeConnectionAck   = "CONNECTION_ACK"
	TypeError           = "ERROR"
	TypeFullGameState   = "FULL_GAME_STATE"
	TypeGameStateUpdate = "GAME_STATE_UPDATE"
	TypeTimerUpdate     = "TIMER_UPDATE"
	TypeGameOver        = "GAME_OVER"
	TypeMatchFound      = "MATCH_FOUND"
	TypeUserJoined      = "USER_JOINED"
	TypeUserLeft        = "USER_LEFT"
)

// Envelope is the inbound frame before payload dispatch.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound is a server event ready to marshal.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func IsSignaling(typ string) bool {
	switch typ {
	case TypeVideoOffer, TypeVideoAnswer, TypeVideoICE, TypeStartVideo, TypeEndVideo:
		return true
	}
	return false
}
