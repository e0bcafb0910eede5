// Package types holds the JSON messages exchanged with clients.
package types

import "github.com/DoyleJ11/secret-word-backend/internal/projection"

// Client -> Server (websocket)
const (
	MsgStartGame    = "StartGame"
	MsgSubmitWord   = "SubmitWord"
	MsgSubmitGuess  = "SubmitGuess"
	MsgAdvanceRound = "AdvanceRound"
	MsgPlayAgain    = "PlayAgain"
	MsgLeaveRoom    = "LeaveRoom"
)

// Server -> Client (websocket)
const (
	MsgStateSnapshot = "StateSnapshot"
	MsgRoomClosed    = "RoomClosed"
	MsgError         = "Error"
)

type ClientMessage struct {
	Type string `json:"type"`
	Word string `json:"word,omitempty"` // SubmitWord
	Text string `json:"text,omitempty"` // SubmitGuess
	// Round pins AdvanceRound to the round the client saw complete.
	Round int `json:"round,omitempty"`
}

type ServerMessage struct {
	Type    string                `json:"type"` // "StateSnapshot" | "RoomClosed" | "Error"
	Version int64                 `json:"version,omitempty"`
	State   *projection.GameState `json:"state,omitempty"`
	Code    string                `json:"code,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// HTTP

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type JoinRoomRequest struct {
	Name     string `json:"name"`
	PlayerID string `json:"player_id,omitempty"`
}

type RoomSession struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}
