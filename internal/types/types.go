package types

import "github.com/DoyleJ11/puzzle-duel-backend/internal/puzzle"

// Client -> Server
const (
	MsgCreateGame = "createGame"
	MsgJoinGame   = "joinGame"
	MsgUpdateGame = "updateGame"
	MsgGameWon    = "gameWon"
)

// Server -> Client
const (
	MsgGameCreated        = "gameCreated"
	MsgGameJoined         = "gameJoined"
	MsgGameStart          = "gameStart"
	MsgGameUpdate         = "gameUpdate"
	MsgGameError          = "gameError"
	MsgPlayerDisconnected = "playerDisconnected"
	// MsgGameWon is shared by both directions.
)

type ClientMessage struct {
	Type       string       `json:"type"`
	RoomID     string       `json:"roomId,omitempty"`
	PlayerName string       `json:"playerName,omitempty"`
	State      puzzle.Board `json:"state,omitempty"`
	Moves      *int         `json:"moves,omitempty"`
	VisualHint *int         `json:"visualHint,omitempty"`
	Winner     string       `json:"winner,omitempty"`
}

type PlayerState struct {
	Name  string       `json:"name"`
	State puzzle.Board `json:"state"`
}

type ServerMessage struct {
	Type         string                 `json:"type"`
	RoomID       string                 `json:"roomId,omitempty"`
	ImageURL     string                 `json:"imageUrl,omitempty"`
	InitialState puzzle.Board           `json:"initialState,omitempty"`
	PlayerID     string                 `json:"playerId,omitempty"`
	PlayerName   string                 `json:"playerName,omitempty"`
	OpponentName string                 `json:"opponentName,omitempty"`
	Players      map[string]PlayerState `json:"players,omitempty"`
	State        puzzle.Board           `json:"state,omitempty"`
	Moves        *int                   `json:"moves,omitempty"`
	VisualHint   *int                   `json:"visualHint,omitempty"`
	Winner       string                 `json:"winner,omitempty"`
	Message      string                 `json:"message,omitempty"`
}

func ErrorMessage(msg string) ServerMessage {
	return ServerMessage{Type: MsgGameError, Message: msg}
}
