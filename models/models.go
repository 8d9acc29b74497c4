// models/models.go
package models

import (
	"time"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opposite returns the other side.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// GameStatus is the persisted lifecycle status of a game row.
type GameStatus string

const (
	StatusPending    GameStatus = "PENDING"
	StatusInProgress GameStatus = "IN_PROGRESS"
	StatusCompleted  GameStatus = "COMPLETED"
	StatusAborted    GameStatus = "ABORTED"
)

// Joinable reports whether a live session may be created for this status.
func (s GameStatus) Joinable() bool {
	return s == StatusPending || s == StatusInProgress
}

// GameResult is the outcome of a finished game relative to the two slots.
type GameResult string

const (
	ResultCreatorWon  GameResult = "CREATOR_WON"
	ResultOpponentWon GameResult = "OPPONENT_WON"
	ResultDraw        GameResult = "DRAW"
)

// Terminal methods reported with a game_over event.
const (
	MethodCheckmate            = "checkmate"
	MethodStalemate            = "stalemate"
	MethodInsufficientMaterial = "insufficient_material"
	MethodThreefoldRepetition  = "threefold_repetition"
	MethodFivefoldRepetition   = "fivefold_repetition"
	MethodFiftyMoveRule        = "fifty_move_rule"
	MethodSeventyFiveMoveRule  = "seventy_five_move_rule"
	MethodAgreement            = "agreement"
	MethodResignation          = "resignation"
	MethodTimeout              = "timeout"
	MethodDraw                 = "draw"
)

// TimeControl is the clock signature of a game: base time plus per-move
// increment, both in seconds.
type TimeControl struct {
	BaseSeconds      int `json:"base_seconds"`
	IncrementSeconds int `json:"increment_seconds"`
}

// GameMode carries the nested mode payload of a game row. CreatorColor is
// set only for matchmade games, whose colors are decided before the
// session exists.
type GameMode struct {
	IsAIGame     bool   `json:"is_ai_game"`
	Difficulty   int    `json:"difficulty,omitempty"`
	HumanColor   Color  `json:"human_color,omitempty"`
	Theme        string `json:"theme,omitempty"`
	CreatorColor Color  `json:"creator_color,omitempty"`
}

// PlayerInfo is the identity and display metadata of one player slot.
type PlayerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating *int   `json:"rating,omitempty"`
}

// GameData is the authoritative game row as fetched from persistence.
type GameData struct {
	RefID       string      `json:"ref_id"`
	FEN         string      `json:"fen"`
	TimeControl TimeControl `json:"time_control"`
	Creator     PlayerInfo  `json:"creator"`
	Opponent    PlayerInfo  `json:"opponent"`
	Status      GameStatus  `json:"status"`
	Mode        GameMode    `json:"mode"`
	CreatedAt   time.Time   `json:"created_at"`
}

// MoveRecord is the payload persisted for every non-terminal move.
type MoveRecord struct {
	GameRefID string `json:"game_ref_id"`
	MoverID   string `json:"mover_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san"`
	FEN       string `json:"fen"`
	Ply       int    `json:"ply"`
	WhiteTime int    `json:"white_time"`
	BlackTime int    `json:"black_time"`
}

// GameResultRecord is the payload persisted when a game ends.
type GameResultRecord struct {
	GameRefID   string     `json:"game_ref_id"`
	Result      GameResult `json:"result"`
	WinnerID    string     `json:"winner_id,omitempty"`
	WinnerColor Color      `json:"winner_color,omitempty"`
	Method      string     `json:"method"`
	FEN         string     `json:"fen"`
	WhiteTime   int        `json:"white_time"`
	BlackTime   int        `json:"black_time"`
}

// QueueStatus is the lifecycle status of a matchmaking queue entry.
type QueueStatus string

const (
	QueueSearching QueueStatus = "SEARCHING"
	QueueMatched   QueueStatus = "MATCHED"
	QueueCancelled QueueStatus = "CANCELLED"
	QueueExpired   QueueStatus = "EXPIRED"
)

// QueueEntry is a matchmaking queue row.
type QueueEntry struct {
	RefID            string      `json:"ref_id"`
	PlayerID         string      `json:"player_id"`
	PlayerName       string      `json:"player_name"`
	Rating           *int        `json:"rating,omitempty"`
	BaseSeconds      int         `json:"base_seconds"`
	IncrementSeconds int         `json:"increment_seconds"`
	Theme            string      `json:"theme,omitempty"`
	Status           QueueStatus `json:"status"`
	MatchedGameID    string      `json:"matched_game_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	ExpiresAt        time.Time   `json:"expires_at"`
}
