// models/events.go
package models

// Inbound event payloads (JSON body of a framed packet).

type JoinGameRequest struct {
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name,omitempty"`
}

type MoveRequest struct {
	GameID    string `json:"game_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type GameActionRequest struct {
	GameID string `json:"game_id"`
}

type FindMatchRequest struct {
	PlayerID         string `json:"player_id"`
	Name             string `json:"name,omitempty"`
	Rating           *int   `json:"rating,omitempty"`
	BaseSeconds      int    `json:"base_seconds"`
	IncrementSeconds int    `json:"increment_seconds"`
	Theme            string `json:"theme,omitempty"`
}

type CancelSearchRequest struct {
	EntryID string `json:"entry_id"`
}

type LobbyRequest struct {
	LobbyID  string `json:"lobby_id"`
	PlayerID string `json:"player_id,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Outbound event payloads.

type ClockTimes struct {
	White int `json:"white"`
	Black int `json:"black"`
}

type GameStartedEvent struct {
	GameID     string     `json:"game_id"`
	YourColor  Color      `json:"your_color"`
	FEN        string     `json:"fen"`
	Times      ClockTimes `json:"times"`
	White      PlayerInfo `json:"white"`
	Black      PlayerInfo `json:"black"`
	IsAIGame   bool       `json:"is_ai_game,omitempty"`
	Difficulty int        `json:"difficulty,omitempty"`
}

type MoveMadeEvent struct {
	GameID string     `json:"game_id"`
	From   string     `json:"from"`
	To     string     `json:"to"`
	SAN    string     `json:"san"`
	FEN    string     `json:"fen"`
	Times  ClockTimes `json:"times"`
	Turn   Color      `json:"turn"`
}

type MoveErrorEvent struct {
	GameID  string `json:"game_id"`
	Message string `json:"message"`
}

type ClockUpdateEvent struct {
	GameID string `json:"game_id"`
	White  int    `json:"white"`
	Black  int    `json:"black"`
}

type GameOverEvent struct {
	GameID      string     `json:"game_id"`
	Result      GameResult `json:"result"`
	WinnerColor Color      `json:"winner_color,omitempty"`
	Method      string     `json:"method"`
	FEN         string     `json:"fen"`
	Times       ClockTimes `json:"times"`
}

// GameStateEvent is the full snapshot re-sent on reconnection.
type GameStateEvent struct {
	GameID    string     `json:"game_id"`
	YourColor Color      `json:"your_color,omitempty"`
	FEN       string     `json:"fen"`
	Turn      Color      `json:"turn"`
	Times     ClockTimes `json:"times"`
	Started   bool       `json:"started"`
	Ended     bool       `json:"ended"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type MatchFoundEvent struct {
	GameID   string     `json:"game_id"`
	Opponent PlayerInfo `json:"opponent"`
}

type SearchStartedEvent struct {
	EntryID   string `json:"entry_id"`
	ExpiresIn int    `json:"expires_in"`
}

// SearchExpiredEvent tells the searcher no opponent was found; the client
// may fall back to a bot game.
type SearchExpiredEvent struct {
	EntryID  string `json:"entry_id"`
	BotOffer bool   `json:"bot_offer"`
}

type LobbyEvent struct {
	LobbyID  string `json:"lobby_id"`
	PlayerID string `json:"player_id,omitempty"`
	Name     string `json:"name,omitempty"`
	GameID   string `json:"game_id,omitempty"`
}
