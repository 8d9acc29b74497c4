package network

// Message ids for the framed websocket protocol. Inbound ids are what
// clients send; outbound ids are what the server pushes.
const (
	MsgTypeHeartbeat = 1

	// Inbound game events
	MsgTypeJoinGame    = 101
	MsgTypeMove        = 102
	MsgTypeResign      = 103
	MsgTypeOfferDraw   = 104
	MsgTypeAcceptDraw  = 105
	MsgTypeDeclineDraw = 106
	MsgTypeReconnect   = 107

	// Inbound matchmaking events
	MsgTypeFindMatch    = 121
	MsgTypeCancelSearch = 122

	// Inbound lobby events
	MsgTypeJoinLobby  = 131
	MsgTypeLeaveLobby = 132

	// Outbound game events
	MsgTypeWaitingForOpponent   = 201
	MsgTypeGameStarted          = 202
	MsgTypeMoveMade             = 203
	MsgTypeMoveError            = 204
	MsgTypeClockUpdate          = 205
	MsgTypeDrawOffered          = 206
	MsgTypeDrawDeclined         = 207
	MsgTypeOpponentDisconnected = 208
	MsgTypeOpponentReconnected  = 209
	MsgTypeGameOver             = 210
	MsgTypeGameState            = 211
	MsgTypeError                = 212

	// Outbound matchmaking events
	MsgTypeSearchStarted = 221
	MsgTypeMatchFound    = 222
	MsgTypeSearchExpired = 223

	// Outbound lobby events
	MsgTypeLobbyPlayerJoined      = 231
	MsgTypeLobbyTournamentStarted = 232
	MsgTypeLobbyTournamentEnded   = 233
	MsgTypeLobbyGameStarted       = 234
	MsgTypeLobbyGameEnded         = 235
	MsgTypeLobbyMatchFound        = 236
)
