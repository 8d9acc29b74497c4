// lobby/lobby.go
package lobby

import (
	"sync"

	"github.com/wfunc/chessserver/logger"
	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/network"
	"github.com/wfunc/chessserver/session"
)

// Broadcaster manages tournament/lobby room membership and fans lifecycle
// events out to the members. A reverse index from connection to rooms
// keeps disconnect cleanup O(rooms of that connection).
type Broadcaster struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*session.Session // lobby id -> session id -> session
	byConn map[string]map[string]struct{}         // session id -> lobby ids
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		rooms:  make(map[string]map[string]*session.Session),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to a lobby room. Idempotent.
func (b *Broadcaster) Join(sess *session.Session, lobbyID string) {
	b.mu.Lock()
	if _, ok := b.rooms[lobbyID]; !ok {
		b.rooms[lobbyID] = make(map[string]*session.Session)
	}
	b.rooms[lobbyID][sess.ID] = sess

	if _, ok := b.byConn[sess.ID]; !ok {
		b.byConn[sess.ID] = make(map[string]struct{})
	}
	b.byConn[sess.ID][lobbyID] = struct{}{}
	b.mu.Unlock()
}

// Leave removes the connection from a lobby room. Idempotent.
func (b *Broadcaster) Leave(sess *session.Session, lobbyID string) {
	b.mu.Lock()
	b.removeLocked(sess.ID, lobbyID)
	b.mu.Unlock()
}

// OnDisconnect removes the connection from every room it belonged to and
// discards its index entry.
func (b *Broadcaster) OnDisconnect(sess *session.Session) {
	b.mu.Lock()
	for lobbyID := range b.byConn[sess.ID] {
		b.removeLocked(sess.ID, lobbyID)
	}
	delete(b.byConn, sess.ID)
	b.mu.Unlock()
}

// removeLocked is called with b.mu held.
func (b *Broadcaster) removeLocked(sessionID, lobbyID string) {
	if members, ok := b.rooms[lobbyID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(b.rooms, lobbyID)
		}
	}
	if ids, ok := b.byConn[sessionID]; ok {
		delete(ids, lobbyID)
	}
}

// MemberCount returns the current size of a lobby room.
func (b *Broadcaster) MemberCount(lobbyID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[lobbyID])
}

func (b *Broadcaster) EmitPlayerJoined(lobbyID, playerID, name string) {
	b.emit(lobbyID, network.MsgTypeLobbyPlayerJoined, models.LobbyEvent{
		LobbyID:  lobbyID,
		PlayerID: playerID,
		Name:     name,
	})
}

func (b *Broadcaster) EmitTournamentStarted(lobbyID string) {
	b.emit(lobbyID, network.MsgTypeLobbyTournamentStarted, models.LobbyEvent{LobbyID: lobbyID})
}

func (b *Broadcaster) EmitTournamentEnded(lobbyID string) {
	b.emit(lobbyID, network.MsgTypeLobbyTournamentEnded, models.LobbyEvent{LobbyID: lobbyID})
}

func (b *Broadcaster) EmitGameStarted(lobbyID, gameID string) {
	b.emit(lobbyID, network.MsgTypeLobbyGameStarted, models.LobbyEvent{LobbyID: lobbyID, GameID: gameID})
}

func (b *Broadcaster) EmitGameEnded(lobbyID, gameID string) {
	b.emit(lobbyID, network.MsgTypeLobbyGameEnded, models.LobbyEvent{LobbyID: lobbyID, GameID: gameID})
}

func (b *Broadcaster) EmitMatchFound(lobbyID, gameID string) {
	b.emit(lobbyID, network.MsgTypeLobbyMatchFound, models.LobbyEvent{LobbyID: lobbyID, GameID: gameID})
}

// emit fans an event out to a snapshot of the room's current membership.
func (b *Broadcaster) emit(lobbyID string, msgID uint16, v interface{}) {
	b.mu.RLock()
	members := make([]*session.Session, 0, len(b.rooms[lobbyID]))
	for _, sess := range b.rooms[lobbyID] {
		members = append(members, sess)
	}
	b.mu.RUnlock()

	for _, sess := range members {
		if err := sess.SendJSON(msgID, v); err != nil {
			logger.Log.Warnf("lobby %s: send to %s failed: %v", lobbyID, sess.ID, err)
		}
	}
}
