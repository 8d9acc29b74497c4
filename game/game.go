// game/game.go
package game

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/wfunc/chessserver/clock"
	"github.com/wfunc/chessserver/logger"
	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/network"
	"github.com/wfunc/chessserver/persistence"
	"github.com/wfunc/chessserver/rules"
	"github.com/wfunc/chessserver/timer"
)

// BotIdentity is the synthetic participant id of the AI side of an AI game.
const BotIdentity = "__bot__"

// Conn is the live connection handle a player slot holds. Implemented by
// session.Session; mocked in tests.
type Conn interface {
	GetID() string
	SendJSON(msgID uint16, v interface{}) error
}

// Oracle is the chess rule library consumed as a black box.
type Oracle interface {
	ApplyMove(fen, from, to, promotion string) (*rules.MoveResult, error)
	SideToMove(fen string) (models.Color, error)
}

// Deps wires a session's collaborators at construction time.
type Deps struct {
	Oracle Oracle
	Store  persistence.Store
	Timers *timer.Manager

	DisconnectGrace time.Duration
	ClockTick       time.Duration
	ClockBroadcast  time.Duration

	// OnEnded fires once after the session reaches the ended phase, so the
	// owning registry can schedule removal.
	OnEnded func(gameID string)
}

// Player is one occupied slot of a session: participant identity plus the
// live connection currently speaking for it. The connection is the only
// reassignable field (reconnection); identity and color never change.
// bound records whether the slot has ever held a connection, which is how
// a first join into a matchmade session is told apart from a reconnect.
type Player struct {
	Info  models.PlayerInfo
	Color models.Color
	Conn  Conn
	bound bool
}

// Game is the authoritative in-memory state machine of one live match.
type Game struct {
	id   string
	deps Deps
	data *models.GameData

	mu       sync.Mutex
	phase    Phase
	fen      string
	turn     models.Color
	ply      int
	creator  *Player
	opponent *Player
	white    *Player
	black    *Player

	isAIGame   bool
	humanColor models.Color
	difficulty int

	clock    *clock.Clock
	forfeits map[string]int64 // identity -> timer task id

	// connMu guards only the Conn fields so clock callbacks can fan out
	// without taking g.mu (which the move path may already hold).
	connMu sync.RWMutex
}

// New builds a session from the authoritative game row. The clock is
// created but not started; play begins when the players join.
func New(data *models.GameData, deps Deps) *Game {
	fen := data.FEN
	if fen == "" {
		fen = rules.StartingFEN
	}
	g := &Game{
		id:         data.RefID,
		deps:       deps,
		data:       data,
		phase:      PhaseWaiting,
		fen:        fen,
		isAIGame:   data.Mode.IsAIGame,
		humanColor: data.Mode.HumanColor,
		difficulty: data.Mode.Difficulty,
		forfeits:   make(map[string]int64),
	}
	if g.isAIGame && g.humanColor == "" {
		g.humanColor = models.White
	}
	g.turn, _ = deps.Oracle.SideToMove(fen)

	g.clock = clock.New(clock.Config{
		Initial:   time.Duration(data.TimeControl.BaseSeconds) * time.Second,
		Increment: time.Duration(data.TimeControl.IncrementSeconds) * time.Second,
		Tick:      deps.ClockTick,
		Broadcast: deps.ClockBroadcast,
	})
	g.clock.OnTimeout(g.handleClockTimeout)
	g.clock.OnUpdate(g.broadcastClockUpdate)
	return g
}

// NewStarted builds a session already in the active phase, used by the
// matchmaking path where colors were assigned inside the pairing
// transaction. The clock starts immediately for the side to move; the
// players bind their connections by joining.
func NewStarted(data *models.GameData, deps Deps) *Game {
	g := New(data, deps)

	g.mu.Lock()
	g.creator = &Player{Info: data.Creator, Color: data.Mode.CreatorColor}
	g.opponent = &Player{Info: data.Opponent, Color: data.Mode.CreatorColor.Opposite()}
	if g.creator.Color == models.White {
		g.white, g.black = g.creator, g.opponent
	} else {
		g.white, g.black = g.opponent, g.creator
	}
	g.phase = PhaseActive
	turn := g.turn
	g.mu.Unlock()

	g.clock.Start(turn)
	return g
}

// ID returns the session's immutable reference id.
func (g *Game) ID() string {
	return g.id
}

// Phase returns the current lifecycle phase.
func (g *Game) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// FEN returns the current position.
func (g *Game) FEN() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fen
}

// Times reports both clocks in whole seconds.
func (g *Game) Times() models.ClockTimes {
	white, black := g.clock.Times()
	return models.ClockTimes{White: white, Black: black}
}

// HasParticipant reports whether identity belongs to this session.
func (g *Game) HasParticipant(identity string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slotFor(identity) != nil
}

// AddPlayer binds a connection to the slot owned by identity. Unknown
// identities are rejected. Human-vs-human sessions start once both slots
// are connected; AI sessions start as soon as the human joins.
func (g *Game) AddPlayer(conn Conn, identity string) {
	g.mu.Lock()

	if g.phase == PhaseEnded {
		g.mu.Unlock()
		sendJSON(conn, network.MsgTypeError, models.ErrorEvent{Message: "game has already ended"})
		return
	}

	slot := g.bindSlotLocked(conn, identity)
	if slot == nil {
		g.mu.Unlock()
		sendJSON(conn, network.MsgTypeError, models.ErrorEvent{Message: "not a participant of this game"})
		return
	}

	if g.phase == PhaseActive {
		// Matchmade sessions are constructed already started; joining just
		// binds the connection and delivers the start payload.
		started := g.startedEventLocked(slot)
		g.mu.Unlock()
		sendJSON(conn, network.MsgTypeGameStarted, started)
		return
	}

	if g.isAIGame {
		g.startAIGameLocked(conn, slot)
		return
	}

	if g.creator != nil && g.creator.Conn != nil && g.opponent != nil && g.opponent.Conn != nil {
		g.startLocked()
		return
	}

	g.mu.Unlock()
	sendJSON(conn, network.MsgTypeWaitingForOpponent, models.ErrorEvent{Message: "waiting for opponent"})
}

// startLocked assigns colors, starts the clock for the side to move and
// tells each player individually. A row that already carries an
// assignment (a matchmade pairing, or a game resumed after restart)
// keeps it; otherwise a coin is flipped and the result written back so a
// rebuild of this session sees the same colors. Releases g.mu.
func (g *Game) startLocked() {
	if err := g.transitionLocked(PhaseActive); err != nil {
		g.mu.Unlock()
		return
	}

	creatorColor := g.data.Mode.CreatorColor
	if creatorColor == "" {
		creatorColor = models.White
		if rand.Intn(2) == 0 {
			creatorColor = models.Black
		}
		g.data.Mode.CreatorColor = creatorColor
	}
	g.creator.Color = creatorColor
	g.opponent.Color = creatorColor.Opposite()
	if creatorColor == models.White {
		g.white, g.black = g.creator, g.opponent
	} else {
		g.white, g.black = g.opponent, g.creator
	}
	g.persistAsync("start", func(ctx context.Context) error {
		return g.deps.Store.MarkStarted(ctx, g.id, creatorColor)
	})

	whiteEvt := g.startedEventLocked(g.white)
	blackEvt := g.startedEventLocked(g.black)
	whiteConn := g.white.Conn
	blackConn := g.black.Conn
	turn := g.turn
	g.mu.Unlock()

	g.clock.Start(turn)
	sendJSON(whiteConn, network.MsgTypeGameStarted, whiteEvt)
	sendJSON(blackConn, network.MsgTypeGameStarted, blackEvt)
	logger.Log.Infof("game %s started: white=%s black=%s", g.id, whiteEvt.White.ID, blackEvt.Black.ID)
}

// startAIGameLocked resolves the human's configured color, builds the
// synthetic bot slot on the human's connection and starts the clock for
// whichever side the starting position puts on move. Releases g.mu.
func (g *Game) startAIGameLocked(conn Conn, human *Player) {
	if err := g.transitionLocked(PhaseActive); err != nil {
		g.mu.Unlock()
		return
	}

	bot := &Player{
		Info:  models.PlayerInfo{ID: BotIdentity, Name: "Bot"},
		Color: g.humanColor.Opposite(),
		Conn:  conn, // bot moves arrive over the human's connection
	}
	human.Color = g.humanColor
	if g.creator == human {
		g.opponent = bot
	} else {
		g.creator = bot
	}
	if g.humanColor == models.White {
		g.white, g.black = human, bot
	} else {
		g.white, g.black = bot, human
	}

	creatorColor := g.creator.Color
	g.persistAsync("start", func(ctx context.Context) error {
		return g.deps.Store.MarkStarted(ctx, g.id, creatorColor)
	})

	evt := g.startedEventLocked(human)
	evt.IsAIGame = true
	evt.Difficulty = g.difficulty
	turn := g.turn
	g.mu.Unlock()

	g.clock.Start(turn)
	sendJSON(conn, network.MsgTypeGameStarted, evt)
	logger.Log.Infof("ai game %s started: human=%s color=%s difficulty=%d",
		g.id, human.Info.ID, human.Color, g.difficulty)
}

func (g *Game) startedEventLocked(p *Player) models.GameStartedEvent {
	white, black := g.clock.Times()
	evt := models.GameStartedEvent{
		GameID:     g.id,
		YourColor:  p.Color,
		FEN:        g.fen,
		Times:      models.ClockTimes{White: white, Black: black},
		IsAIGame:   g.isAIGame,
		Difficulty: g.difficulty,
	}
	if g.white != nil {
		evt.White = g.white.Info
	}
	if g.black != nil {
		evt.Black = g.black.Info
	}
	return evt
}

// bindSlotLocked records conn into the slot identity owns, creating the
// player on first join. Returns nil for identities that are not this
// game's creator or opponent.
func (g *Game) bindSlotLocked(conn Conn, identity string) *Player {
	switch identity {
	case g.data.Creator.ID:
		if g.creator == nil {
			g.creator = &Player{Info: g.data.Creator}
		}
		g.setConn(g.creator, conn)
		return g.creator
	case g.data.Opponent.ID:
		if g.data.Opponent.ID == "" {
			return nil
		}
		if g.opponent == nil {
			g.opponent = &Player{Info: g.data.Opponent}
		}
		g.setConn(g.opponent, conn)
		return g.opponent
	}
	return nil
}

func (g *Game) setConn(p *Player, conn Conn) {
	g.connMu.Lock()
	p.Conn = conn
	if conn != nil {
		p.bound = true
	}
	g.connMu.Unlock()
}

// HasBound reports whether identity's slot has ever held a connection.
// Matchmade sessions carry both slots before anyone joins, so a nil Conn
// alone cannot distinguish a first join from a dropped one.
func (g *Game) HasBound(identity string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.slotFor(identity)
	if p == nil {
		return false
	}
	g.connMu.RLock()
	defer g.connMu.RUnlock()
	return p.bound
}

// slotFor resolves identity to its player slot. Caller holds g.mu.
func (g *Game) slotFor(identity string) *Player {
	if g.creator != nil && g.creator.Info.ID == identity {
		return g.creator
	}
	if g.opponent != nil && g.opponent.Info.ID == identity {
		return g.opponent
	}
	if identity == g.data.Creator.ID || (identity == g.data.Opponent.ID && identity != "") {
		// known participant that has not joined yet
		return g.bindlessSlot(identity)
	}
	return nil
}

func (g *Game) bindlessSlot(identity string) *Player {
	if identity == g.data.Creator.ID {
		if g.creator == nil {
			g.creator = &Player{Info: g.data.Creator}
		}
		return g.creator
	}
	if g.opponent == nil {
		g.opponent = &Player{Info: g.data.Opponent}
	}
	return g.opponent
}

// playersByConn returns every slot the connection currently speaks for.
// In an AI game the human's connection owns both slots. Caller holds g.mu.
func (g *Game) playersByConn(connID string) []*Player {
	g.connMu.RLock()
	defer g.connMu.RUnlock()

	var out []*Player
	if g.creator != nil && g.creator.Conn != nil && g.creator.Conn.GetID() == connID {
		out = append(out, g.creator)
	}
	if g.opponent != nil && g.opponent.Conn != nil && g.opponent.Conn.GetID() == connID {
		out = append(out, g.opponent)
	}
	return out
}

func (g *Game) playerByColor(color models.Color) *Player {
	if color == models.White {
		return g.white
	}
	if color == models.Black {
		return g.black
	}
	return nil
}

// counterpartLocked returns the other slot. Caller holds g.mu.
func (g *Game) counterpartLocked(p *Player) *Player {
	if p == g.creator {
		return g.opponent
	}
	return g.creator
}

// broadcast fans an event out to every distinct live connection.
func (g *Game) broadcast(msgID uint16, v interface{}) {
	g.connMu.RLock()
	seen := make(map[string]Conn, 2)
	for _, p := range []*Player{g.creator, g.opponent} {
		if p == nil || p.Conn == nil {
			continue
		}
		seen[p.Conn.GetID()] = p.Conn
	}
	g.connMu.RUnlock()

	for _, conn := range seen {
		sendJSON(conn, msgID, v)
	}
}

// unicast sends an event to one slot's connection, best effort.
func (g *Game) unicast(p *Player, msgID uint16, v interface{}) {
	if p == nil {
		return
	}
	g.connMu.RLock()
	conn := p.Conn
	g.connMu.RUnlock()
	sendJSON(conn, msgID, v)
}

func (g *Game) broadcastClockUpdate(white, black int) {
	g.broadcast(network.MsgTypeClockUpdate, models.ClockUpdateEvent{
		GameID: g.id,
		White:  white,
		Black:  black,
	})
}

func sendJSON(conn Conn, msgID uint16, v interface{}) {
	if conn == nil {
		return
	}
	if err := conn.SendJSON(msgID, v); err != nil {
		logger.Log.Warnf("send msg %d failed: %v", msgID, err)
	}
}

// persistAsync runs a persistence write fire-and-forget. Failures are
// logged and never retried; gameplay state is already authoritative.
func (g *Game) persistAsync(what string, fn func(ctx context.Context) error) {
	if g.deps.Store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Log.Errorf("game %s: persist %s failed: %v", g.id, what, err)
		}
	}()
}
