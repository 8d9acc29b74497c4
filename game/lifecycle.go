// game/lifecycle.go
package game

import (
	"context"
	"errors"

	"github.com/wfunc/chessserver/logger"
	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/network"
)

// ErrGameEnded reports an action arriving after the session already ended.
var ErrGameEnded = errors.New("game has already ended")

// HandleResignation ends the game with the resigning player's color as
// loser. A no-op when the game already ended or conn is unknown.
func (g *Game) HandleResignation(conn Conn) {
	g.mu.Lock()
	if g.phase == PhaseEnded {
		g.mu.Unlock()
		return
	}
	players := g.playersByConn(conn.GetID())
	if len(players) == 0 {
		g.mu.Unlock()
		return
	}
	// In an AI game the shared connection always resigns the human side.
	resigner := players[0]
	if g.isAIGame {
		if h := g.playerByColor(g.humanColor); h != nil {
			resigner = h
		}
	}
	winnerColor := models.Color("")
	result := models.ResultOpponentWon
	if resigner.Color != "" {
		winnerColor = resigner.Color.Opposite()
		result = g.resultForWinnerLocked(winnerColor)
	} else if resigner == g.opponent {
		result = models.ResultCreatorWon
	}
	g.mu.Unlock()

	g.End(result, winnerColor, models.MethodResignation)
}

// HandleDrawOffer notifies the counterpart, best effort. No state change.
func (g *Game) HandleDrawOffer(conn Conn) {
	g.mu.Lock()
	if g.phase != PhaseActive {
		g.mu.Unlock()
		return
	}
	players := g.playersByConn(conn.GetID())
	if len(players) == 0 {
		g.mu.Unlock()
		return
	}
	offerer := players[0]
	other := g.counterpartLocked(offerer)
	isAI := g.isAIGame
	g.mu.Unlock()

	if isAI {
		// the bot shares the human's connection; nothing to notify
		return
	}
	g.unicast(other, network.MsgTypeDrawOffered, models.ErrorEvent{Message: "opponent offers a draw"})
}

// HandleDrawAcceptance unconditionally ends the game as a draw.
func (g *Game) HandleDrawAcceptance(conn Conn) {
	g.mu.Lock()
	if g.phase == PhaseEnded || len(g.playersByConn(conn.GetID())) == 0 {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.End(models.ResultDraw, "", models.MethodAgreement)
}

// HandleDrawDecline is advisory only.
func (g *Game) HandleDrawDecline(conn Conn) {
	g.mu.Lock()
	if g.phase != PhaseActive {
		g.mu.Unlock()
		return
	}
	players := g.playersByConn(conn.GetID())
	if len(players) == 0 {
		g.mu.Unlock()
		return
	}
	other := g.counterpartLocked(players[0])
	g.mu.Unlock()

	g.unicast(other, network.MsgTypeDrawDeclined, models.ErrorEvent{Message: "draw declined"})
}

// HandleDisconnect starts a forfeit timer for each player the connection
// spoke for. A no-op before start, after the end, or for strangers. The
// bot side of an AI game cannot disconnect.
func (g *Game) HandleDisconnect(conn Conn) {
	g.mu.Lock()
	if g.phase != PhaseActive {
		g.mu.Unlock()
		return
	}
	players := g.playersByConn(conn.GetID())
	if len(players) == 0 {
		g.mu.Unlock()
		return
	}

	for _, p := range players {
		if p.Info.ID == BotIdentity {
			continue
		}
		identity := p.Info.ID
		if _, pending := g.forfeits[identity]; pending {
			continue
		}
		taskID := g.deps.Timers.Schedule(g.deps.DisconnectGrace, 0, func() {
			g.forfeit(identity)
		})
		g.forfeits[identity] = taskID
		g.setConn(p, nil)

		other := g.counterpartLocked(p)
		isAI := g.isAIGame
		logger.Log.Infof("game %s: %s disconnected, forfeit in %s", g.id, identity, g.deps.DisconnectGrace)
		if !isAI {
			g.mu.Unlock()
			g.unicast(other, network.MsgTypeOpponentDisconnected, models.ErrorEvent{Message: "opponent disconnected"})
			g.mu.Lock()
		}
	}
	g.mu.Unlock()
}

// forfeit fires when the grace period expires without a reconnect.
func (g *Game) forfeit(identity string) {
	g.mu.Lock()
	if _, pending := g.forfeits[identity]; !pending || g.phase == PhaseEnded {
		g.mu.Unlock()
		return
	}
	delete(g.forfeits, identity)

	loser := g.slotFor(identity)
	if loser == nil {
		g.mu.Unlock()
		return
	}
	winnerColor := models.Color("")
	result := models.ResultCreatorWon
	if loser.Color != "" {
		winnerColor = loser.Color.Opposite()
		result = g.resultForWinnerLocked(winnerColor)
	} else if loser == g.creator {
		result = models.ResultOpponentWon
	}
	g.mu.Unlock()

	logger.Log.Infof("game %s: %s forfeits on disconnect timeout", g.id, identity)
	g.End(result, winnerColor, models.MethodTimeout)
}

// HandleReconnect cancels the pending forfeit, rebinds the slot to the new
// connection, notifies the counterpart and re-sends a full snapshot so the
// client converges no matter how much it missed.
func (g *Game) HandleReconnect(conn Conn, identity string) error {
	g.mu.Lock()
	if g.phase == PhaseEnded {
		g.mu.Unlock()
		return ErrGameEnded
	}
	slot := g.slotFor(identity)
	if slot == nil {
		g.mu.Unlock()
		return errors.New("not a participant of this game")
	}

	if taskID, pending := g.forfeits[identity]; pending {
		g.deps.Timers.Cancel(taskID)
		delete(g.forfeits, identity)
	}
	g.setConn(slot, conn)
	if g.isAIGame {
		// the bot rides the human's connection
		for _, p := range []*Player{g.creator, g.opponent} {
			if p != nil && p.Info.ID == BotIdentity {
				g.setConn(p, conn)
			}
		}
	}

	other := g.counterpartLocked(slot)
	started := g.phase == PhaseActive
	snapshot := g.snapshotLocked(slot)
	isAI := g.isAIGame
	g.mu.Unlock()

	if started {
		sendJSON(conn, network.MsgTypeGameState, snapshot)
		if !isAI {
			g.unicast(other, network.MsgTypeOpponentReconnected, models.ErrorEvent{Message: "opponent reconnected"})
		}
	} else {
		sendJSON(conn, network.MsgTypeWaitingForOpponent, models.ErrorEvent{Message: "waiting for opponent"})
	}
	logger.Log.Infof("game %s: %s reconnected", g.id, identity)
	return nil
}

func (g *Game) snapshotLocked(p *Player) models.GameStateEvent {
	white, black := g.clock.Times()
	return models.GameStateEvent{
		GameID:    g.id,
		YourColor: p.Color,
		FEN:       g.fen,
		Turn:      g.turn,
		Times:     models.ClockTimes{White: white, Black: black},
		Started:   g.phase != PhaseWaiting,
		Ended:     g.phase == PhaseEnded,
	}
}

// handleClockTimeout is the clock's timeout callback: the flagged side
// loses. The clock has already cleared its active color.
func (g *Game) handleClockTimeout(flagged models.Color) {
	g.mu.Lock()
	if g.phase == PhaseEnded {
		g.mu.Unlock()
		return
	}
	winner := flagged.Opposite()
	result := g.resultForWinnerLocked(winner)
	g.mu.Unlock()

	g.End(result, winner, models.MethodTimeout)
}

// End finishes the game: stops the clock, broadcasts exactly one terminal
// event and fires the outcome persist. Idempotent.
func (g *Game) End(result models.GameResult, winnerColor models.Color, method string) {
	g.mu.Lock()
	if err := g.transitionLocked(PhaseEnded); err != nil {
		g.mu.Unlock()
		return
	}
	g.clock.Stop()

	for identity, taskID := range g.forfeits {
		g.deps.Timers.Cancel(taskID)
		delete(g.forfeits, identity)
	}

	white, black := g.clock.Times()
	winnerID := ""
	if p := g.playerByColor(winnerColor); p != nil {
		winnerID = p.Info.ID
	}
	evt := models.GameOverEvent{
		GameID:      g.id,
		Result:      result,
		WinnerColor: winnerColor,
		Method:      method,
		FEN:         g.fen,
		Times:       models.ClockTimes{White: white, Black: black},
	}
	record := &models.GameResultRecord{
		GameRefID:   g.id,
		Result:      result,
		WinnerID:    winnerID,
		WinnerColor: winnerColor,
		Method:      method,
		FEN:         g.fen,
		WhiteTime:   white,
		BlackTime:   black,
	}
	g.mu.Unlock()

	g.broadcast(network.MsgTypeGameOver, evt)
	logger.Log.Infof("game %s over: result=%s winner=%s method=%s", g.id, result, winnerColor, method)

	g.persistAsync("outcome", func(ctx context.Context) error {
		return g.deps.Store.CompleteGame(ctx, record)
	})

	if g.deps.OnEnded != nil {
		g.deps.OnEnded(g.id)
	}
}

// Destroy stops the clock and clears pending forfeit timers. Idempotent.
func (g *Game) Destroy() {
	g.mu.Lock()
	for identity, taskID := range g.forfeits {
		g.deps.Timers.Cancel(taskID)
		delete(g.forfeits, identity)
	}
	g.mu.Unlock()
	g.clock.Destroy()
}
