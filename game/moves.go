// game/moves.go
package game

import (
	"context"
	"errors"

	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/network"
	"github.com/wfunc/chessserver/rules"
)

// MakeMove validates and applies a move coming in over conn. Rejections
// are signalled back as move_error events, never hard errors; no state is
// mutated on a rejected move.
func (g *Game) MakeMove(conn Conn, from, to, promotion string) {
	g.mu.Lock()

	if g.phase == PhaseEnded {
		g.mu.Unlock()
		g.moveError(conn, "game has already ended")
		return
	}
	if g.phase != PhaseActive {
		g.mu.Unlock()
		g.moveError(conn, "game has not started")
		return
	}

	players := g.playersByConn(conn.GetID())
	if len(players) == 0 {
		g.mu.Unlock()
		g.moveError(conn, "not a player in this game")
		return
	}

	// The AI client relays the bot's reply over the human's connection, so
	// an AI game trusts the connection for either color; human-vs-human
	// enforces turn ownership strictly.
	var mover *Player
	if g.isAIGame {
		mover = g.playerByColor(g.turn)
	} else {
		mover = players[0]
		if mover.Color != g.turn {
			g.mu.Unlock()
			g.moveError(conn, "not your turn")
			return
		}
	}
	if mover == nil {
		g.mu.Unlock()
		g.moveError(conn, "no player on move")
		return
	}

	result, err := g.deps.Oracle.ApplyMove(g.fen, from, to, promotion)
	if err != nil {
		g.mu.Unlock()
		if errors.Is(err, rules.ErrIllegalMove) {
			g.moveError(conn, "illegal move")
		} else {
			g.moveError(conn, "move could not be processed")
		}
		return
	}

	moverColor := mover.Color
	g.fen = result.FEN
	g.turn = moverColor.Opposite()
	g.ply++
	ply := g.ply

	// Final deduction for the mover, increment, then hand the clock to the
	// new side to move (unless the game just ended).
	g.clock.Stop()
	g.clock.AddIncrement(moverColor)
	if !result.Terminal() {
		g.clock.Start(g.turn)
	}

	white, black := g.clock.Times()
	moveEvt := models.MoveMadeEvent{
		GameID: g.id,
		From:   from,
		To:     to,
		SAN:    result.SAN,
		FEN:    result.FEN,
		Times:  models.ClockTimes{White: white, Black: black},
		Turn:   g.turn,
	}

	if result.Terminal() {
		endResult, winnerColor, method := g.terminalVerdictLocked(moverColor, result)
		g.mu.Unlock()
		g.broadcast(network.MsgTypeMoveMade, moveEvt)
		g.End(endResult, winnerColor, method)
		return
	}
	g.mu.Unlock()

	g.broadcast(network.MsgTypeMoveMade, moveEvt)

	record := &models.MoveRecord{
		GameRefID: g.id,
		MoverID:   mover.Info.ID,
		From:      from,
		To:        to,
		Promotion: promotion,
		SAN:       result.SAN,
		FEN:       result.FEN,
		Ply:       ply,
		WhiteTime: white,
		BlackTime: black,
	}
	g.persistAsync("move", func(ctx context.Context) error {
		return g.deps.Store.PersistMove(ctx, record)
	})
}

// terminalVerdictLocked maps the oracle's terminal flags onto a game
// result. Checkmate is won by the side that just moved; every draw flavor
// keeps its explicit method. Caller holds g.mu.
func (g *Game) terminalVerdictLocked(moverColor models.Color, result *rules.MoveResult) (models.GameResult, models.Color, string) {
	if result.IsCheckmate {
		return g.resultForWinnerLocked(moverColor), moverColor, models.MethodCheckmate
	}
	method := result.Method
	if method == "" {
		method = models.MethodDraw
	}
	return models.ResultDraw, "", method
}

// resultForWinnerLocked translates a winning color into the slot-relative
// result. Caller holds g.mu.
func (g *Game) resultForWinnerLocked(winner models.Color) models.GameResult {
	p := g.playerByColor(winner)
	if p == g.creator {
		return models.ResultCreatorWon
	}
	return models.ResultOpponentWon
}

func (g *Game) moveError(conn Conn, message string) {
	sendJSON(conn, network.MsgTypeMoveError, models.MoveErrorEvent{
		GameID:  g.id,
		Message: message,
	})
}
