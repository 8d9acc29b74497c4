// rules/rules.go
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/wfunc/chessserver/models"
)

// StartingFEN is the canonical initial chess position.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ErrIllegalMove is returned for any candidate move the rule library
// rejects in the given position.
var ErrIllegalMove = errors.New("illegal move")

// MoveResult is the rule library's verdict on one applied move.
type MoveResult struct {
	FEN                    string
	SAN                    string
	IsCheckmate            bool
	IsStalemate            bool
	IsInsufficientMaterial bool
	IsDraw                 bool
	Method                 string
}

// Terminal reports whether the resulting position ends the game.
func (r *MoveResult) Terminal() bool {
	return r.IsCheckmate || r.IsStalemate || r.IsInsufficientMaterial || r.IsDraw
}

// Engine wraps github.com/corentings/chess/v2 behind the narrow surface
// the game session needs. It holds no state; every call reconstructs the
// position from FEN.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// ApplyMove validates from/to (+ optional promotion piece letter) against
// fen and returns the resulting position, SAN and terminal flags.
func (e *Engine) ApplyMove(fen, from, to, promotion string) (*MoveResult, error) {
	game, err := gameFromFEN(fen)
	if err != nil {
		return nil, err
	}

	uci := strings.ToLower(strings.TrimSpace(from) + strings.TrimSpace(to) + strings.TrimSpace(promotion))
	pos := game.Position()

	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := game.Move(mv, nil); err != nil {
		return nil, ErrIllegalMove
	}

	result := &MoveResult{
		FEN: game.FEN(),
		SAN: san,
	}
	e.classify(game, result)
	return result, nil
}

// SideToMove resolves which color is on move in fen.
func (e *Engine) SideToMove(fen string) (models.Color, error) {
	game, err := gameFromFEN(fen)
	if err != nil {
		return "", err
	}
	if game.Position().Turn() == nchess.White {
		return models.White, nil
	}
	return models.Black, nil
}

// ValidFEN reports whether fen parses as a legal position.
func (e *Engine) ValidFEN(fen string) bool {
	_, err := gameFromFEN(fen)
	return err == nil
}

// classify enumerates the library's terminal methods explicitly instead
// of collapsing everything unrecognized into a silent draw.
func (e *Engine) classify(game *nchess.Game, result *MoveResult) {
	if game.Outcome() == nchess.NoOutcome {
		return
	}

	switch game.Method() {
	case nchess.Checkmate:
		result.IsCheckmate = true
		result.Method = models.MethodCheckmate
	case nchess.Stalemate:
		result.IsStalemate = true
		result.IsDraw = true
		result.Method = models.MethodStalemate
	case nchess.InsufficientMaterial:
		result.IsInsufficientMaterial = true
		result.IsDraw = true
		result.Method = models.MethodInsufficientMaterial
	case nchess.ThreefoldRepetition:
		result.IsDraw = true
		result.Method = models.MethodThreefoldRepetition
	case nchess.FivefoldRepetition:
		result.IsDraw = true
		result.Method = models.MethodFivefoldRepetition
	case nchess.FiftyMoveRule:
		result.IsDraw = true
		result.Method = models.MethodFiftyMoveRule
	case nchess.SeventyFiveMoveRule:
		result.IsDraw = true
		result.Method = models.MethodSeventyFiveMoveRule
	default:
		result.IsDraw = true
		result.Method = models.MethodDraw
	}
}

func gameFromFEN(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		fen = StartingFEN
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}
