// rules/rules_test.go
package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/wfunc/chessserver/models"
)

func TestEngine_ApplyMove_Opening(t *testing.T) {
	engine := NewEngine()

	result, err := engine.ApplyMove(StartingFEN, "e2", "e4", "")
	if err != nil {
		t.Fatalf("Legal opening move rejected: %v", err)
	}

	if result.SAN != "e4" {
		t.Errorf("Expected SAN e4, got %s", result.SAN)
	}
	if !strings.Contains(result.FEN, " b ") {
		t.Errorf("Expected black to move in resulting FEN, got %s", result.FEN)
	}
	if result.Terminal() {
		t.Error("Opening move should not be terminal")
	}
}

func TestEngine_ApplyMove_EmptyFENMeansStartingPosition(t *testing.T) {
	engine := NewEngine()

	if _, err := engine.ApplyMove("", "g1", "f3", ""); err != nil {
		t.Fatalf("Expected empty FEN to resolve to the starting position: %v", err)
	}
	if _, err := engine.ApplyMove("startpos", "d2", "d4", ""); err != nil {
		t.Fatalf("Expected startpos to resolve to the starting position: %v", err)
	}
}

func TestEngine_ApplyMove_Illegal(t *testing.T) {
	engine := NewEngine()

	cases := []struct {
		name     string
		from, to string
	}{
		{"pawn three squares", "e2", "e5"},
		{"empty origin square", "e4", "e5"},
		{"knight to occupied friendly square", "g1", "e2"},
		{"moving opponent piece", "e7", "e5"},
	}
	for _, tc := range cases {
		_, err := engine.ApplyMove(StartingFEN, tc.from, tc.to, "")
		if !errors.Is(err, ErrIllegalMove) {
			t.Errorf("%s: expected ErrIllegalMove, got %v", tc.name, err)
		}
	}
}

func TestEngine_ApplyMove_BadFEN(t *testing.T) {
	engine := NewEngine()

	if _, err := engine.ApplyMove("not a position", "e2", "e4", ""); err == nil {
		t.Error("Expected an error for a malformed FEN")
	}
	if engine.ValidFEN("not a position") {
		t.Error("ValidFEN should reject garbage")
	}
	if !engine.ValidFEN(StartingFEN) {
		t.Error("ValidFEN should accept the starting position")
	}
}

func TestEngine_ApplyMove_FoolsMateCheckmate(t *testing.T) {
	engine := NewEngine()

	fen := StartingFEN
	moves := [][2]string{
		{"f2", "f3"},
		{"e7", "e5"},
		{"g2", "g4"},
	}
	for _, mv := range moves {
		result, err := engine.ApplyMove(fen, mv[0], mv[1], "")
		if err != nil {
			t.Fatalf("Move %s%s failed: %v", mv[0], mv[1], err)
		}
		fen = result.FEN
	}

	result, err := engine.ApplyMove(fen, "d8", "h4", "")
	if err != nil {
		t.Fatalf("Qh4# failed: %v", err)
	}
	if !result.IsCheckmate {
		t.Error("Expected checkmate flag on Qh4#")
	}
	if result.Method != models.MethodCheckmate {
		t.Errorf("Expected method %s, got %s", models.MethodCheckmate, result.Method)
	}
	if !result.Terminal() {
		t.Error("Checkmate must be terminal")
	}
	if result.SAN != "Qh4#" {
		t.Errorf("Expected SAN Qh4#, got %s", result.SAN)
	}
}

func TestEngine_ApplyMove_Stalemate(t *testing.T) {
	engine := NewEngine()

	// Qc7 from here stalemates the black king on a8.
	result, err := engine.ApplyMove("k7/8/1K6/8/8/8/8/2Q5 w - - 0 1", "c1", "c7", "")
	if err != nil {
		t.Fatalf("Stalemating move failed: %v", err)
	}
	if !result.IsStalemate {
		t.Error("Expected stalemate flag")
	}
	if !result.IsDraw {
		t.Error("Stalemate is a draw")
	}
	if result.Method != models.MethodStalemate {
		t.Errorf("Expected method %s, got %s", models.MethodStalemate, result.Method)
	}
}

func TestEngine_ApplyMove_Promotion(t *testing.T) {
	engine := NewEngine()

	result, err := engine.ApplyMove("8/P6k/8/8/8/8/8/K7 w - - 0 1", "a7", "a8", "q")
	if err != nil {
		t.Fatalf("Promotion rejected: %v", err)
	}
	if !strings.HasPrefix(result.FEN, "Q7/") {
		t.Errorf("Expected a white queen on a8, got FEN %s", result.FEN)
	}
	if result.SAN != "a8=Q" {
		t.Errorf("Expected SAN a8=Q, got %s", result.SAN)
	}
}

func TestEngine_SideToMove(t *testing.T) {
	engine := NewEngine()

	color, err := engine.SideToMove(StartingFEN)
	if err != nil {
		t.Fatalf("SideToMove failed: %v", err)
	}
	if color != models.White {
		t.Errorf("Expected white to move, got %s", color)
	}

	result, err := engine.ApplyMove(StartingFEN, "e2", "e4", "")
	if err != nil {
		t.Fatalf("ApplyMove failed: %v", err)
	}
	color, err = engine.SideToMove(result.FEN)
	if err != nil {
		t.Fatalf("SideToMove failed: %v", err)
	}
	if color != models.Black {
		t.Errorf("Expected black to move after e4, got %s", color)
	}
}

func TestEngine_CaseInsensitiveSquares(t *testing.T) {
	engine := NewEngine()

	if _, err := engine.ApplyMove(StartingFEN, "E2", "E4", ""); err != nil {
		t.Errorf("Uppercase squares should be accepted: %v", err)
	}
}
