// services/player_service.go
package services

import (
	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/persistence"
)

// PlayerService answers ops queries about a participant's match history.
type PlayerService struct {
	db *persistence.GormPostgreSQL
}

func NewPlayerService(db *persistence.GormPostgreSQL) *PlayerService {
	return &PlayerService{db: db}
}

// GetPlayerWithStats bundles aggregate results with the latest games.
func (s *PlayerService) GetPlayerWithStats(playerID string) (map[string]interface{}, error) {
	stats, err := s.db.GetPlayerStats(playerID)
	if err != nil {
		return nil, err
	}

	recent, err := s.db.RecentGames(playerID, 10)
	if err != nil {
		return nil, err
	}

	games := make([]map[string]interface{}, 0, len(recent))
	for _, g := range recent {
		games = append(games, summarize(&g))
	}

	return map[string]interface{}{
		"player_id": playerID,
		"stats":     stats,
		"recent":    games,
	}, nil
}

func summarize(g *models.GormGame) map[string]interface{} {
	return map[string]interface{}{
		"ref_id":   g.RefID,
		"creator":  g.CreatorID,
		"opponent": g.OpponentID,
		"result":   g.Result,
		"method":   g.ResultMethod,
		"fen":      g.FinalFEN,
	}
}
