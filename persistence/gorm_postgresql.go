// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/chessserver/models"
)

// GormPostgreSQL implements Store on PostgreSQL via GORM.
type GormPostgreSQL struct {
	db *gorm.DB
}

func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	gormLogger := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gormlogger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormGame{},
		&models.GormMove{},
		&models.GormQueueEntry{},
		&models.GormCuratedPosition{},
	)
}

// FetchGameByRef loads the authoritative game row for session construction.
func (p *GormPostgreSQL) FetchGameByRef(ctx context.Context, gameRefID string) (*models.GameData, error) {
	var row models.GormGame
	err := p.db.WithContext(ctx).Where("ref_id = ?", gameRefID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return gameDataFromRow(&row), nil
}

// CreateGame inserts a new game row. Used by the matchmaking path when a
// pairing succeeds outside a locked queue transaction (invitations).
func (p *GormPostgreSQL) CreateGame(ctx context.Context, data *models.GameData) error {
	row := rowFromGameData(data)
	return p.db.WithContext(ctx).Create(row).Error
}

// MarkStarted flips the row to in-progress and records the color
// assignment in the mode payload, so a session rebuilt from this row
// seats the players the same way.
func (p *GormPostgreSQL) MarkStarted(ctx context.Context, gameRefID string, creatorColor models.Color) error {
	var row models.GormGame
	err := p.db.WithContext(ctx).Where("ref_id = ?", gameRefID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrGameNotFound
	}
	if err != nil {
		return err
	}

	if row.Mode == nil {
		row.Mode = map[string]interface{}{}
	}
	row.Mode["creator_color"] = string(creatorColor)
	row.Status = string(models.StatusInProgress)
	return p.db.WithContext(ctx).Save(&row).Error
}

// PersistMove appends one half-move. Fire-and-forget from the caller.
func (p *GormPostgreSQL) PersistMove(ctx context.Context, move *models.MoveRecord) error {
	row := models.GormMove{
		GameRefID: move.GameRefID,
		MoverID:   move.MoverID,
		FromSq:    move.From,
		ToSq:      move.To,
		Promotion: move.Promotion,
		SAN:       move.SAN,
		FEN:       move.FEN,
		Ply:       move.Ply,
		WhiteTime: move.WhiteTime,
		BlackTime: move.BlackTime,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	return p.db.WithContext(ctx).Model(&models.GormGame{}).
		Where("ref_id = ?", move.GameRefID).
		Updates(map[string]interface{}{
			"fen":        move.FEN,
			"status":     string(models.StatusInProgress),
			"white_time": move.WhiteTime,
			"black_time": move.BlackTime,
		}).Error
}

// CompleteGame records the final outcome of a session.
func (p *GormPostgreSQL) CompleteGame(ctx context.Context, result *models.GameResultRecord) error {
	return p.db.WithContext(ctx).Model(&models.GormGame{}).
		Where("ref_id = ?", result.GameRefID).
		Updates(map[string]interface{}{
			"status":        string(models.StatusCompleted),
			"result":        string(result.Result),
			"winner_id":     result.WinnerID,
			"result_method": result.Method,
			"final_fen":     result.FEN,
			"white_time":    result.WhiteTime,
			"black_time":    result.BlackTime,
		}).Error
}

func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gameDataFromRow(row *models.GormGame) *models.GameData {
	data := &models.GameData{
		RefID: row.RefID,
		FEN:   row.FEN,
		TimeControl: models.TimeControl{
			BaseSeconds:      row.BaseSeconds,
			IncrementSeconds: row.IncrementSeconds,
		},
		Creator: models.PlayerInfo{
			ID:     row.CreatorID,
			Name:   row.CreatorName,
			Rating: row.CreatorRating,
		},
		Opponent: models.PlayerInfo{
			ID:     row.OpponentID,
			Name:   row.OpponentName,
			Rating: row.OpponentRating,
		},
		Status:    models.GameStatus(row.Status),
		CreatedAt: row.CreatedAt,
	}
	data.Mode = modeFromJSON(row.Mode)
	return data
}

func rowFromGameData(data *models.GameData) *models.GormGame {
	return &models.GormGame{
		RefID:            data.RefID,
		FEN:              data.FEN,
		BaseSeconds:      data.TimeControl.BaseSeconds,
		IncrementSeconds: data.TimeControl.IncrementSeconds,
		CreatorID:        data.Creator.ID,
		CreatorName:      data.Creator.Name,
		CreatorRating:    data.Creator.Rating,
		OpponentID:       data.Opponent.ID,
		OpponentName:     data.Opponent.Name,
		OpponentRating:   data.Opponent.Rating,
		Status:           string(data.Status),
		Mode:             modeToJSON(data.Mode),
	}
}

func modeFromJSON(raw map[string]interface{}) models.GameMode {
	var mode models.GameMode
	if raw == nil {
		return mode
	}
	if v, ok := raw["is_ai_game"].(bool); ok {
		mode.IsAIGame = v
	}
	if v, ok := raw["difficulty"].(float64); ok {
		mode.Difficulty = int(v)
	}
	if v, ok := raw["human_color"].(string); ok {
		mode.HumanColor = models.Color(v)
	}
	if v, ok := raw["theme"].(string); ok {
		mode.Theme = v
	}
	if v, ok := raw["creator_color"].(string); ok {
		mode.CreatorColor = models.Color(v)
	}
	return mode
}

func modeToJSON(mode models.GameMode) map[string]interface{} {
	return map[string]interface{}{
		"is_ai_game":    mode.IsAIGame,
		"difficulty":    mode.Difficulty,
		"human_color":   string(mode.HumanColor),
		"theme":         mode.Theme,
		"creator_color": string(mode.CreatorColor),
	}
}

// GetPlayerStats aggregates a participant's completed games.
func (p *GormPostgreSQL) GetPlayerStats(playerID string) (map[string]interface{}, error) {
	var stats map[string]interface{}

	err := p.db.Raw(
		`
        SELECT
            COUNT(*) as total_games,
            SUM(CASE WHEN (result = 'CREATOR_WON' AND creator_id = @id)
                       OR (result = 'OPPONENT_WON' AND opponent_id = @id)
                THEN 1 ELSE 0 END) as wins,
            SUM(CASE WHEN (result = 'OPPONENT_WON' AND creator_id = @id)
                       OR (result = 'CREATOR_WON' AND opponent_id = @id)
                THEN 1 ELSE 0 END) as losses,
            SUM(CASE WHEN result = 'DRAW' THEN 1 ELSE 0 END) as draws
        FROM gorm_games
        WHERE status = 'COMPLETED'
          AND (creator_id = @id OR opponent_id = @id)`,
		map[string]interface{}{"id": playerID},
	).Scan(&stats).Error

	return stats, err
}

// RecentGames lists a participant's latest completed games.
func (p *GormPostgreSQL) RecentGames(playerID string, limit int) ([]models.GormGame, error) {
	var rows []models.GormGame
	err := p.db.
		Where("status = ? AND (creator_id = ? OR opponent_id = ?)",
			string(models.StatusCompleted), playerID, playerID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
