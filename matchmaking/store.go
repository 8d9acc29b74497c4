// matchmaking/store.go
package matchmaking

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/rules"
)

// OpenDB opens the matcher's own raw connection pool. The queue needs
// FOR UPDATE SKIP LOCKED reads, so the matcher talks SQL directly instead
// of going through the persistence collaborator.
func OpenDB(host string, port int, user, password, dbname string) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// hasSearchingEntry is the idempotency guard: one Searching entry per
// participant. An overdue leftover the sweep has not reached yet is
// expired here, inside the same transaction, so a re-search never leaves
// two Searching rows for the same player.
func hasSearchingEntry(ctx context.Context, tx *sql.Tx, playerID string) (bool, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE gorm_queue_entries
		 SET status = $1
		 WHERE player_id = $2 AND status = $3 AND expires_at <= now()`,
		string(models.QueueExpired), playerID, string(models.QueueSearching),
	); err != nil {
		return false, err
	}

	var refID string
	err := tx.QueryRowContext(ctx,
		`SELECT ref_id FROM gorm_queue_entries
		 WHERE player_id = $1 AND status = $2
		 LIMIT 1`,
		playerID, string(models.QueueSearching),
	).Scan(&refID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// lockCandidates selects up to limit Searching entries with the same
// time-control signature, oldest first, skipping rows a concurrent
// matcher already holds.
func lockCandidates(ctx context.Context, tx *sql.Tx, req *models.FindMatchRequest, limit int) ([]*models.QueueEntry, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT ref_id, player_id, player_name, rating, theme, created_at
		 FROM gorm_queue_entries
		 WHERE status = $1
		   AND base_seconds = $2 AND increment_seconds = $3
		   AND player_id <> $4
		   AND expires_at > now()
		 ORDER BY created_at ASC
		 LIMIT $5
		 FOR UPDATE SKIP LOCKED`,
		string(models.QueueSearching), req.BaseSeconds, req.IncrementSeconds, req.PlayerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		e := &models.QueueEntry{
			Status:           models.QueueSearching,
			BaseSeconds:      req.BaseSeconds,
			IncrementSeconds: req.IncrementSeconds,
		}
		var rating sql.NullInt64
		var theme sql.NullString
		if err := rows.Scan(&e.RefID, &e.PlayerID, &e.PlayerName, &rating, &theme, &e.CreatedAt); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := int(rating.Int64)
			e.Rating = &v
		}
		e.Theme = theme.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertQueueEntry(ctx context.Context, tx *sql.Tx, e *models.QueueEntry) error {
	var rating interface{}
	if e.Rating != nil {
		rating = *e.Rating
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO gorm_queue_entries
		 (ref_id, player_id, player_name, rating, base_seconds, increment_seconds,
		  theme, status, created_at, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.RefID, e.PlayerID, e.PlayerName, rating, e.BaseSeconds, e.IncrementSeconds,
		e.Theme, string(e.Status), e.CreatedAt, e.ExpiresAt,
	)
	return err
}

func markMatched(ctx context.Context, tx *sql.Tx, entryRefID, gameRefID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE gorm_queue_entries
		 SET status = $1, matched_game_id = $2
		 WHERE ref_id = $3`,
		string(models.QueueMatched), gameRefID, entryRefID,
	)
	return err
}

func insertGame(ctx context.Context, tx *sql.Tx, data *models.GameData) error {
	mode, err := json.Marshal(map[string]interface{}{
		"is_ai_game":    data.Mode.IsAIGame,
		"theme":         data.Mode.Theme,
		"creator_color": string(data.Mode.CreatorColor),
	})
	if err != nil {
		return err
	}
	var creatorRating, opponentRating interface{}
	if data.Creator.Rating != nil {
		creatorRating = *data.Creator.Rating
	}
	if data.Opponent.Rating != nil {
		opponentRating = *data.Opponent.Rating
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO gorm_games
		 (created_at, updated_at, ref_id, fen, base_seconds, increment_seconds,
		  creator_id, creator_name, creator_rating,
		  opponent_id, opponent_name, opponent_rating, status, mode)
		 VALUES (now(), now(), $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		data.RefID, data.FEN, data.TimeControl.BaseSeconds, data.TimeControl.IncrementSeconds,
		data.Creator.ID, data.Creator.Name, creatorRating,
		data.Opponent.ID, data.Opponent.Name, opponentRating,
		string(data.Status), mode,
	)
	return err
}

// resolveStartingFEN picks the starting position: a curated row for the
// requested theme, any random curated row otherwise, and the canonical
// starting array when the curated table has nothing to offer.
func resolveStartingFEN(ctx context.Context, tx *sql.Tx, theme string) string {
	var fen string
	var err error
	if theme != "" {
		err = tx.QueryRowContext(ctx,
			`SELECT fen FROM gorm_curated_positions
			 WHERE theme = $1 AND deleted_at IS NULL
			 ORDER BY random() LIMIT 1`, theme,
		).Scan(&fen)
	} else {
		err = tx.QueryRowContext(ctx,
			`SELECT fen FROM gorm_curated_positions
			 WHERE deleted_at IS NULL
			 ORDER BY random() LIMIT 1`,
		).Scan(&fen)
	}
	if err != nil || fen == "" {
		return rules.StartingFEN
	}
	return fen
}

// expireOverdue flips every overdue Searching entry to Expired and
// returns their ids.
func expireOverdue(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`UPDATE gorm_queue_entries
		 SET status = $1
		 WHERE status = $2 AND expires_at <= now()
		 RETURNING ref_id`,
		string(models.QueueExpired), string(models.QueueSearching),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
