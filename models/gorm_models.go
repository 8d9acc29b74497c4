// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormGame is the authoritative game row.
type GormGame struct {
	gorm.Model
	RefID            string `gorm:"uniqueIndex;not null"`
	FEN              string `gorm:"not null"`
	BaseSeconds      int    `gorm:"not null"`
	IncrementSeconds int    `gorm:"not null"`
	CreatorID        string `gorm:"index;not null"`
	CreatorName      string
	CreatorRating    *int
	OpponentID       string `gorm:"index"`
	OpponentName     string
	OpponentRating   *int
	Status           string                 `gorm:"not null;default:PENDING"`
	Mode             map[string]interface{} `gorm:"type:jsonb"`
	Result           string
	WinnerID         string
	ResultMethod     string
	FinalFEN         string
	WhiteTime        int
	BlackTime        int
}

// GormMove is one persisted half-move.
type GormMove struct {
	gorm.Model
	GameRefID string `gorm:"index;not null"`
	MoverID   string `gorm:"not null"`
	FromSq    string `gorm:"not null"`
	ToSq      string `gorm:"not null"`
	Promotion string
	SAN       string `gorm:"not null"`
	FEN       string `gorm:"not null"`
	Ply       int    `gorm:"not null"`
	WhiteTime int
	BlackTime int
}

// GormQueueEntry is a matchmaking queue row. The matcher reads it with raw
// skip-locked SQL; gorm only owns the schema.
type GormQueueEntry struct {
	RefID            string `gorm:"primaryKey"`
	PlayerID         string `gorm:"index;not null"`
	PlayerName       string
	Rating           *int
	BaseSeconds      int `gorm:"not null"`
	IncrementSeconds int `gorm:"not null"`
	Theme            string
	Status           string `gorm:"index;not null"`
	MatchedGameID    string
	CreatedAt        time.Time
	ExpiresAt        time.Time `gorm:"index"`
}

// GormCuratedPosition is a curated ("legend") starting position.
type GormCuratedPosition struct {
	gorm.Model
	Theme string `gorm:"index;not null"`
	Title string
	FEN   string `gorm:"not null"`
}
