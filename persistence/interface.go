// persistence/interface.go
package persistence

import (
	"context"
	"errors"

	"github.com/wfunc/chessserver/models"
)

// Store is the persistence collaborator consumed by the live core. Move
// and result writes are issued fire-and-forget from the game session;
// failures are logged, never surfaced to players.
type Store interface {
	FetchGameByRef(ctx context.Context, gameRefID string) (*models.GameData, error)
	CreateGame(ctx context.Context, data *models.GameData) error
	MarkStarted(ctx context.Context, gameRefID string, creatorColor models.Color) error
	PersistMove(ctx context.Context, move *models.MoveRecord) error
	CompleteGame(ctx context.Context, result *models.GameResultRecord) error
	Close() error
}

var (
	ErrGameNotFound = errors.New("game not found")
)
