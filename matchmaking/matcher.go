// matchmaking/matcher.go
package matchmaking

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/chessserver/config"
	"github.com/wfunc/chessserver/logger"
	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/monitor"
	"github.com/wfunc/chessserver/network"
	"github.com/wfunc/chessserver/registry"
	"github.com/wfunc/chessserver/session"
	"github.com/wfunc/chessserver/timer"
)

// Matcher pairs searching participants atomically. All pairing decisions
// happen inside one SQL transaction with skip-locked candidate reads, so
// concurrent matchers (including other processes) can never double-book a
// candidate.
type Matcher struct {
	db       *sql.DB
	registry *registry.Registry
	timers   *timer.Manager
	cfg      config.MatchmakingConfig
	metrics  *monitor.Monitor

	mu      sync.Mutex
	waiters map[string]*session.Session // queue entry id -> searcher's connection

	sweepTask int64
}

func NewMatcher(db *sql.DB, reg *registry.Registry, timers *timer.Manager, cfg config.MatchmakingConfig, metrics *monitor.Monitor) *Matcher {
	m := &Matcher{
		db:       db,
		registry: reg,
		timers:   timers,
		cfg:      cfg,
		metrics:  metrics,
		waiters:  make(map[string]*session.Session),
	}
	m.sweepTask = timers.Schedule(cfg.SweepInterval(), cfg.SweepInterval(), m.sweep)
	return m
}

// Search runs the atomic pairing procedure for one searcher. On a hit the
// searcher gets match_found synchronously and never gets a queue entry of
// its own; on a miss a Searching entry is created and its ref id returned
// for the client to hold.
func (m *Matcher) Search(sess *session.Session, req *models.FindMatchRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		m.fail(sess, "matchmaking unavailable", err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	searching, err := hasSearchingEntry(ctx, tx, req.PlayerID)
	if err != nil {
		m.fail(sess, "matchmaking unavailable", err)
		return
	}
	if searching {
		sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: "already searching"})
		return
	}

	candidates, err := lockCandidates(ctx, tx, req, m.cfg.CandidateLimit)
	if err != nil {
		m.fail(sess, "matchmaking unavailable", err)
		return
	}

	candidate := pickCandidate(candidates, req.Rating, m.cfg.TightRatingBand, m.cfg.WideRatingBand)
	if candidate == nil {
		entry := &models.QueueEntry{
			RefID:            uuid.New().String(),
			PlayerID:         req.PlayerID,
			PlayerName:       req.Name,
			Rating:           req.Rating,
			BaseSeconds:      req.BaseSeconds,
			IncrementSeconds: req.IncrementSeconds,
			Theme:            req.Theme,
			Status:           models.QueueSearching,
			CreatedAt:        time.Now(),
			ExpiresAt:        time.Now().Add(m.cfg.SearchWindow()),
		}
		if err := insertQueueEntry(ctx, tx, entry); err != nil {
			m.fail(sess, "matchmaking unavailable", err)
			return
		}
		if err := tx.Commit(); err != nil {
			m.fail(sess, "matchmaking unavailable", err)
			return
		}
		committed = true

		m.addWaiter(entry.RefID, sess)
		sess.SendJSON(network.MsgTypeSearchStarted, models.SearchStartedEvent{
			EntryID:   entry.RefID,
			ExpiresIn: m.cfg.SearchWindowSeconds,
		})
		logger.Log.Infof("matchmaking: %s queued as %s", req.PlayerID, entry.RefID)
		return
	}

	// Hit: flip a coin for colors, resolve the starting position, create
	// the game row and mark the candidate inside the same transaction.
	theme := req.Theme
	if theme == "" {
		theme = candidate.Theme
	}
	data := &models.GameData{
		RefID: uuid.New().String(),
		FEN:   resolveStartingFEN(ctx, tx, theme),
		TimeControl: models.TimeControl{
			BaseSeconds:      req.BaseSeconds,
			IncrementSeconds: req.IncrementSeconds,
		},
		Creator:  models.PlayerInfo{ID: req.PlayerID, Name: req.Name, Rating: req.Rating},
		Opponent: models.PlayerInfo{ID: candidate.PlayerID, Name: candidate.PlayerName, Rating: candidate.Rating},
		Status:   models.StatusInProgress,
		Mode:     models.GameMode{Theme: theme, CreatorColor: flipColor()},
	}
	if err := insertGame(ctx, tx, data); err != nil {
		m.fail(sess, "matchmaking unavailable", err)
		return
	}
	if err := markMatched(ctx, tx, candidate.RefID, data.RefID); err != nil {
		m.fail(sess, "matchmaking unavailable", err)
		return
	}
	if err := tx.Commit(); err != nil {
		m.fail(sess, "matchmaking unavailable", err)
		return
	}
	committed = true

	m.registry.AddStarted(data)
	if m.metrics != nil {
		m.metrics.IncMatches()
	}
	logger.Log.Infof("matchmaking: paired %s with %s in game %s",
		req.PlayerID, candidate.PlayerID, data.RefID)

	sess.SendJSON(network.MsgTypeMatchFound, models.MatchFoundEvent{
		GameID:   data.RefID,
		Opponent: data.Opponent,
	})
	if waiter := m.takeWaiter(candidate.RefID); waiter != nil {
		waiter.SendJSON(network.MsgTypeMatchFound, models.MatchFoundEvent{
			GameID:   data.RefID,
			Opponent: data.Creator,
		})
	}
}

// Cancel marks a Searching entry Cancelled. A no-op when the entry has
// already reached any terminal state.
func (m *Matcher) Cancel(sess *session.Session, entryID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := m.db.ExecContext(ctx,
		`UPDATE gorm_queue_entries
		 SET status = $1
		 WHERE ref_id = $2 AND status = $3`,
		string(models.QueueCancelled), entryID, string(models.QueueSearching),
	)
	if err != nil {
		logger.Log.Errorf("matchmaking: cancel %s: %v", entryID, err)
		return
	}
	m.takeWaiter(entryID)
}

// OnDisconnect forgets the push handles of a closed connection. The queue
// entries stay Searching until cancelled or expired.
func (m *Matcher) OnDisconnect(sess *session.Session) {
	m.mu.Lock()
	for id, waiter := range m.waiters {
		if waiter.ID == sess.ID {
			delete(m.waiters, id)
		}
	}
	m.mu.Unlock()
}

// Stop cancels the expiry sweep.
func (m *Matcher) Stop() {
	m.timers.Cancel(m.sweepTask)
}

// sweep expires overdue Searching entries and pushes the transition (with
// a bot-opponent fallback offer) to still-connected searchers.
func (m *Matcher) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids, err := expireOverdue(ctx, m.db)
	if err != nil {
		logger.Log.Errorf("matchmaking: expiry sweep: %v", err)
		return
	}
	for _, id := range ids {
		logger.Log.Infof("matchmaking: entry %s expired", id)
		if waiter := m.takeWaiter(id); waiter != nil {
			waiter.SendJSON(network.MsgTypeSearchExpired, models.SearchExpiredEvent{
				EntryID:  id,
				BotOffer: true,
			})
		}
	}
}

func (m *Matcher) addWaiter(entryID string, sess *session.Session) {
	m.mu.Lock()
	m.waiters[entryID] = sess
	m.mu.Unlock()
}

func (m *Matcher) takeWaiter(entryID string) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.waiters[entryID]
	delete(m.waiters, entryID)
	return sess
}

func (m *Matcher) fail(sess *session.Session, message string, err error) {
	logger.Log.Errorf("matchmaking: %s: %v", message, err)
	sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: message})
}

// pickCandidate applies the two-tier rating filter: prefer a candidate in
// the tight band, widen once, and let unrated searchers take the first
// candidate unconditionally. Candidates themselves without a rating only
// match in the wide pass.
func pickCandidate(entries []*models.QueueEntry, rating *int, tight, wide int) *models.QueueEntry {
	if len(entries) == 0 {
		return nil
	}
	if rating == nil {
		return entries[0]
	}
	for _, e := range entries {
		if e.Rating != nil && abs(*e.Rating-*rating) <= tight {
			return e
		}
	}
	for _, e := range entries {
		if e.Rating == nil || abs(*e.Rating-*rating) <= wide {
			return e
		}
	}
	return nil
}

func flipColor() models.Color {
	if rand.Intn(2) == 0 {
		return models.White
	}
	return models.Black
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
