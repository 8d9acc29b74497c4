// registry/registry.go
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/chessserver/config"
	"github.com/wfunc/chessserver/game"
	"github.com/wfunc/chessserver/logger"
	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/monitor"
	"github.com/wfunc/chessserver/network"
	"github.com/wfunc/chessserver/persistence"
	"github.com/wfunc/chessserver/session"
	"github.com/wfunc/chessserver/timer"
)

var ErrGameNotFound = errors.New("game not found")

// Registry is the process-wide directory of live game sessions plus the
// reverse index from a connection to the games it participates in. Both
// maps are guarded because connection read loops run in parallel.
type Registry struct {
	mu     sync.RWMutex
	games  map[string]*game.Game
	byConn map[string]map[string]struct{} // session id -> game ids

	store   persistence.Store
	oracle  game.Oracle
	timers  *timer.Manager
	cfg     config.GameConfig
	metrics *monitor.Monitor
}

func NewRegistry(store persistence.Store, oracle game.Oracle, timers *timer.Manager, cfg config.GameConfig, metrics *monitor.Monitor) *Registry {
	return &Registry{
		games:   make(map[string]*game.Game),
		byConn:  make(map[string]map[string]struct{}),
		store:   store,
		oracle:  oracle,
		timers:  timers,
		cfg:     cfg,
		metrics: metrics,
	}
}

// OnJoin resolves or constructs the session for gameID and routes the
// connection in, distinguishing a reconnection from a fresh join.
func (r *Registry) OnJoin(sess *session.Session, gameID, identity string) {
	g, exists := r.Get(gameID)
	if !exists {
		var err error
		g, err = r.construct(gameID)
		if err != nil {
			logger.Log.Warnf("join %s by %s rejected: %v", gameID, identity, err)
			sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: err.Error()})
			return
		}
	}

	// Track membership before delegating so a failure partway through
	// still gets disconnect cleanup.
	r.track(sess.ID, gameID)

	// A slot that has never held a connection is a first join even when
	// the session is already active (matchmade pairings seat both slots
	// up front). Only a slot that was bound before reconnects.
	if g.Phase() == game.PhaseWaiting || !g.HasBound(identity) {
		g.AddPlayer(sess, identity)
		return
	}
	if err := g.HandleReconnect(sess, identity); err != nil {
		sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: err.Error()})
	}
}

// OnReconnect is the explicit reconnect event; same routing as a join of a
// resident identity.
func (r *Registry) OnReconnect(sess *session.Session, gameID, identity string) {
	g, exists := r.Get(gameID)
	if !exists {
		sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: ErrGameNotFound.Error()})
		return
	}
	r.track(sess.ID, gameID)
	if err := g.HandleReconnect(sess, identity); err != nil {
		sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: err.Error()})
	}
}

// construct fetches the authoritative row and builds a live session for a
// joinable game.
func (r *Registry) construct(gameID string) (*game.Game, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := r.store.FetchGameByRef(ctx, gameID)
	if err != nil {
		if errors.Is(err, persistence.ErrGameNotFound) {
			return nil, ErrGameNotFound
		}
		logger.Log.Errorf("fetch game %s: %v", gameID, err)
		return nil, errors.New("failed to join game")
	}
	if !data.Status.Joinable() {
		return nil, errors.New("game is not joinable")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.games[gameID]; ok {
		return existing, nil
	}
	var g *game.Game
	if data.Status == models.StatusInProgress && data.Mode.CreatorColor != "" && !data.Mode.IsAIGame {
		// An in-progress row keeps its recorded seating; rebuilding it
		// through the waiting phase would re-deal the colors.
		g = game.NewStarted(data, r.deps())
	} else {
		g = game.New(data, r.deps())
	}
	r.games[gameID] = g
	r.setGauge()
	logger.Log.Infof("session %s constructed (status=%s ai=%v)", gameID, data.Status, data.Mode.IsAIGame)
	return g, nil
}

// AddStarted registers a session the matchmaker constructed directly in
// the started state.
func (r *Registry) AddStarted(data *models.GameData) *game.Game {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.games[data.RefID]; ok {
		return existing
	}
	g := game.NewStarted(data, r.deps())
	r.games[data.RefID] = g
	r.setGauge()
	return g
}

func (r *Registry) deps() game.Deps {
	return game.Deps{
		Oracle:          r.oracle,
		Store:           r.store,
		Timers:          r.timers,
		DisconnectGrace: r.cfg.DisconnectGrace(),
		ClockTick:       r.cfg.ClockTick(),
		ClockBroadcast:  r.cfg.ClockBroadcast(),
		OnEnded:         r.scheduleRemoval,
	}
}

// Get returns the live session for gameID.
func (r *Registry) Get(gameID string) (*game.Game, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, exists := r.games[gameID]
	return g, exists
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// GameIDs lists the ids of every live session.
func (r *Registry) GameIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.games))
	for id := range r.games {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) OnMove(sess *session.Session, gameID, from, to, promotion string) {
	g, exists := r.Get(gameID)
	if !exists {
		sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: ErrGameNotFound.Error()})
		return
	}
	g.MakeMove(sess, from, to, promotion)
	if r.metrics != nil {
		r.metrics.IncMoves()
	}
}

func (r *Registry) OnResign(sess *session.Session, gameID string) {
	if g, exists := r.Get(gameID); exists {
		g.HandleResignation(sess)
	} else {
		sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: ErrGameNotFound.Error()})
	}
}

func (r *Registry) OnOfferDraw(sess *session.Session, gameID string) {
	if g, exists := r.Get(gameID); exists {
		g.HandleDrawOffer(sess)
	} else {
		sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: ErrGameNotFound.Error()})
	}
}

func (r *Registry) OnAcceptDraw(sess *session.Session, gameID string) {
	if g, exists := r.Get(gameID); exists {
		g.HandleDrawAcceptance(sess)
	} else {
		sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: ErrGameNotFound.Error()})
	}
}

func (r *Registry) OnDeclineDraw(sess *session.Session, gameID string) {
	if g, exists := r.Get(gameID); exists {
		g.HandleDrawDecline(sess)
	}
}

// OnDisconnect fans the connection close into every game the connection
// participated in, then drops its membership entry.
func (r *Registry) OnDisconnect(sess *session.Session) {
	r.mu.Lock()
	gameIDs := r.byConn[sess.ID]
	delete(r.byConn, sess.ID)
	var targets []*game.Game
	for id := range gameIDs {
		if g, ok := r.games[id]; ok {
			targets = append(targets, g)
		}
	}
	r.mu.Unlock()

	for _, g := range targets {
		g.HandleDisconnect(sess)
	}
}

func (r *Registry) track(sessionID, gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConn[sessionID]; !ok {
		r.byConn[sessionID] = make(map[string]struct{})
	}
	r.byConn[sessionID][gameID] = struct{}{}
}

// scheduleRemoval drops an ended session after a fixed delay, letting
// in-flight broadcasts land first.
func (r *Registry) scheduleRemoval(gameID string) {
	r.timers.Schedule(r.cfg.SessionLinger(), 0, func() {
		r.remove(gameID)
	})
}

func (r *Registry) remove(gameID string) {
	r.mu.Lock()
	g, exists := r.games[gameID]
	delete(r.games, gameID)
	for _, ids := range r.byConn {
		delete(ids, gameID)
	}
	r.setGauge()
	r.mu.Unlock()

	if exists {
		g.Destroy()
		logger.Log.Infof("session %s removed", gameID)
	}
}

// Shutdown destroys every live session and clears all registry state.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	games := make([]*game.Game, 0, len(r.games))
	for _, g := range r.games {
		games = append(games, g)
	}
	r.games = make(map[string]*game.Game)
	r.byConn = make(map[string]map[string]struct{})
	r.setGauge()
	r.mu.Unlock()

	for _, g := range games {
		g.Destroy()
	}
}

// setGauge is called with r.mu held.
func (r *Registry) setGauge() {
	if r.metrics != nil {
		r.metrics.SetLiveGames(len(r.games))
	}
}
