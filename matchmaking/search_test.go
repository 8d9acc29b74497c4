// matchmaking/search_test.go
package matchmaking

import (
	"context"
	"database/sql"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/chessserver/config"
	"github.com/wfunc/chessserver/logger"
	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/network"
	"github.com/wfunc/chessserver/persistence"
	"github.com/wfunc/chessserver/registry"
	"github.com/wfunc/chessserver/rules"
	"github.com/wfunc/chessserver/session"
	"github.com/wfunc/chessserver/timer"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

// MockConnection records every JSON event sent through it.
type MockConnection struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	msgID   uint16
	payload interface{}
}

func (m *MockConnection) Send(msgID uint16, data []byte) error { return nil }

func (m *MockConnection) SendJSON(msgID uint16, v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, capturedEvent{msgID: msgID, payload: v})
	return nil
}

func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func (m *MockConnection) count(msgID uint16) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.msgID == msgID {
			n++
		}
	}
	return n
}

func (m *MockConnection) last(msgID uint16) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].msgID == msgID {
			return m.events[i].payload, true
		}
	}
	return nil, false
}

// nopStore satisfies the registry's persistence collaborator; the queue
// tests exercise the matcher's own raw SQL, not the game store.
type nopStore struct{}

func (nopStore) FetchGameByRef(ctx context.Context, gameRefID string) (*models.GameData, error) {
	return nil, persistence.ErrGameNotFound
}
func (nopStore) CreateGame(ctx context.Context, data *models.GameData) error { return nil }
func (nopStore) MarkStarted(ctx context.Context, gameRefID string, creatorColor models.Color) error {
	return nil
}
func (nopStore) PersistMove(ctx context.Context, move *models.MoveRecord) error { return nil }
func (nopStore) CompleteGame(ctx context.Context, result *models.GameResultRecord) error {
	return nil
}
func (nopStore) Close() error { return nil }

// testQueueDB opens the queue database named by CHESSSERVER_TEST_DSN,
// creates the schema and wipes the tables. Tests that need PostgreSQL
// are skipped when the variable is unset or -short is given.
func testQueueDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("queue tests need PostgreSQL")
	}
	dsn := os.Getenv("CHESSSERVER_TEST_DSN")
	if dsn == "" {
		t.Skip("set CHESSSERVER_TEST_DSN to run queue tests")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Open queue database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("queue database unreachable: %v", err)
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS gorm_queue_entries (
			ref_id text PRIMARY KEY,
			player_id text NOT NULL,
			player_name text,
			rating bigint,
			base_seconds bigint NOT NULL,
			increment_seconds bigint NOT NULL,
			theme text,
			status text NOT NULL,
			matched_game_id text,
			created_at timestamptz NOT NULL,
			expires_at timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS gorm_games (
			id bigserial PRIMARY KEY,
			created_at timestamptz,
			updated_at timestamptz,
			deleted_at timestamptz,
			ref_id text UNIQUE NOT NULL,
			fen text,
			base_seconds bigint,
			increment_seconds bigint,
			creator_id text,
			creator_name text,
			creator_rating bigint,
			opponent_id text,
			opponent_name text,
			opponent_rating bigint,
			status text,
			mode jsonb,
			result text,
			winner_id text,
			result_method text,
			final_fen text,
			white_time bigint,
			black_time bigint
		)`,
		`CREATE TABLE IF NOT EXISTS gorm_curated_positions (
			id bigserial PRIMARY KEY,
			created_at timestamptz,
			updated_at timestamptz,
			deleted_at timestamptz,
			theme text,
			title text,
			fen text
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("Create schema: %v", err)
		}
	}
	for _, table := range []string{"gorm_queue_entries", "gorm_games", "gorm_curated_positions"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("Wipe %s: %v", table, err)
		}
	}
	return db
}

func testMatcherConfig() config.MatchmakingConfig {
	return config.MatchmakingConfig{
		SearchWindowSeconds: 60,
		TightRatingBand:     100,
		WideRatingBand:      300,
		CandidateLimit:      10,
		SweepIntervalSecs:   3600, // sweeps run by hand in tests
	}
}

func newTestMatcher(t *testing.T, db *sql.DB, cfg config.MatchmakingConfig) (*Matcher, *registry.Registry) {
	t.Helper()
	tm := timer.NewManager()
	t.Cleanup(tm.Stop)
	reg := registry.NewRegistry(nopStore{}, rules.NewEngine(), tm, config.GameConfig{
		DisconnectGraceSeconds: 1,
		ClockTickMillis:        100,
		ClockBroadcastMillis:   3600000,
	}, nil)
	t.Cleanup(reg.Shutdown)
	m := NewMatcher(db, reg, tm, cfg, nil)
	t.Cleanup(m.Stop)
	return m, reg
}

func newSearchSession(id string) (*session.Session, *MockConnection) {
	conn := &MockConnection{}
	return session.NewSession(id, conn), conn
}

func searchRequest(playerID string, rating int) *models.FindMatchRequest {
	return &models.FindMatchRequest{
		PlayerID:    playerID,
		Name:        playerID,
		Rating:      &rating,
		BaseSeconds: 300,
	}
}

func queueRow(t *testing.T, db *sql.DB, playerID string) (status, matchedGameID string) {
	t.Helper()
	var matched sql.NullString
	err := db.QueryRow(
		`SELECT status, matched_game_id FROM gorm_queue_entries
		 WHERE player_id = $1 ORDER BY created_at DESC LIMIT 1`, playerID,
	).Scan(&status, &matched)
	if err != nil {
		t.Fatalf("Read queue entry for %s: %v", playerID, err)
	}
	return status, matched.String
}

func TestSearch_QueuesOnMiss(t *testing.T) {
	db := testQueueDB(t)
	m, _ := newTestMatcher(t, db, testMatcherConfig())

	sess, conn := newSearchSession("s-alice")
	m.Search(sess, searchRequest("alice", 1500))

	payload, ok := conn.last(network.MsgTypeSearchStarted)
	if !ok {
		t.Fatal("An empty queue should answer with search_started")
	}
	evt := payload.(models.SearchStartedEvent)
	if evt.EntryID == "" {
		t.Error("search_started must carry the queue entry id")
	}

	status, _ := queueRow(t, db, "alice")
	if status != string(models.QueueSearching) {
		t.Errorf("Queued entry should be SEARCHING, got %s", status)
	}
}

func TestSearch_PairsWithWaitingCandidate(t *testing.T) {
	db := testQueueDB(t)
	m, reg := newTestMatcher(t, db, testMatcherConfig())

	aliceSess, aliceConn := newSearchSession("s-alice")
	m.Search(aliceSess, searchRequest("alice", 1500))

	bobSess, bobConn := newSearchSession("s-bob")
	m.Search(bobSess, searchRequest("bob", 1520))

	payload, ok := bobConn.last(network.MsgTypeMatchFound)
	if !ok {
		t.Fatal("The second searcher should be paired synchronously")
	}
	hit := payload.(models.MatchFoundEvent)
	if hit.GameID == "" || hit.Opponent.ID != "alice" {
		t.Fatalf("Unexpected pairing payload: %+v", hit)
	}

	payload, ok = aliceConn.last(network.MsgTypeMatchFound)
	if !ok {
		t.Fatal("The waiting searcher should be pushed match_found")
	}
	if push := payload.(models.MatchFoundEvent); push.GameID != hit.GameID {
		t.Errorf("Both sides must reference the same game, got %s and %s", push.GameID, hit.GameID)
	}

	status, matched := queueRow(t, db, "alice")
	if status != string(models.QueueMatched) || matched != hit.GameID {
		t.Errorf("Candidate entry should be MATCHED to %s, got %s/%s", hit.GameID, status, matched)
	}

	var gameStatus string
	if err := db.QueryRow(`SELECT status FROM gorm_games WHERE ref_id = $1`, hit.GameID).Scan(&gameStatus); err != nil {
		t.Fatalf("Read paired game row: %v", err)
	}
	if gameStatus != string(models.StatusInProgress) {
		t.Errorf("Paired game row should be IN_PROGRESS, got %s", gameStatus)
	}
	if reg.Count() != 1 {
		t.Errorf("Pairing should register exactly one live session, got %d", reg.Count())
	}
}

func TestSearch_AlreadySearchingIsRejected(t *testing.T) {
	db := testQueueDB(t)
	m, _ := newTestMatcher(t, db, testMatcherConfig())

	sess, conn := newSearchSession("s-alice")
	m.Search(sess, searchRequest("alice", 1500))
	m.Search(sess, searchRequest("alice", 1500))

	if conn.count(network.MsgTypeSearchStarted) != 1 {
		t.Error("Only the first search should be queued")
	}
	if conn.count(network.MsgTypeError) != 1 {
		t.Error("A repeated search should be rejected")
	}

	var n int
	if err := db.QueryRow(
		`SELECT count(*) FROM gorm_queue_entries WHERE player_id = $1 AND status = $2`,
		"alice", string(models.QueueSearching),
	).Scan(&n); err != nil {
		t.Fatalf("Count entries: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected exactly one SEARCHING entry, got %d", n)
	}
}

func TestSearch_ConcurrentSearchersNeverDoubleBook(t *testing.T) {
	db := testQueueDB(t)
	m, reg := newTestMatcher(t, db, testMatcherConfig())

	aliceSess, aliceConn := newSearchSession("s-alice")
	bobSess, bobConn := newSearchSession("s-bob")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Search(aliceSess, searchRequest("alice", 1500))
	}()
	go func() {
		defer wg.Done()
		m.Search(bobSess, searchRequest("bob", 1520))
	}()
	wg.Wait()

	// Depending on interleaving the two either pair up or both queue;
	// there is never more than one game and never a dangling side.
	var games int
	if err := db.QueryRow(`SELECT count(*) FROM gorm_games`).Scan(&games); err != nil {
		t.Fatalf("Count games: %v", err)
	}
	if games > 1 {
		t.Fatalf("Concurrent searches created %d games", games)
	}

	found := aliceConn.count(network.MsgTypeMatchFound) + bobConn.count(network.MsgTypeMatchFound)
	if games == 1 {
		if found != 2 {
			t.Errorf("A pairing must notify both sides, got %d notifications", found)
		}
		var gameID string
		if err := db.QueryRow(`SELECT ref_id FROM gorm_games`).Scan(&gameID); err != nil {
			t.Fatalf("Read game ref: %v", err)
		}
		var matchedEntries int
		if err := db.QueryRow(
			`SELECT count(*) FROM gorm_queue_entries WHERE status = $1 AND matched_game_id = $2`,
			string(models.QueueMatched), gameID,
		).Scan(&matchedEntries); err != nil {
			t.Fatalf("Count matched entries: %v", err)
		}
		if matchedEntries != 1 {
			t.Errorf("Exactly one queue entry should be MATCHED to %s, got %d", gameID, matchedEntries)
		}
		if reg.Count() != 1 {
			t.Errorf("Expected one live session, got %d", reg.Count())
		}
	} else {
		if found != 0 {
			t.Errorf("No pairing happened but %d match_found notifications went out", found)
		}
		var searching int
		if err := db.QueryRow(
			`SELECT count(*) FROM gorm_queue_entries WHERE status = $1`,
			string(models.QueueSearching),
		).Scan(&searching); err != nil {
			t.Fatalf("Count searching entries: %v", err)
		}
		if searching != 2 {
			t.Errorf("Both searchers should be queued, got %d entries", searching)
		}
		if reg.Count() != 0 {
			t.Errorf("No session should exist without a pairing, got %d", reg.Count())
		}
	}
}

func TestSearch_ExpiredLeftoverDoesNotBlockResearch(t *testing.T) {
	db := testQueueDB(t)
	m, _ := newTestMatcher(t, db, testMatcherConfig())

	// An overdue entry the sweep has not reached yet.
	_, err := db.Exec(
		`INSERT INTO gorm_queue_entries
		 (ref_id, player_id, player_name, rating, base_seconds, increment_seconds,
		  theme, status, created_at, expires_at)
		 VALUES ('stale-1', 'alice', 'alice', 1500, 300, 0, '', $1, now() - interval '2 minutes', now() - interval '1 minute')`,
		string(models.QueueSearching),
	)
	if err != nil {
		t.Fatalf("Seed stale entry: %v", err)
	}

	sess, conn := newSearchSession("s-alice")
	m.Search(sess, searchRequest("alice", 1500))

	if conn.count(network.MsgTypeError) != 0 {
		t.Error("A stale leftover must not block a new search")
	}
	if conn.count(network.MsgTypeSearchStarted) != 1 {
		t.Fatal("The new search should be queued")
	}

	var staleStatus string
	if err := db.QueryRow(`SELECT status FROM gorm_queue_entries WHERE ref_id = 'stale-1'`).Scan(&staleStatus); err != nil {
		t.Fatalf("Read stale entry: %v", err)
	}
	if staleStatus != string(models.QueueExpired) {
		t.Errorf("Stale entry should be EXPIRED, got %s", staleStatus)
	}

	var searching int
	if err := db.QueryRow(
		`SELECT count(*) FROM gorm_queue_entries WHERE player_id = 'alice' AND status = $1`,
		string(models.QueueSearching),
	).Scan(&searching); err != nil {
		t.Fatalf("Count searching entries: %v", err)
	}
	if searching != 1 {
		t.Errorf("Expected exactly one SEARCHING entry after re-search, got %d", searching)
	}
}

func TestSweep_ExpiresAndOffersBot(t *testing.T) {
	db := testQueueDB(t)
	cfg := testMatcherConfig()
	cfg.SearchWindowSeconds = 0 // entries are overdue the moment they queue
	m, _ := newTestMatcher(t, db, cfg)

	sess, conn := newSearchSession("s-alice")
	m.Search(sess, searchRequest("alice", 1500))
	if conn.count(network.MsgTypeSearchStarted) != 1 {
		t.Fatal("The search should be queued first")
	}

	m.sweep()

	payload, ok := conn.last(network.MsgTypeSearchExpired)
	if !ok {
		t.Fatal("The sweep should push search_expired to the waiting searcher")
	}
	if evt := payload.(models.SearchExpiredEvent); !evt.BotOffer {
		t.Error("The expiry push should carry the bot fallback offer")
	}

	status, _ := queueRow(t, db, "alice")
	if status != string(models.QueueExpired) {
		t.Errorf("Swept entry should be EXPIRED, got %s", status)
	}
}
