package main

import (
	"github.com/wfunc/chessserver/config"
	"github.com/wfunc/chessserver/lobby"
	"github.com/wfunc/chessserver/logger"
	"github.com/wfunc/chessserver/matchmaking"
	"github.com/wfunc/chessserver/monitor"
	"github.com/wfunc/chessserver/persistence"
	"github.com/wfunc/chessserver/registry"
	"github.com/wfunc/chessserver/rules"
	"github.com/wfunc/chessserver/server"
	"github.com/wfunc/chessserver/services"
	"github.com/wfunc/chessserver/timer"
)

func main() {
	// Initialize logger
	logger.Init()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	db, err := persistence.NewGormPostgreSQL(
		cfg.Database.Postgres.Host,
		cfg.Database.Postgres.Port,
		cfg.Database.Postgres.User,
		cfg.Database.Postgres.Password,
		cfg.Database.Postgres.DBName,
	)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Log.Info("Database connection successful.")

	// Matchmaking keeps a raw connection for row-locked queue scans.
	queueDB, err := matchmaking.OpenDB(
		cfg.Database.Postgres.Host,
		cfg.Database.Postgres.Port,
		cfg.Database.Postgres.User,
		cfg.Database.Postgres.Password,
		cfg.Database.Postgres.DBName,
	)
	if err != nil {
		logger.Log.Fatalf("Failed to open matchmaking database: %v", err)
	}

	timers := timer.NewManager()
	defer timers.Stop()

	mon := monitor.NewMonitor("chessserver")
	mon.StartServer(cfg.Server.MetricsAddress)

	reg := registry.NewRegistry(db, rules.NewEngine(), timers, cfg.Game, mon)
	matcher := matchmaking.NewMatcher(queueDB, reg, timers, cfg.Matchmaking, mon)
	lobbyBroadcaster := lobby.NewBroadcaster()
	playerService := services.NewPlayerService(db)

	// Initialize Game Server
	gameServer := server.NewGameServer(cfg.Server.HTTPAddress, cfg.Server.RPCAddress, reg, matcher, lobbyBroadcaster, mon, playerService)

	// Start Server
	logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
