package rpc

import (
	"net"
	"net/rpc"

	"github.com/wfunc/chessserver/logger"
	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/registry"
	"github.com/wfunc/chessserver/services"
)

// Server manages the RPC listener for the ops surface.
type Server struct {
	listener net.Listener
	address  string
}

func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// GameService exposes live-session and player-history queries over net/rpc.
type GameService struct {
	registry      *registry.Registry
	playerService *services.PlayerService
}

func NewGameService(reg *registry.Registry, ps *services.PlayerService) *GameService {
	return &GameService{registry: reg, playerService: ps}
}

type LiveGamesArgs struct{}

type LiveGamesReply struct {
	Count   int
	GameIDs []string
}

func (gs *GameService) LiveGames(args *LiveGamesArgs, reply *LiveGamesReply) error {
	reply.Count = gs.registry.Count()
	reply.GameIDs = gs.registry.GameIDs()
	return nil
}

type GameStateArgs struct {
	GameID string
}

type GameStateReply struct {
	Found bool
	Phase string
	FEN   string
	Times models.ClockTimes
}

func (gs *GameService) GameState(args *GameStateArgs, reply *GameStateReply) error {
	g, exists := gs.registry.Get(args.GameID)
	if !exists {
		reply.Found = false
		return nil
	}
	reply.Found = true
	reply.Phase = g.Phase().String()
	reply.FEN = g.FEN()
	reply.Times = g.Times()
	return nil
}

type GetPlayerArgs struct {
	PlayerID string
}

type GetPlayerReply struct {
	Data map[string]interface{}
}

func (gs *GameService) GetPlayerWithStats(args *GetPlayerArgs, reply *GetPlayerReply) error {
	data, err := gs.playerService.GetPlayerWithStats(args.PlayerID)
	if err != nil {
		return err
	}
	reply.Data = data
	return nil
}
