package server

import (
	"encoding/json"
	"net/http"
	"net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/chessserver/lobby"
	"github.com/wfunc/chessserver/logger"
	"github.com/wfunc/chessserver/matchmaking"
	"github.com/wfunc/chessserver/models"
	"github.com/wfunc/chessserver/monitor"
	"github.com/wfunc/chessserver/network"
	"github.com/wfunc/chessserver/registry"
	chessserver_rpc "github.com/wfunc/chessserver/rpc"
	"github.com/wfunc/chessserver/services"
	"github.com/wfunc/chessserver/session"
)

// GameServer accepts websocket connections and routes framed events to
// the session registry, the matchmaker and the lobby broadcaster.
type GameServer struct {
	addr           string
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	registry       *registry.Registry
	matcher        *matchmaking.Matcher
	lobby          *lobby.Broadcaster
	monitor        *monitor.Monitor
	rpcServer      *chessserver_rpc.Server
	shutdownChan   chan struct{}
}

func NewGameServer(addr, rpcAddr string, reg *registry.Registry, matcher *matchmaking.Matcher, lb *lobby.Broadcaster, mon *monitor.Monitor, playerService *services.PlayerService) *GameServer {
	s := &GameServer{
		addr:           addr,
		sessionManager: session.NewManager(),
		registry:       reg,
		matcher:        matcher,
		lobby:          lb,
		monitor:        mon,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	rpcServer, err := chessserver_rpc.NewServer(rpcAddr)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	s.rpcServer = rpcServer

	gameService := chessserver_rpc.NewGameService(reg, playerService)
	rpc.Register(gameService)

	return s
}

func (s *GameServer) Start() error {
	go s.rpcServer.Start()

	http.HandleFunc("/ws", s.handleWebSocket)
	logger.Log.Infof("Game server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, nil)
}

func (s *GameServer) Shutdown() {
	close(s.shutdownChan)
	s.rpcServer.Stop()
	s.matcher.Stop()
	s.registry.Shutdown()
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	if s.monitor != nil {
		s.monitor.IncConnectedPlayers()
	}

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.registry.OnDisconnect(sess)
		s.lobby.OnDisconnect(sess)
		s.matcher.OnDisconnect(sess)
		s.sessionManager.Remove(sess.GetID())
		if s.monitor != nil {
			s.monitor.DecConnectedPlayers()
		}
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.Touch()
	case network.MsgTypeJoinGame:
		s.handleJoinGame(sess, packet)
	case network.MsgTypeReconnect:
		s.handleReconnect(sess, packet)
	case network.MsgTypeMove:
		s.handleMove(sess, packet)
	case network.MsgTypeResign:
		if req, ok := s.gameAction(sess, packet); ok {
			s.registry.OnResign(sess, req.GameID)
		}
	case network.MsgTypeOfferDraw:
		if req, ok := s.gameAction(sess, packet); ok {
			s.registry.OnOfferDraw(sess, req.GameID)
		}
	case network.MsgTypeAcceptDraw:
		if req, ok := s.gameAction(sess, packet); ok {
			s.registry.OnAcceptDraw(sess, req.GameID)
		}
	case network.MsgTypeDeclineDraw:
		if req, ok := s.gameAction(sess, packet); ok {
			s.registry.OnDeclineDraw(sess, req.GameID)
		}
	case network.MsgTypeFindMatch:
		s.handleFindMatch(sess, packet)
	case network.MsgTypeCancelSearch:
		s.handleCancelSearch(sess, packet)
	case network.MsgTypeJoinLobby:
		s.handleJoinLobby(sess, packet)
	case network.MsgTypeLeaveLobby:
		s.handleLeaveLobby(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

func (s *GameServer) handleJoinGame(sess *session.Session, packet *network.Packet) {
	var req models.JoinGameRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.badRequest(sess, err)
		return
	}
	sess.BindIdentity(req.PlayerID, req.Name)
	s.registry.OnJoin(sess, req.GameID, req.PlayerID)
}

func (s *GameServer) handleReconnect(sess *session.Session, packet *network.Packet) {
	var req models.JoinGameRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.badRequest(sess, err)
		return
	}
	sess.BindIdentity(req.PlayerID, req.Name)
	s.registry.OnReconnect(sess, req.GameID, req.PlayerID)
}

func (s *GameServer) handleMove(sess *session.Session, packet *network.Packet) {
	var req models.MoveRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.badRequest(sess, err)
		return
	}
	start := time.Now()
	s.registry.OnMove(sess, req.GameID, req.From, req.To, req.Promotion)
	if s.monitor != nil {
		s.monitor.ObserveMoveLatency(time.Since(start))
	}
}

func (s *GameServer) gameAction(sess *session.Session, packet *network.Packet) (*models.GameActionRequest, bool) {
	var req models.GameActionRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.badRequest(sess, err)
		return nil, false
	}
	return &req, true
}

func (s *GameServer) handleFindMatch(sess *session.Session, packet *network.Packet) {
	var req models.FindMatchRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.badRequest(sess, err)
		return
	}
	sess.BindIdentity(req.PlayerID, req.Name)
	s.matcher.Search(sess, &req)
}

func (s *GameServer) handleCancelSearch(sess *session.Session, packet *network.Packet) {
	var req models.CancelSearchRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.badRequest(sess, err)
		return
	}
	s.matcher.Cancel(sess, req.EntryID)
}

func (s *GameServer) handleJoinLobby(sess *session.Session, packet *network.Packet) {
	var req models.LobbyRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.badRequest(sess, err)
		return
	}
	s.lobby.Join(sess, req.LobbyID)
	s.lobby.EmitPlayerJoined(req.LobbyID, req.PlayerID, req.Name)
}

func (s *GameServer) handleLeaveLobby(sess *session.Session, packet *network.Packet) {
	var req models.LobbyRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.badRequest(sess, err)
		return
	}
	s.lobby.Leave(sess, req.LobbyID)
}

func (s *GameServer) badRequest(sess *session.Session, err error) {
	logger.Log.Warnf("session %s: malformed request: %v", sess.GetID(), err)
	sess.SendJSON(network.MsgTypeError, models.ErrorEvent{Message: "malformed request"})
}
