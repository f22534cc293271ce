package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pong-engine/engine"

	"pong-platform/backend/internal/auth"
	"pong-platform/backend/internal/clock"
	"pong-platform/backend/internal/hub"
	"pong-platform/backend/internal/lifecycle"
	"pong-platform/backend/internal/locks"
	"pong-platform/backend/internal/ranking"
	"pong-platform/backend/internal/ratelimit"
	"pong-platform/backend/internal/redisx"
	"pong-platform/backend/internal/store"
	"pong-platform/backend/internal/tournament"
	"pong-platform/backend/internal/wsapi"
)

// Server holds every long-lived dependency for the Pong platform,
// mirroring the teacher's cmd/server/server.go wiring pattern (NewServer
// builds the graph, Run starts background loops and the HTTP listener).
type Server struct {
	config Config

	store store.Store
	cache *redisx.Client

	authService *auth.Service
	rankService *ranking.Service
	limiter     *ratelimit.Limiter
	locks       *locks.LockManager

	rooms     *engine.RoomManager
	hub       *hub.Hub
	lifecycle *lifecycle.Coordinator
	tourn     *tournament.Orchestrator
	dispatch  *wsapi.Dispatcher
}

// NewServer wires the full dependency graph without starting anything.
func NewServer(config Config) (*Server, error) {
	st, err := store.New(config.DBConfig)
	if err != nil {
		return nil, err
	}

	cache, err := redisx.New(config.RedisConfig)
	if err != nil {
		return nil, err
	}

	if _, err := st.CreateUserIfMissing(config.AIUserID, "AI", true); err != nil {
		return nil, err
	}

	authSvc := auth.NewService(config.JWTSecret)
	rankSvc := ranking.NewService(st, cache)
	limiter := ratelimit.New(ratelimit.GameActionConfig)
	lockMgr := locks.NewLockManager(cache.Client)

	rooms := engine.NewRoomManager()
	h := hub.New()
	lifecycleCoord := lifecycle.New(rooms, h, st, clock.Real{}, rankSvc, config.AIUserID)
	orchestrator := tournament.New(st, h, lifecycleCoord, lockMgr, clock.Real{})
	dispatcher := wsapi.New(h, rooms, lifecycleCoord, orchestrator, limiter)

	return &Server{
		config:      config,
		store:       st,
		cache:       cache,
		authService: authSvc,
		rankService: rankSvc,
		limiter:     limiter,
		locks:       lockMgr,
		rooms:       rooms,
		hub:         h,
		lifecycle:   lifecycleCoord,
		tourn:       orchestrator,
		dispatch:    dispatcher,
	}, nil
}

// Run cleans up orphaned distributed locks left by a prior crash, then
// blocks serving HTTP, grounded on the teacher's
// internal/server/config/config.go boot-time orphaned-lock sweep.
func (s *Server) Run() error {
	if n, err := s.locks.CleanupOrphanedLocks(context.Background()); err != nil {
		log.Printf("[BOOT] orphaned lock cleanup failed: %v", err)
	} else if n > 0 {
		log.Printf("[BOOT] cleaned up %d orphaned locks", n)
	}

	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := s.setupRoutes()
	log.Printf("server starting on port %s", s.config.ServerPort)
	return r.Run(":" + s.config.ServerPort)
}

func (s *Server) setupRoutes() *gin.Engine {
	r := gin.Default()

	corsConfig := cors.Config{
		AllowOriginFunc: func(origin string) bool {
			for _, allowed := range hub.AllowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400 * time.Second,
	}
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", s.handleHealthz)
	r.GET("/ws", s.handleWebSocket)

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWebSocket authenticates the bearer token, upgrades the
// connection, and hands every inbound frame to the wsapi.Dispatcher
// (§6's single duplex transport per user).
func (s *Server) handleWebSocket(c *gin.Context) {
	identity, err := s.authService.ValidateToken(c.Query("token"))
	if err != nil {
		conn, upErr := hub.Upgrade(c)
		if upErr != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"))
		conn.Close()
		return
	}

	conn, err := hub.Upgrade(c)
	if err != nil {
		log.Printf("[WS] upgrade failed for user %d: %v", identity.UserID, err)
		return
	}

	if _, err := s.store.CreateUserIfMissing(identity.UserID, identity.Email, false); err != nil {
		log.Printf("[WS] failed to provision user %d: %v", identity.UserID, err)
	}

	connection := s.hub.AddConnection(identity.UserID, identity.Email, conn)
	s.hub.ReadPump(connection, s.dispatch.Dispatch)

	// A closed transport counts as leaveGame, unless a newer connection for
	// the same user has already replaced this one.
	if !s.hub.IsConnected(identity.UserID) {
		_ = s.lifecycle.LeaveGame(identity.UserID)
	}
}

// Close releases the Redis connection pool backing the cache and
// distributed locks.
func (s *Server) Close() error {
	return s.cache.Close()
}
