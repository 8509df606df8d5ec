package server

import (
	"github.com/Tyrowin/gorelay/internal/config"
	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server owns the hub and the HTTP handlers of a relay process.
type Server struct {
	cfg        config.Config
	hub        *Hub
	dispatcher Dispatcher
	origins    *originPolicy
	tokens     [][]byte
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

// New creates a Server. cfg is sanitized on a copy; the hub is created but
// not started.
func New(cfg config.Config, dispatcher Dispatcher, logger *zap.Logger) *Server {
	cfg.Sanitize()
	logger = logging.DefaultIfNil(logger)

	s := &Server{
		cfg:        cfg,
		hub:        NewHub(logger),
		dispatcher: dispatcher,
		origins:    newOriginPolicy(cfg.AllowedOrigins, logger),
		log:        logger,
	}
	for _, t := range cfg.AuthTokens {
		s.tokens = append(s.tokens, []byte(t))
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	if len(s.tokens) == 0 {
		logger.Warn("no RELAY_AUTH_TOKENS configured; the pre-auth API rejects every request")
	}
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StartHub runs the hub loop in a new goroutine.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.log.Info("hub started")
}
