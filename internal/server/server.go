// Package server exposes the companion over HTTP.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nirahq/nira/internal/chat"
	"github.com/nirahq/nira/internal/config"
	"github.com/nirahq/nira/internal/provider"
	"github.com/nirahq/nira/internal/store"
	"github.com/nirahq/nira/internal/tts"
)

// Server wires the HTTP surface to the chat pipeline.
type Server struct {
	orch   *chat.Orchestrator
	store  *store.Store
	gw     *provider.Gateway
	tts    *tts.Client
	cfg    func() config.Config
	log    *logrus.Logger
	engine *gin.Engine
}

// New builds the router. cfg is called per request so hot-reloaded values
// (tokens, maintenance tuning) take effect without a restart.
func New(orch *chat.Orchestrator, st *store.Store, gw *provider.Gateway, speech *tts.Client, cfg func() config.Config, log *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		orch:  orch,
		store: st,
		gw:    gw,
		tts:   speech,
		cfg:   cfg,
		log:   log,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestID())
	engine.Use(s.cors())
	engine.Use(s.requestLog())

	engine.GET("/healthz", s.handleHealth)

	api := engine.Group("/api")
	api.Use(s.auth())
	{
		api.POST("/chat", s.handleChat)
		api.GET("/chat/proactive", s.handleProactive)
		api.GET("/memory", s.handleMemoryRead)
		api.POST("/memory/identity", s.handleIdentityUpdate)
		api.POST("/tts", s.handleTTS)
		api.GET("/tts/status", s.handleTTSStatus)
	}

	admin := engine.Group("/api/admin")
	admin.Use(s.adminAuth())
	{
		admin.GET("/settings", s.handleGetSettings)
		admin.PUT("/settings", s.handlePutSettings)
		admin.POST("/users/:id/pro", s.handleSetPro)
	}

	s.engine = engine
	return s
}

// Handler returns the underlying http.Handler for serving and tests.
func (s *Server) Handler() *gin.Engine {
	return s.engine
}
