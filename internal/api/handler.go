// Package api is the operator HTTP surface: auth, engine status, trade
// parameters and manual interventions.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"listing-core/internal/engine"
	"listing-core/internal/notify"
)

// Server wires HTTP endpoints around the engine service.
type Server struct {
	Router    *gin.Engine
	Engine    *engine.Service
	Hub       *notify.Hub
	JWTSecret string
}

// NewServer builds the router with the full middleware stack.
func NewServer(svc *engine.Service, hub *notify.Hub, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Engine:    svc,
		Hub:       hub,
		JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)

		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/profile", s.getProfile)
			protected.PUT("/profile", s.updateProfile)
			protected.PUT("/credentials", s.saveCredentials)
			protected.GET("/positions", s.getPositions)

			protected.POST("/trade", s.manualTrade)
			protected.POST("/emergency-stop", s.emergencyStop)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server on addr. Blocks until the server exits.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
