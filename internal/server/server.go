// Package server exposes the control API, the health check and the overlay
// pages over HTTP.
package server

import (
	"context"
	"log"
	"net/http"

	"github.com/john/chatvoice/internal/kick"
	"github.com/john/chatvoice/internal/overlay"
	"github.com/john/chatvoice/internal/pipeline"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Deps are the components the handlers operate on
type Deps struct {
	Session  *pipeline.Session
	Overlays *overlay.Manager
	Store    overlay.Store
	Kick     *kick.Resolver
}

// Server provides the HTTP surface
type Server struct {
	echo   *echo.Echo
	server *http.Server
	deps   Deps
}

// New creates a server listening on addr
func New(addr string, deps Deps) *Server {
	if deps.Kick == nil {
		deps.Kick = kick.NewResolver("", nil)
	}
	if deps.Store == nil {
		deps.Store = overlay.NewMemoryStore()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		echo: e,
		server: &http.Server{
			Addr:    addr,
			Handler: e,
		},
		deps: deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	api := e.Group("/api")
	api.GET("/status", s.status)
	api.GET("/chat", s.chat)

	api.GET("/playback", s.getPlayback)
	api.PUT("/playback", s.putPlayback)
	api.POST("/playback/enable-audio", s.enableAudio)
	api.POST("/playback/test", s.testSpeech)

	api.GET("/keywords", s.listKeywords)
	api.POST("/keywords", s.addKeyword)
	api.PUT("/keywords/enabled", s.setKeywordsEnabled)
	api.PATCH("/keywords/:id", s.updateKeyword)
	api.DELETE("/keywords/:id", s.deleteKeyword)

	api.GET("/timers", s.listTimers)
	api.POST("/timers", s.addTimer)
	api.PATCH("/timers/:id", s.updateTimer)
	api.DELETE("/timers/:id", s.deleteTimer)
	api.POST("/timers/:id/fire", s.fireTimer)

	api.GET("/connections", s.connections)
	api.PUT("/connections/kick", s.putKick)
	api.PUT("/connections/twitch", s.putTwitch)

	api.GET("/voices/local", s.localVoices)
	api.GET("/voices/remote", s.remoteVoices)
	api.POST("/voices/remote/test", s.testRemoteVoice)

	api.GET("/kick/channel/:name", s.kickChannel)

	api.POST("/overlay/config", s.createOverlayConfig)
	api.GET("/overlay/config/:id", s.getOverlayConfig)
	api.GET("/overlay/config/:id/status", s.overlayStatus)

	e.GET("/overlay", s.overlayPage)
	e.GET("/overlay/ws", s.overlayFeed)
	e.GET("/stream/:id", s.streamPage)
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.server.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func fail(c echo.Context, code int, err error) error {
	return c.JSON(code, errorResponse{Error: err.Error()})
}
