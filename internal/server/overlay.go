package server

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/john/chatvoice/internal/overlay"
	"github.com/john/chatvoice/internal/source"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Overlay pages are embedded in OBS browser sources and third-party sites,
// so any origin may subscribe.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// overlayConfigResponse is a stored config plus the two ways to display it
type overlayConfigResponse struct {
	overlay.Config
	OverlayURL string `json:"overlayUrl"`
	StreamURL  string `json:"streamUrl"`
}

// overlayStatusResponse reports the running instance behind a stored config
type overlayStatusResponse struct {
	Viewers     int                        `json:"viewers"`
	Connections map[string]source.Snapshot `json:"connections"`
}

func configResponse(cfg overlay.Config) overlayConfigResponse {
	return overlayConfigResponse{
		Config:     cfg,
		OverlayURL: "/overlay?" + cfg.Query().Encode(),
		StreamURL:  "/stream/" + cfg.ID,
	}
}

func (s *Server) createOverlayConfig(c echo.Context) error {
	cfg := overlay.DefaultSavedConfig()
	if err := c.Bind(&cfg); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	saved, err := s.deps.Store.Create(c.Request().Context(), cfg)
	if errors.Is(err, overlay.ErrNoSources) || errors.Is(err, overlay.ErrInvalidConf) {
		return fail(c, http.StatusBadRequest, err)
	}
	if err != nil {
		log.Printf("Failed to save overlay config: %v", err)
		return fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusCreated, configResponse(saved))
}

func (s *Server) getOverlayConfig(c echo.Context) error {
	cfg, err := s.lookupConfig(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.configError(c, err)
	}
	return c.JSON(http.StatusOK, configResponse(cfg))
}

// overlayStatus reports how many viewers share the stored config's instance
// and the state of its connections. An idle config has no connections.
func (s *Server) overlayStatus(c echo.Context) error {
	cfg, err := s.lookupConfig(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.configError(c, err)
	}
	conns := s.deps.Overlays.Statuses(cfg)
	if conns == nil {
		conns = map[string]source.Snapshot{}
	}
	return c.JSON(http.StatusOK, overlayStatusResponse{
		Viewers:     s.deps.Overlays.Viewers(cfg),
		Connections: conns,
	})
}

func (s *Server) lookupConfig(ctx context.Context, id string) (overlay.Config, error) {
	return s.deps.Store.Get(ctx, id)
}

func (s *Server) configError(c echo.Context, err error) error {
	if errors.Is(err, overlay.ErrNotFound) {
		return fail(c, http.StatusNotFound, err)
	}
	log.Printf("Failed to load overlay config: %v", err)
	return fail(c, http.StatusInternalServerError, err)
}

// overlayPage renders an overlay configured entirely by query parameters
func (s *Server) overlayPage(c echo.Context) error {
	cfg := overlay.FromQuery(c.QueryParams())
	return s.renderPage(c, cfg, "/overlay/ws?"+c.Request().URL.RawQuery)
}

// streamPage renders a stored overlay. It is meant to be framed by other sites.
func (s *Server) streamPage(c echo.Context) error {
	id := c.Param("id")
	cfg, err := s.lookupConfig(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, overlay.ErrNotFound) {
			return c.String(http.StatusNotFound, "Overlay not found")
		}
		return s.configError(c, err)
	}

	h := c.Response().Header()
	h.Set("Content-Security-Policy", "frame-ancestors *")
	h.Set(echo.HeaderAccessControlAllowOrigin, "*")
	return s.renderPage(c, cfg, "/overlay/ws?id="+id)
}

func (s *Server) renderPage(c echo.Context, cfg overlay.Config, feedURL string) error {
	var buf bytes.Buffer
	if err := overlay.RenderPage(&buf, cfg, feedURL); err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// overlayFeed streams chat messages for one overlay viewer. The config comes
// from the stored id when given, otherwise from the query parameters.
func (s *Server) overlayFeed(c echo.Context) error {
	cfg := overlay.FromQuery(c.QueryParams())
	if id := c.QueryParam("id"); id != "" {
		stored, err := s.lookupConfig(c.Request().Context(), id)
		if err != nil {
			return s.configError(c, err)
		}
		cfg = stored
	}

	viewer, err := s.deps.Overlays.Join(cfg)
	if err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	defer viewer.Close()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Overlay websocket upgrade failed: %v", err)
		return nil
	}
	defer conn.Close()

	// The page never sends anything; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, msg := range viewer.Backlog {
		if err := writeJSON(conn, msg); err != nil {
			return nil
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case msg, ok := <-viewer.C:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return nil
			}
			if err := writeJSON(conn, msg); err != nil {
				return nil
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
