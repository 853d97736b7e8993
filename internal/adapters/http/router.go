package http

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/adapters/ws"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
)

// SetupRouter wires the websocket endpoint, the room admin API and the
// operational endpoints. gatherer may be nil, in which case /metrics is
// not served.
func SetupRouter(cfg *config.Config, hub *app.Hub, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if st, err := os.Stat(cfg.StaticPath); err == nil && st.IsDir() {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
		log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("serving static client")
	}

	wsOpts := ws.Options{
		ReadLimit:    cfg.ReadLimit,
		WriteTimeout: cfg.WriteTimeout,
		Origins:      ws.NewOriginPolicy(cfg.Origins),
	}
	r.GET("/ws", func(c *gin.Context) {
		stream, err := ws.Upgrade(c.Writer, c.Request, wsOpts)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			log.Warn().Err(err).Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("websocket upgrade failed")
			return
		}
		hub.Serve(stream)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"rooms":    len(hub.Rooms()),
			"sessions": hub.SessionCount(),
		})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	rooms := &roomsAPI{hub: hub}
	api := r.Group("/api")
	api.GET("/rooms", rooms.list)
	api.POST("/rooms", rooms.create)
	api.GET("/rooms/:name", rooms.get)
	api.GET("/rooms/:name/state", rooms.state)
	api.DELETE("/rooms/:name", rooms.evict)
	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": hub.Sessions()})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

type roomsAPI struct {
	hub *app.Hub
}

type createRoomRequest struct {
	Name       string `json:"name"`
	Persistent bool   `json:"persistent"`
}

func (a *roomsAPI) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": a.hub.Rooms()})
}

func (a *roomsAPI) create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid name"})
		return
	}
	room := a.hub.CreateRoom(c.Request.Context(), domain.RoomName(req.Name), req.Persistent)
	c.JSON(http.StatusCreated, room.Info())
}

func (a *roomsAPI) get(c *gin.Context) {
	room, ok := a.hub.Room(domain.RoomName(c.Param("name")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room does not exist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":    room.Info(),
		"clients": room.Roster(),
	})
}

func (a *roomsAPI) state(c *gin.Context) {
	room, ok := a.hub.Room(domain.RoomName(c.Param("name")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room does not exist"})
		return
	}
	data, err := room.Snapshot().MarshalJSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode state"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (a *roomsAPI) evict(c *gin.Context) {
	err := a.hub.EvictRoom(domain.RoomName(c.Param("name")))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, app.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room does not exist"})
	case errors.Is(err, app.ErrRoomPersistent):
		c.JSON(http.StatusConflict, gin.H{"error": "room is persistent"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
