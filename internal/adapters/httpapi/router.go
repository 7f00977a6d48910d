// Package httpapi is the presentation-layer contract surface: read-only
// session snapshots out, coordinator operations in.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/edulive/rtcmesh/internal/app"
	"github.com/edulive/rtcmesh/internal/config"
	"github.com/edulive/rtcmesh/internal/core"
	"github.com/edulive/rtcmesh/internal/domain"
)

// Controller is the slice of the coordinator the HTTP surface needs.
type Controller interface {
	Snapshot() core.SessionSnapshot
	Typing() []domain.UserID
	Initiate(ctx context.Context, sid domain.SessionID) error
	Join(ctx context.Context, sid domain.SessionID) error
	Leave(sid domain.SessionID) error
	End(sid domain.SessionID) error
	Reconnect(ctx context.Context) error
	RetryMedia(ctx context.Context) error
	ToggleAudio() bool
	ToggleVideo() bool
}

type sessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

func SetupRouter(cfg *config.Config, coord Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, coord.Snapshot())
	})

	api.GET("/presence", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"typing": coord.Typing()})
	})

	api.POST("/session/initiate", func(c *gin.Context) {
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		if err := coord.Initiate(c.Request.Context(), domain.SessionID(req.SessionID)); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coord.Snapshot())
	})

	api.POST("/session/join", func(c *gin.Context) {
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		if err := coord.Join(c.Request.Context(), domain.SessionID(req.SessionID)); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coord.Snapshot())
	})

	api.POST("/session/leave", func(c *gin.Context) {
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		if err := coord.Leave(domain.SessionID(req.SessionID)); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coord.Snapshot())
	})

	api.POST("/session/end", func(c *gin.Context) {
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		if err := coord.End(domain.SessionID(req.SessionID)); err != nil {
			status := http.StatusConflict
			if errors.Is(err, app.ErrNotHost) {
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coord.Snapshot())
	})

	api.POST("/session/reconnect", func(c *gin.Context) {
		if err := coord.Reconnect(c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coord.Snapshot())
	})

	api.POST("/media/audio", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"enabled": coord.ToggleAudio()})
	})

	api.POST("/media/video", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"enabled": coord.ToggleVideo()})
	})

	api.POST("/media/retry", func(c *gin.Context) {
		if err := coord.RetryMedia(c.Request.Context()); err != nil {
			var me *app.MediaError
			if errors.As(err, &me) {
				c.JSON(http.StatusConflict, gin.H{"error": string(me.Class), "message": me.UserMessage()})
				return
			}
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coord.Snapshot())
	})

	log.Info().Str("module", "adapters.httpapi").Msg("router setup")
	return r
}
