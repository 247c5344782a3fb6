package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/builds"
	"github.com/TheGojiOG/CfxSM/internal/console"
	"github.com/TheGojiOG/CfxSM/internal/datafolder"
	"github.com/TheGojiOG/CfxSM/internal/server"
	"github.com/gin-gonic/gin"
)

type RuntimeHandler struct {
	manager   *server.RuntimeManager
	catalog   *builds.Catalog
	folders   *datafolder.Manager
	scheduler *server.RestartScheduler
	feed      *console.Feed
}

type StartRequest struct {
	Build  string `json:"build" binding:"required"`
	Folder string `json:"folder" binding:"required"`
}

type RuntimeStatusResponse struct {
	server.Status
	NextRestart *time.Time `json:"next_restart,omitempty"`
}

// NewRuntimeHandler creates the handler. scheduler and feed may be nil.
func NewRuntimeHandler(manager *server.RuntimeManager, catalog *builds.Catalog, folders *datafolder.Manager, scheduler *server.RestartScheduler, feed *console.Feed) *RuntimeHandler {
	return &RuntimeHandler{
		manager:   manager,
		catalog:   catalog,
		folders:   folders,
		scheduler: scheduler,
		feed:      feed,
	}
}

func (h *RuntimeHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}

// Start launches a server and answers once it is running or has failed.
// Starting may include a build install; a client disconnect does not
// abort it, only a Stop does.
func (h *RuntimeHandler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	build, err := h.catalog.Get(req.Build)
	if err != nil {
		respondError(c, err)
		return
	}
	folder, err := h.folders.Get(req.Folder)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.manager.Start(context.WithoutCancel(c.Request.Context()), build, folder); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.status())
}

func (h *RuntimeHandler) Stop(c *gin.Context) {
	if err := h.manager.Stop(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.status())
}

// Restart cycles a running server on the same build and folder
func (h *RuntimeHandler) Restart(c *gin.Context) {
	build, folder, ok := h.manager.Target()
	if !ok || h.manager.Status().State != server.StateRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "no server is running"})
		return
	}

	if err := h.manager.Stop(); err != nil {
		respondError(c, err)
		return
	}
	if err := h.manager.Start(context.WithoutCancel(c.Request.Context()), build, folder); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.status())
}

func (h *RuntimeHandler) ListSessions(c *gin.Context) {
	sessions, err := h.manager.Sessions(c.Request.Context(), queryLimit(c, 20, 500))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetConsole returns buffered server output, optionally filtered with
// ?filter=errors|search|regex&pattern=
func (h *RuntimeHandler) GetConsole(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusOK, gin.H{"lines": []string{}})
		return
	}

	filter, err := console.NewOutputFilter(c.Query("filter"), c.Query("pattern"), c.Query("case_sensitive") == "true")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": h.feed.Tail(queryLimit(c, 200, console.DefaultBufferLines), filter)})
}

func (h *RuntimeHandler) status() RuntimeStatusResponse {
	resp := RuntimeStatusResponse{Status: h.manager.Status()}
	if h.scheduler != nil {
		if next, ok := h.scheduler.Next(); ok {
			resp.NextRestart = &next
		}
	}
	return resp
}
