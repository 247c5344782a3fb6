package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/TheGojiOG/CfxSM/internal/builds"
	"github.com/TheGojiOG/CfxSM/internal/datafolder"
	"github.com/TheGojiOG/CfxSM/internal/logging"
	"github.com/TheGojiOG/CfxSM/internal/server"
	"github.com/gin-gonic/gin"
)

// statusForError maps domain errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, server.ErrSessionAlreadyActive), errors.Is(err, server.ErrStartCancelled):
		return http.StatusConflict
	case errors.Is(err, server.ErrBuildUnavailable), errors.Is(err, builds.ErrNoInstaller):
		return http.StatusFailedDependency
	case errors.Is(err, datafolder.ErrFolderNotFound), errors.Is(err, builds.ErrInvalidVersion):
		return http.StatusNotFound
	case errors.Is(err, datafolder.ErrConfigMalformed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, server.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logging.L().Error("api_request_failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// queryLimit reads ?limit= and falls back to def for missing or bad values
func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
