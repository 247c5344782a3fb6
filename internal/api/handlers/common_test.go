package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TheGojiOG/CfxSM/internal/builds"
	"github.com/TheGojiOG/CfxSM/internal/datafolder"
	"github.com/TheGojiOG/CfxSM/internal/server"
	"github.com/gin-gonic/gin"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{server.ErrSessionAlreadyActive, http.StatusConflict},
		{server.ErrStartCancelled, http.StatusConflict},
		{server.ErrShuttingDown, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: timeout", server.ErrBuildUnavailable), http.StatusFailedDependency},
		{fmt.Errorf("%w: exec format error", server.ErrProcessSpawnFailed), http.StatusInternalServerError},
		{fmt.Errorf("%w: \"x\"", datafolder.ErrFolderNotFound), http.StatusNotFound},
		{builds.ErrInvalidVersion, http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestQueryLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"?limit=5", 5},
		{"?limit=-1", 20},
		{"?limit=abc", 20},
		{"?limit=9999", 100},
	}

	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
		if got := queryLimit(c, 20, 100); got != tt.want {
			t.Errorf("queryLimit(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestNormalizeList(t *testing.T) {
	got := normalizeList([]string{" https://a.example ", "", "  ", "https://b.example"})
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list %v", got)
	}
}
