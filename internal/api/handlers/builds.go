package handlers

import (
	"context"
	"net/http"

	"github.com/TheGojiOG/CfxSM/internal/builds"
	"github.com/gin-gonic/gin"
)

type BuildHandler struct {
	catalog *builds.Catalog
}

type BuildDTO struct {
	Version    string       `json:"version"`
	Folder     string       `json:"folder"`
	State      builds.State `json:"state"`
	Executable string       `json:"executable"`
}

func NewBuildHandler(catalog *builds.Catalog) *BuildHandler {
	return &BuildHandler{catalog: catalog}
}

func (h *BuildHandler) ListBuilds(c *gin.Context) {
	list, err := h.catalog.List()
	if err != nil {
		respondError(c, err)
		return
	}

	result := make([]BuildDTO, 0, len(list))
	for _, build := range list {
		result = append(result, newBuildDTO(build))
	}
	c.JSON(http.StatusOK, gin.H{"builds": result})
}

// InstallBuild installs a version and answers once it is on disk. The
// install keeps going if the client disconnects.
func (h *BuildHandler) InstallBuild(c *gin.Context) {
	build, err := h.catalog.Get(c.Param("version"))
	if err != nil {
		respondError(c, err)
		return
	}

	if err := build.EnsureInstalled(context.WithoutCancel(c.Request.Context())); err != nil {
		c.JSON(http.StatusFailedDependency, gin.H{"error": err.Error(), "build": newBuildDTO(build)})
		return
	}
	c.JSON(http.StatusOK, newBuildDTO(build))
}

func (h *BuildHandler) ListInstalls(c *gin.Context) {
	installs, err := h.catalog.Installs(queryLimit(c, 50, 500))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"installs": installs})
}

func newBuildDTO(build *builds.Build) BuildDTO {
	return BuildDTO{
		Version:    build.Version,
		Folder:     build.Folder,
		State:      build.State(),
		Executable: build.Executable(),
	}
}
