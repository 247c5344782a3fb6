package handlers

import (
	"errors"
	"net/http"

	"github.com/TheGojiOG/CfxSM/internal/datafolder"
	"github.com/gin-gonic/gin"
)

type FolderHandler struct {
	manager *datafolder.Manager
}

// FolderDTO describes one data folder. Settings is nil when the settings
// file is malformed; Error then says why.
type FolderDTO struct {
	Name             string               `json:"name"`
	Path             string               `json:"path"`
	Exists           bool                 `json:"exists"`
	HasConfiguration bool                 `json:"has_configuration"`
	Settings         *datafolder.Settings `json:"settings,omitempty"`
	Error            string               `json:"error,omitempty"`
}

func NewFolderHandler(manager *datafolder.Manager) *FolderHandler {
	return &FolderHandler{manager: manager}
}

func (h *FolderHandler) ListFolders(c *gin.Context) {
	folders, err := h.manager.List()
	if err != nil {
		respondError(c, err)
		return
	}

	result := make([]FolderDTO, 0, len(folders))
	for _, folder := range folders {
		result = append(result, newFolderDTO(folder))
	}
	c.JSON(http.StatusOK, gin.H{"folders": result})
}

func (h *FolderHandler) GetFolder(c *gin.Context) {
	folder, err := h.manager.Get(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newFolderDTO(folder))
}

func newFolderDTO(folder *datafolder.Folder) FolderDTO {
	dto := FolderDTO{
		Name:             folder.Name(),
		Path:             folder.Path,
		Exists:           folder.Exists(),
		HasConfiguration: folder.HasConfiguration(),
	}

	settings, err := folder.Settings()
	switch {
	case err == nil:
		dto.Settings = &settings
	case errors.Is(err, datafolder.ErrConfigMalformed):
		dto.Error = err.Error()
	}
	return dto
}
