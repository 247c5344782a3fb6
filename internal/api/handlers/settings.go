package handlers

import (
	"net/http"
	"strings"

	"github.com/TheGojiOG/CfxSM/internal/config"
	"github.com/TheGojiOG/CfxSM/internal/logging"
	"github.com/TheGojiOG/CfxSM/internal/server"
	"github.com/gin-gonic/gin"
)

// maskedSecret replaces stored keys in responses. Sending it back leaves
// the stored key untouched.
const maskedSecret = "********"

type SettingsHandler struct {
	store    *config.Store
	onChange func(*config.Config)
}

// SettingsPayload is a partial update; nil fields are left alone
type SettingsPayload struct {
	CFXToken                *string         `json:"cfx_token"`
	SteamToken              *string         `json:"steam_token"`
	RestartOnCrash          *bool           `json:"restart_on_crash"`
	ClearCacheOnStart       *bool           `json:"clear_cache"`
	Repos                   []string        `json:"repos"`
	AddAfterInstalling      *bool           `json:"add_after_installing"`
	RemoveAfterUninstalling *bool           `json:"remove_after_uninstalling"`
	Builds                  map[string]any  `json:"builds"`
	Creator                 map[string]any  `json:"creator"`
	AutoRestart             *AutoRestartDTO `json:"auto_restart"`
}

type AutoRestartDTO struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}

type SettingsResponse struct {
	CFXToken                string         `json:"cfx_token"`
	SteamToken              string         `json:"steam_token"`
	RestartOnCrash          bool           `json:"restart_on_crash"`
	ClearCacheOnStart       bool           `json:"clear_cache"`
	Repos                   []string       `json:"repos"`
	AddAfterInstalling      bool           `json:"add_after_installing"`
	RemoveAfterUninstalling bool           `json:"remove_after_uninstalling"`
	Builds                  map[string]any `json:"builds"`
	Creator                 map[string]any `json:"creator"`
	AutoRestart             AutoRestartDTO `json:"auto_restart"`
}

// NewSettingsHandler creates the handler. onChange runs after every
// successful update and may be nil.
func NewSettingsHandler(store *config.Store, onChange func(*config.Config)) *SettingsHandler {
	return &SettingsHandler{store: store, onChange: onChange}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, newSettingsResponse(h.store.Get()))
}

func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var payload SettingsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	candidate := h.store.Get()
	payload.apply(candidate)
	if err := candidate.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if candidate.AutoRestart.Enabled {
		if _, err := server.ParseSchedule(candidate.AutoRestart.Schedule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	updated, err := h.store.Update(payload.apply)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings", "details": err.Error()})
		return
	}
	logging.L().Info("settings_updated", "path", h.store.Path())

	if h.onChange != nil {
		h.onChange(updated)
	}

	c.JSON(http.StatusOK, newSettingsResponse(updated))
}

func (p SettingsPayload) apply(cfg *config.Config) {
	if p.CFXToken != nil && *p.CFXToken != maskedSecret {
		cfg.CFXToken = strings.TrimSpace(*p.CFXToken)
	}
	if p.SteamToken != nil && *p.SteamToken != maskedSecret {
		cfg.SteamToken = strings.TrimSpace(*p.SteamToken)
	}
	if p.RestartOnCrash != nil {
		cfg.RestartOnCrash = *p.RestartOnCrash
	}
	if p.ClearCacheOnStart != nil {
		cfg.ClearCacheOnStart = *p.ClearCacheOnStart
	}
	if p.Repos != nil {
		cfg.Repos = normalizeList(p.Repos)
	}
	if p.AddAfterInstalling != nil {
		cfg.AddAfterInstalling = *p.AddAfterInstalling
	}
	if p.RemoveAfterUninstalling != nil {
		cfg.RemoveAfterUninstalling = *p.RemoveAfterUninstalling
	}
	if p.Builds != nil {
		cfg.Builds = p.Builds
	}
	if p.Creator != nil {
		cfg.Creator = p.Creator
	}
	if p.AutoRestart != nil {
		cfg.AutoRestart.Enabled = p.AutoRestart.Enabled
		cfg.AutoRestart.Schedule = strings.TrimSpace(p.AutoRestart.Schedule)
	}
}

func newSettingsResponse(cfg *config.Config) SettingsResponse {
	return SettingsResponse{
		CFXToken:                mask(cfg.CFXToken),
		SteamToken:              mask(cfg.SteamToken),
		RestartOnCrash:          cfg.RestartOnCrash,
		ClearCacheOnStart:       cfg.ClearCacheOnStart,
		Repos:                   cfg.Repos,
		AddAfterInstalling:      cfg.AddAfterInstalling,
		RemoveAfterUninstalling: cfg.RemoveAfterUninstalling,
		Builds:                  cfg.Builds,
		Creator:                 cfg.Creator,
		AutoRestart: AutoRestartDTO{
			Enabled:  cfg.AutoRestart.Enabled,
			Schedule: cfg.AutoRestart.Schedule,
		},
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return maskedSecret
}

func normalizeList(values []string) []string {
	normalized := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
