package handlers

import (
	"net/http"

	"github.com/tunr/backend/internal/config"
	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/models"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// PublicConfig returns the playback cadences and which catalog features are enabled.
func (h *ConfigHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.PublicConfig{
		PlayingPulseMs:    engine.PlayingPulseInterval.Milliseconds(),
		PausedPulseMs:     engine.PausedPulseInterval.Milliseconds(),
		WatchdogMs:        engine.WatchdogInterval.Milliseconds(),
		OverrunGraceMs:    engine.OverrunGrace.Milliseconds(),
		DriftToleranceSec: engine.DriftTolerance,
		LatencyWindowMs:   engine.LatencyWindow.Milliseconds(),
		NudgeStepMs:       engine.NudgeStep,
		CatalogLookup:     h.cfg.CatalogURL != "",
		CatalogSearch:     h.cfg.YouTubeAPIKey != "",
	})
}
