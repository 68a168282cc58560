package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tdu-cpslab/volp/internal/audio"
	"github.com/tdu-cpslab/volp/internal/config"
	"github.com/tdu-cpslab/volp/internal/controller"
)

// StatusProvider reports the control loop's current state
type StatusProvider interface {
	Status() controller.Status
}

// Handler manages API endpoints
type Handler struct {
	config      *config.Config
	status      StatusProvider
	audioDriver audio.AudioDriver
}

// New creates a new API handler
func New(cfg *config.Config, status StatusProvider) *Handler {
	return &Handler{
		config: cfg,
		status: status,
	}
}

// SetAudioDriver sets the audio driver instance used to list devices
func (h *Handler) SetAudioDriver(driver audio.AudioDriver) {
	h.audioDriver = driver
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/devices", h.handleDevices)
	mux.HandleFunc("/api/config", h.handleConfig)
}

// handleStatus handles GET /api/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := controller.Status{State: controller.StateIdle.String()}
	if h.status != nil {
		status = h.status.Status()
	}

	writeJSON(w, status)
}

// handleConfig handles GET /api/config. Secrets are masked.
func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, h.config.Redacted())
}

// Device represents an audio input device
type Device struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	IsDefault bool    `json:"is_default"`
	Channels  int     `json:"channels"`
	Rate      float64 `json:"rate"`
}

// convertAudioDevices converts audio.Device slice to api.Device slice
func convertAudioDevices(audioDevices []audio.Device) []Device {
	devices := make([]Device, 0, len(audioDevices))
	for _, dev := range audioDevices {
		devices = append(devices, Device{
			ID:        dev.ID,
			Name:      dev.Name,
			IsDefault: dev.IsDefault,
			Channels:  dev.Channels,
			Rate:      dev.Rate,
		})
	}
	return devices
}

// handleDevices handles GET /api/devices
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Without a driver only the system default is reported
	devices := []Device{{ID: -1, Name: "system default", IsDefault: true}}

	if h.audioDriver != nil {
		audioDevices, err := h.audioDriver.ListDevices()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list audio devices: %v", err), http.StatusInternalServerError)
			return
		}
		devices = convertAudioDevices(audioDevices)
	}

	writeJSON(w, map[string]interface{}{
		"devices":   devices,
		"device_id": h.config.Audio.DeviceID,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
