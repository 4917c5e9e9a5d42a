package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

// The HTTP surface below is host-local plumbing for the CLI and simple
// monitoring. It is not exposed to companion devices; those speak the
// WebSocket protocol only.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode http response: %v", err)
	}
}

func writeHTTPError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleGenerateCode rotates the pairing code and returns the new one.
// Rotation invalidates the previous code for all not-yet-paired devices.
func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeHTTPError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	code, err := s.challenge.Rotate()
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "failed to generate code")
		return
	}
	log.Printf("server: pairing code rotated")

	writeJSON(w, http.StatusOK, map[string]string{
		"code":        code,
		"generatedAt": s.challenge.GeneratedAt().UTC().Format(time.RFC3339),
	})
}

// deviceSummary is the devices-list wire shape. Connected is computed
// against the live session set at request time.
type deviceSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	PairedAt  string `json:"pairedAt"`
	LastSeen  string `json:"lastSeen"`
	Connected bool   `json:"connected"`
}

func (s *Server) handleDevicesList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeHTTPError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	devices, err := s.registry.List()
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	out := make([]deviceSummary, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceSummary{
			ID:        d.ID,
			Name:      d.Name,
			Type:      string(d.Type),
			PairedAt:  d.PairedAt.UTC().Format(time.RFC3339),
			LastSeen:  d.LastSeen.UTC().Format(time.RFC3339),
			Connected: s.clientByDevice(d.ID) != nil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeviceUntrust handles POST /api/devices/{id}/untrust.
func (s *Server) handleDeviceUntrust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeHTTPError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	deviceID, ok := strings.CutSuffix(rest, "/untrust")
	if !ok || deviceID == "" || strings.Contains(deviceID, "/") {
		writeHTTPError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.Untrust(deviceID); err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "failed to untrust device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "untrusted", "id": deviceID})
}

func (s *Server) handlePushShoppingList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeHTTPError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	target := ParseTarget(r.URL.Query().Get("target"))
	queued, err := s.PushShoppingList(r.Context(), target)
	if err != nil {
		writeHTTPError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"queued": queued})
}

func (s *Server) handlePushMealPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeHTTPError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.timeNow().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeHTTPError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	target := ParseTarget(r.URL.Query().Get("target"))
	queued, err := s.PushMealPlan(r.Context(), date, target)
	if err != nil {
		writeHTTPError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "queued": queued})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeHTTPError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	devices, err := s.registry.List()
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "failed to read registry")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connectedClients": s.ClientCount(),
		"trustedDevices":   len(devices),
		"startedAt":        s.startedAt.UTC().Format(time.RFC3339),
		"uptimeSecs":       int(s.timeNow().Sub(s.startedAt).Seconds()),
	})
}
