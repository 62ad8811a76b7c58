package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ernie/shaker/internal/domain"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseLimit parses and validates a limit parameter; 0 means no limit
func parseLimit(r *http.Request, maxLimit int) (int, bool) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(l)
	if err != nil || parsed <= 0 || parsed > maxLimit {
		return 0, false
	}
	return parsed, true
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
}

// EventResponse is the body of GET /api/event
type EventResponse struct {
	Event      *domain.GlobalEvent `json:"event"`
	Multiplier float64             `json:"multiplier"`
}

// handleGetLeaderboard returns the current ranking
func (r *Router) handleGetLeaderboard(w http.ResponseWriter, req *http.Request) {
	limit, ok := parseLimit(req, 1000)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	board := r.state.Leaderboard()
	if limit > 0 && limit < len(board) {
		board = board[:limit]
	}
	writeJSON(w, http.StatusOK, board)
}

// handleGetEvent returns the active global event, if any
func (r *Router) handleGetEvent(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, EventResponse{
		Event:      r.state.ActiveEvent(),
		Multiplier: r.state.Multiplier(),
	})
}

// handleHealth returns a simple health check response
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Sessions:    r.state.LiveCount(),
		Connections: r.wsHub.ClientCount(),
		Users:       r.state.Len(),
	})
}
