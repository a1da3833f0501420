package webserver

import (
	"net/http"
	"time"

	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/version"
	"go.uber.org/zap"
)

type statusResponse struct {
	Status        string       `json:"status"`
	Version       version.Info `json:"version"`
	Database      string       `json:"database"`
	LastDrawCheck *time.Time   `json:"lastDrawCheck"`
	WSClients     int          `json:"wsClients"`
	Timestamp     time.Time    `json:"timestamp"`
}

// handleStatus returns the current system status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:    "ok",
		Version:   version.Get(),
		Database:  "ok",
		Timestamp: s.deps.Clock.Now(),
	}
	code := http.StatusOK

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		logger.Warn("Database ping failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Database = "unreachable"
		code = http.StatusServiceUnavailable
	} else if last, ok, err := s.deps.Store.LastDrawCheck(r.Context()); err != nil {
		logger.Warn("Failed to read last draw check", zap.Error(err))
	} else if ok {
		resp.LastDrawCheck = &last
	}

	if s.deps.Hub != nil {
		resp.WSClients = s.deps.Hub.ClientCount()
	}

	writeJSON(w, code, resp)
}
