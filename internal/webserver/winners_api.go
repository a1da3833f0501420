package webserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nantokaworks/giveaway-draw/internal/archive"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"go.uber.org/zap"
)

func (s *Server) handleWinners(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	result, err := s.deps.Archive.ListWinners(r.Context(), page, archive.DefaultPageSize)
	if err != nil {
		logger.Error("Failed to list winners", zap.Error(err))
		http.Error(w, "Failed to list winners", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleWinnerDetail(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Archive.GetWinnerDetail(r.Context(), r.URL.Query().Get("draw"))
	if errors.Is(err, archive.ErrNotFound) {
		writeJSON(w, http.StatusOK, messageResponse{Message: "Draw not found"})
		return
	}
	if err != nil {
		logger.Error("Failed to get winner detail", zap.Error(err))
		http.Error(w, "Failed to get winner detail", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
