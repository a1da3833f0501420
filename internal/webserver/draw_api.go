package webserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nantokaworks/giveaway-draw/internal/localdb"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/window"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrSize = 256

type currentDrawResponse struct {
	Active          bool         `json:"active"`
	DrawNumber      string       `json:"drawNumber,omitempty"`
	State           window.State `json:"state,omitempty"`
	IsPickTime      bool         `json:"isPickTime"`
	WindowStart     *time.Time   `json:"windowStart,omitempty"`
	SecondsToClose  int64        `json:"secondsToClose"`
	EntryCount      int          `json:"entryCount"`
	ServerTimestamp time.Time    `json:"serverTime"`
}

// handleCurrentDraw は現在のウィンドウ状態を返す
func (s *Server) handleCurrentDraw(w http.ResponseWriter, r *http.Request) {
	now := s.deps.Clock.Now()
	resp := currentDrawResponse{ServerTimestamp: now}

	info, ok := s.deps.Resolver.Resolve(now)
	if !ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	start := info.Start
	resp.Active = true
	resp.DrawNumber = info.WindowID
	resp.State = info.State
	resp.IsPickTime = info.IsPickInstant
	resp.WindowStart = &start

	if info.State == window.StateEntry {
		resp.SecondsToClose = int64(s.deps.Resolver.CloseOf(info.Index).Sub(now) / time.Second)
	}

	count, err := s.deps.Ledger.CountFor(r.Context(), info.WindowID)
	if err != nil {
		logger.Error("Failed to count entries", zap.Error(err))
		http.Error(w, "Failed to count entries", http.StatusInternalServerError)
		return
	}
	resp.EntryCount = count

	writeJSON(w, http.StatusOK, resp)
}

// handleTicketQR renders "draw:ticket" as a PNG QR code for an issued ticket.
func (s *Server) handleTicketQR(w http.ResponseWriter, r *http.Request) {
	drawNumber := chi.URLParam(r, "draw")
	ticket := chi.URLParam(r, "ticket")

	if _, err := window.ParseID(drawNumber); err != nil {
		http.Error(w, "Invalid draw number", http.StatusBadRequest)
		return
	}

	entry, err := s.deps.Store.FindEntry(r.Context(), drawNumber, ticket)
	if errors.Is(err, localdb.ErrEntryNotFound) {
		http.Error(w, "Ticket not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("Failed to look up ticket", zap.Error(err))
		http.Error(w, "Failed to look up ticket", http.StatusInternalServerError)
		return
	}

	png, err := qrcode.Encode(entry.WindowID+":"+entry.TicketNumber, qrcode.Medium, qrSize)
	if err != nil {
		logger.Error("Failed to encode ticket QR", zap.Error(err))
		http.Error(w, "Failed to encode QR code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=600")
	_, _ = w.Write(png)
}
