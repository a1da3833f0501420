package webserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/nantokaworks/giveaway-draw/internal/ledger"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/types"
	"go.uber.org/zap"
)

// 受け付ける唯一の抽選種別
const supportedGiveawayType = "10min"

// エラー種別
const (
	errorKindValidation       = "ValidationError"
	errorKindUnsupportedType  = "UnsupportedWindowType"
	errorKindWindowClosed     = "WindowClosed"
	errorKindQuotaExceeded    = "QuotaExceeded"
	errorKindTicketExhausted  = "TicketSpaceExhausted"
	errorKindStorage          = "StorageError"
	maxSubmitEntryRequestBody = 64 << 10
)

type submitEntryRequest struct {
	InitData       string `json:"initData"`
	GiveawayType   string `json:"giveawayType"`
	Username       string `json:"username"`
	Phone          string `json:"phone"`
	SecretQuestion string `json:"secretQuestion"`
	SecretAnswer   string `json:"secretAnswer"`
}

type submitEntryResponse struct {
	Success      bool   `json:"success"`
	TicketNumber string `json:"ticketNumber,omitempty"`
	DrawNumber   string `json:"drawNumber,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"errorKind,omitempty"`
}

type entryAcceptedEvent struct {
	DrawNumber string `json:"drawNumber"`
	Count      int    `json:"count"`
}

func (s *Server) handleSubmitEntry(w http.ResponseWriter, r *http.Request) {
	var req submitEntryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitEntryRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, submitEntryResponse{Error: "Invalid request body", ErrorKind: errorKindValidation})
		return
	}

	user, err := s.deps.Verifier.Verify(req.InitData)
	if err != nil {
		logger.Debug("Rejected submission with invalid init data", zap.Error(err))
		writeJSON(w, http.StatusForbidden, submitEntryResponse{Error: "Invalid Telegram data", ErrorKind: errorKindValidation})
		return
	}

	if req.GiveawayType != supportedGiveawayType {
		writeJSON(w, http.StatusOK, submitEntryResponse{Error: "Giveaway not active", ErrorKind: errorKindUnsupportedType})
		return
	}

	receipt, err := s.deps.Ledger.Submit(r.Context(), ledger.Submission{
		Origin:   clientOrigin(r),
		Identity: user.IDString(),
		Profile: types.Profile{
			Username:       req.Username,
			Phone:          req.Phone,
			SecretQuestion: req.SecretQuestion,
			SecretAnswer:   req.SecretAnswer,
		},
	})
	switch {
	case errors.Is(err, ledger.ErrWindowClosed):
		writeJSON(w, http.StatusOK, submitEntryResponse{Error: "Entry closed for current draw", ErrorKind: errorKindWindowClosed})
		return
	case errors.Is(err, ledger.ErrQuotaExceeded):
		writeJSON(w, http.StatusOK, submitEntryResponse{Error: "Max 10 tickets per IP per draw", ErrorKind: errorKindQuotaExceeded})
		return
	case errors.Is(err, ledger.ErrTicketSpaceExhausted):
		writeJSON(w, http.StatusServiceUnavailable, submitEntryResponse{Error: "No ticket numbers left for current draw", ErrorKind: errorKindTicketExhausted})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, submitEntryResponse{Error: "Failed to store entry", ErrorKind: errorKindStorage})
		return
	}

	if s.deps.Hub != nil {
		if count, err := s.deps.Ledger.CountFor(r.Context(), receipt.WindowID); err == nil {
			s.deps.Hub.Broadcast(EventEntryAccepted, entryAcceptedEvent{DrawNumber: receipt.WindowID, Count: count})
		}
	}

	writeJSON(w, http.StatusOK, submitEntryResponse{
		Success:      true,
		TicketNumber: receipt.TicketNumber,
		DrawNumber:   receipt.WindowID,
	})
}

type adminAuthRequest struct {
	InitData string `json:"initData"`
}

type adminAuthResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleAdminAuth(w http.ResponseWriter, r *http.Request) {
	var req adminAuthRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitEntryRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusForbidden, adminAuthResponse{Success: false})
		return
	}

	user, err := s.deps.Verifier.Verify(req.InitData)
	if err != nil || !s.deps.Verifier.IsAdmin(user.ID) {
		writeJSON(w, http.StatusForbidden, adminAuthResponse{Success: false})
		return
	}

	logger.Info("Admin authenticated", zap.Int64("telegram_id", user.ID))
	writeJSON(w, http.StatusOK, adminAuthResponse{Success: true})
}

// clientOrigin は先頭のX-Forwarded-For、なければ接続元アドレスを返す
func clientOrigin(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}

	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
