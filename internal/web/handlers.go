package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"running":      s.trader.Running(),
		"stream_state": s.trader.StreamState().String(),
		"positions":    len(s.trader.Positions()),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.trader.Positions())
}

// handleHoldings serves the broker-side account holdings, the venue's view
// of the account as opposed to the session's own ledger.
func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.market.GetHoldings(r.Context())
	if err != nil {
		s.logger.Error("Failed to fetch holdings", zap.Error(err))
		http.Error(w, "Failed to fetch holdings", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, holdings)
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	fills, err := s.journal.ListFills(r.Context(), limitParam(r, 100))
	if err != nil {
		s.logger.Error("Failed to list fills", zap.Error(err))
		http.Error(w, "Failed to list fills", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, fills)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.journal.ListPositionHistory(r.Context(), limitParam(r, 100))
	if err != nil {
		s.logger.Error("Failed to list position history", zap.Error(err))
		http.Error(w, "Failed to list position history", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, history)
}

func (s *Server) handleTraderStart(w http.ResponseWriter, r *http.Request) {
	s.trader.Start()
	s.writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleTraderStop(w http.ResponseWriter, r *http.Request) {
	s.trader.Stop()
	s.writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	s.trader.StartStream()
	s.writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	s.trader.StopStream()
	s.writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleStrategyStart(w http.ResponseWriter, r *http.Request) {
	s.trader.StartStrategy()
	s.writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStrategyStop(w http.ResponseWriter, r *http.Request) {
	s.trader.StopStrategy()
	s.writeJSON(w, map[string]string{"status": "stopped"})
}
