package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vitos/stock_auto_trader/internal/domain"
	"github.com/vitos/stock_auto_trader/internal/usecase"
)

// Server exposes the session's JSON status surface and start/stop controls
// for an external UI.
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	trader  *usecase.TraderService
	market  domain.MarketData
	journal domain.TradeJournal
	logger  *zap.Logger
}

func NewServer(port int, trader *usecase.TraderService, market domain.MarketData, journal domain.TradeJournal, logger *zap.Logger) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		trader:  trader,
		market:  market,
		journal: journal,
		logger:  logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Positions
	s.router.HandleFunc("GET /positions", s.handlePositions)
	s.router.HandleFunc("GET /holdings", s.handleHoldings)

	// Journal
	s.router.HandleFunc("GET /fills", s.handleFills)
	s.router.HandleFunc("GET /history", s.handleHistory)

	// Controls
	s.router.HandleFunc("POST /trader/start", s.handleTraderStart)
	s.router.HandleFunc("POST /trader/stop", s.handleTraderStop)
	s.router.HandleFunc("POST /stream/start", s.handleStreamStart)
	s.router.HandleFunc("POST /stream/stop", s.handleStreamStop)
	s.router.HandleFunc("POST /strategy/start", s.handleStrategyStart)
	s.router.HandleFunc("POST /strategy/stop", s.handleStrategyStop)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
