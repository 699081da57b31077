package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
)

func (s *Server) handleGas(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.cfg.Market.Gas(r.Context()))
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"prices": s.cfg.Market.Prices(r.Context())})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.cfg.Market.History(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, history)
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.cfg.Market.Tokens(r.Context()))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	quote, err := s.cfg.Market.Quote(r.Context(), req.From, req.To, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quote)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.cfg.Market.Refresh(r.Context())
	w.WriteHeader(http.StatusAccepted)
}
