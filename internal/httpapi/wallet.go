package httpapi

import (
	"net/http"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
)

type feesResponse struct {
	Model          string `json:"model"`
	GasPriceGwei   string `json:"gas_price_gwei"`
	BaseFeeGwei    string `json:"base_fee_gwei,omitempty"`
	MaxPriorityFee string `json:"max_priority_fee_gwei,omitempty"`
	MaxFeeGwei     string `json:"max_fee_gwei,omitempty"`
}

func (s *Server) wallet(w http.ResponseWriter, r *http.Request) (Wallet, bool) {
	if s.cfg.Wallet == nil {
		s.writeError(w, r, svcerrors.ProviderMissing())
		return nil, false
	}
	return s.cfg.Wallet, true
}

func (s *Server) handleWalletState(w http.ResponseWriter, r *http.Request) {
	wal, ok := s.wallet(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wal.State())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	wal, ok := s.wallet(w, r)
	if !ok {
		return
	}
	state, err := wal.Connect(r.Context())
	if err != nil {
		s.cfg.Metrics.RecordWalletEvent("connect_failed")
		s.writeError(w, r, err)
		return
	}
	s.cfg.Metrics.RecordWalletEvent("connect")
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	wal, ok := s.wallet(w, r)
	if !ok {
		return
	}
	wal.Disconnect()
	s.cfg.Metrics.RecordWalletEvent("disconnect")
	w.WriteHeader(http.StatusNoContent)
}

// handleBalance reads ?address=, defaulting to the connected account.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	wal, ok := s.wallet(w, r)
	if !ok {
		return
	}
	address := r.URL.Query().Get("address")
	if address == "" {
		address = wal.State().Address
	}
	if address == "" {
		s.writeError(w, r, svcerrors.InvalidInput("address", "is required when no wallet is connected"))
		return
	}
	balance, err := wal.GetBalance(r.Context(), address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"address": chain.NormalizeAddress(address),
		"balance": balance,
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	wal, ok := s.wallet(w, r)
	if !ok {
		return
	}
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	hash, err := wal.SendNativeTransfer(r.Context(), req.To, req.Amount)
	if err != nil {
		s.cfg.Metrics.RecordWalletEvent("transfer_failed")
		s.writeError(w, r, err)
		return
	}
	s.cfg.Metrics.RecordWalletEvent("transfer")
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tx_hash": hash,
		"state":   wal.State(),
	})
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	wal, ok := s.wallet(w, r)
	if !ok {
		return
	}
	data, err := wal.FeeData(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := feesResponse{Model: data.Model, GasPriceGwei: chain.GweiString(data.GasPrice)}
	if data.Model == chain.FeeModelEIP1559 {
		resp.BaseFeeGwei = chain.GweiString(data.BaseFee)
		resp.MaxPriorityFee = chain.GweiString(data.MaxPriorityFee)
		resp.MaxFeeGwei = chain.GweiString(data.MaxFee)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
