package httpapi

import (
	"net/http"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
)

// requireLinkage answers CONFIGURATION_ERROR while identity or the linker is
// missing. It runs ahead of RequireUser so an unconfigured deployment is not
// reported as a signed-out user.
func (s *Server) requireLinkage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Identity == nil || s.cfg.Linker == nil {
			s.writeError(w, r, svcerrors.ConfigurationError(s.cfg.IdentityMissing))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleLink links body.address, or the connected wallet when omitted.
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if r.ContentLength != 0 {
		if err := httputil.ReadJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.Address == "" && s.cfg.Wallet != nil {
		if state := s.cfg.Wallet.State(); state.Connected {
			req.Address = state.Address
		}
	}
	result, err := s.cfg.Linker.LinkWallet(r.Context(), s.users().CurrentUser(), req.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleLinkedWallets(w http.ResponseWriter, r *http.Request) {
	wallets := s.cfg.Linker.GetLinkedWallets(r.Context(), s.users().CurrentUser())
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"wallet_addresses": wallets})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"diagnostics": s.cfg.Diagnostics.Recent()})
}
