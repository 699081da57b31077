package httpapi

import (
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
	"github.com/R3E-Network/wallet_dashboard/internal/identity"
)

// maxAvatarUpload leaves room over the store's own limit so oversized
// images get the store's error rather than a truncated body.
const maxAvatarUpload = 5<<20 + 1

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type userResponse struct {
	User *identity.User `json:"user"`
	// PendingConfirmation is set when sign-up succeeded but the account
	// must be confirmed by email before the first sign-in.
	PendingConfirmation bool `json:"pending_confirmation,omitempty"`
}

// identity returns the store or writes CONFIGURATION_ERROR.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	if s.cfg.Identity == nil {
		s.writeError(w, r, svcerrors.ConfigurationError(s.cfg.IdentityMissing))
		return nil, false
	}
	return s.cfg.Identity, true
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := id.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if user == nil {
		httputil.WriteJSON(w, http.StatusAccepted, userResponse{PendingConfirmation: true})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, userResponse{User: user})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := id.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, userResponse{User: user})
}

// handleStartOAuth returns the provider URL, or redirects to it when
// ?redirect=1 is given.
func (s *Server) handleStartOAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	authURL, state, err := id.StartOAuth(mux.Vars(r)["provider"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("redirect") == "1" {
		http.Redirect(w, r, authURL, http.StatusFound)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"url": authURL, "state": state})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if msg := q.Get("error_description"); msg != "" {
		s.writeError(w, r, svcerrors.AuthServiceError(msg, nil))
		return
	}
	user, err := id.CompleteOAuth(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, userResponse{User: user})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if err := id.SignOut(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := id.ResetPassword(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	user := id.CurrentUser()
	if user == nil {
		s.writeError(w, r, svcerrors.NotAuthenticated(""))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, userResponse{User: user})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := id.UpdateDisplayName(r.Context(), req.DisplayName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, userResponse{User: user})
}

// handleUploadAvatar takes the raw image as the request body.
func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxAvatarUpload))
	if err != nil {
		s.writeError(w, r, svcerrors.InvalidInput("body", "could not read image"))
		return
	}
	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		s.writeError(w, r, svcerrors.InvalidInput("content_type", "is required"))
		return
	}
	user, err := id.UploadAvatar(r.Context(), data, contentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, userResponse{User: user})
}
