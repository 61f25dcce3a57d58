package server

import (
	"errors"
	"net/http"

	"github.com/bluetap-cloud/bluetap/internal/auth"
)

// handleRequestCode handles POST /api/auth/code — issue a one-time login
// code and dispatch it to the user's contact.
func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Contact  string `json:"contact"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "username is required")
		return
	}

	contact, err := s.auth.RequestAccessCode(req.Username, req.Contact)
	if errors.Is(err, auth.ErrContactRequired) {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "unknown user: contact required to register")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to issue access code")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "code sent",
		"contact": contact,
	})
}

// handleVerifyCode handles POST /api/auth/verify — exchange a one-time code
// for a session token.
func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Code     string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "username and code are required")
		return
	}

	session, err := s.auth.VerifyAccessCode(req.Username, req.Code)
	switch {
	case errors.Is(err, auth.ErrNoActiveCode):
		writeError(w, http.StatusUnauthorized, CodeCodeNotFound, "no access code on file")
		return
	case errors.Is(err, auth.ErrCodeExpired):
		writeError(w, http.StatusUnauthorized, CodeCodeExpired, "access code expired")
		return
	case errors.Is(err, auth.ErrCodeMismatch):
		writeError(w, http.StatusUnauthorized, CodeCodeMismatch, "access code mismatch")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to verify access code")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
	})
}

// handleSession handles GET /api/auth/session — report whether the presented
// token is valid. Always 200; validity is in the body.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Session-Token")
	username, ok := s.auth.ValidateSession(token)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    ok,
		"username": username,
	})
}
