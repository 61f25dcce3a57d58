// Package server implements the gateway HTTP API: authentication, node
// registration, placement, and file metadata.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/bluetap-cloud/bluetap/internal/auth"
	"github.com/bluetap-cloud/bluetap/internal/placement"
	"github.com/bluetap-cloud/bluetap/internal/registry"
	"github.com/bluetap-cloud/bluetap/internal/storage"
)

// Machine-readable error codes carried alongside every error message.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeCodeNotFound    = "code_not_found"
	CodeCodeExpired     = "code_expired"
	CodeCodeMismatch    = "code_mismatch"
	CodeInvalidToken    = "invalid_token"
	CodeNoLiveNodes     = "no_live_nodes"
	CodeFileNotFound    = "file_not_found"
	CodeInternal        = "internal"
)

// Server is the gateway HTTP server.
type Server struct {
	db     *storage.DB
	auth   *auth.Service
	reg    *registry.Registry
	placer *placement.Planner
	mux    *http.ServeMux
}

// New creates a Server with all routes registered.
func New(db *storage.DB, authSvc *auth.Service, reg *registry.Registry, placer *placement.Planner) *Server {
	s := &Server{
		db:     db,
		auth:   authSvc,
		reg:    reg,
		placer: placer,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Auth
	s.mux.HandleFunc("POST /api/auth/code", s.handleRequestCode)
	s.mux.HandleFunc("POST /api/auth/verify", s.handleVerifyCode)
	s.mux.HandleFunc("GET /api/auth/session", s.handleSession)

	// Nodes
	s.mux.HandleFunc("POST /api/nodes/register", s.handleRegisterNode)
	s.mux.HandleFunc("GET /api/nodes", s.handleListNodes)

	// Files
	s.mux.HandleFunc("POST /api/files/meta", s.handlePutMeta)
	s.mux.HandleFunc("GET /api/files/{filename}/meta", s.handleGetMeta)
	s.mux.HandleFunc("GET /api/files", s.handleListFiles)

	// Repair
	s.mux.HandleFunc("POST /api/repair", s.handleRepair)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "bluetap-gateway",
	})
}

// sessionUser resolves the X-Session-Token header to a username. On failure
// it writes the error response and returns ok=false.
func (s *Server) sessionUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, "missing session token")
		return "", false
	}
	username, ok := s.auth.ValidateSession(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, "invalid or expired session")
		return "", false
	}
	return username, true
}

// decodeJSON decodes a request body, writing an invalid_argument error on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "invalid JSON body")
		return false
	}
	return true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with a machine-readable code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
