package server

import (
	"net/http"

	"github.com/bluetap-cloud/bluetap/internal/storage"
)

// handleRegisterNode handles POST /api/nodes/register — the combined
// registration and heartbeat call from storage nodes.
func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID        string `json:"node_id"`
		IP            string `json:"ip"`
		Port          int    `json:"port"`
		CapacityBytes int64  `json:"capacity_bytes"`
		Metadata      string `json:"metadata"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NodeID == "" || req.IP == "" || req.Port <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "node_id, ip and port are required")
		return
	}

	firstSeen, err := s.reg.Register(storage.Node{
		ID:            req.NodeID,
		IP:            req.IP,
		Port:          req.Port,
		CapacityBytes: req.CapacityBytes,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to register node")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "registered",
		"first_seen": firstSeen,
	})
}

// handleListNodes handles GET /api/nodes — the full registry snapshot with
// derived liveness flags.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.reg.AllNodes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list nodes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":              nodes,
		"liveness_window_ms": s.reg.Window().Milliseconds(),
	})
}
