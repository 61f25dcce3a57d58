package server

import (
	"errors"
	"net/http"

	"github.com/bluetap-cloud/bluetap/internal/placement"
	"github.com/bluetap-cloud/bluetap/internal/storage"
)

// nodeAddress is the client-facing view of an assigned replica.
type nodeAddress struct {
	NodeID string `json:"node_id"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
}

func toAddresses(nodes []storage.Node) []nodeAddress {
	addrs := make([]nodeAddress, len(nodes))
	for i, n := range nodes {
		addrs[i] = nodeAddress{NodeID: n.ID, IP: n.IP, Port: n.Port}
	}
	return addrs
}

// handlePutMeta handles POST /api/files/meta — place a new upload across
// live nodes and record it.
func (s *Server) handlePutMeta(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.sessionUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Filename    string `json:"filename"`
		Filesize    int64  `json:"filesize"`
		ChunkSize   int64  `json:"chunk_size"`
		Replication int    `json:"replication"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Filename == "" || req.Filesize < 0 || req.ChunkSize <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "filename, filesize and a positive chunk_size are required")
		return
	}

	record, nodes, err := s.placer.Place(owner, req.Filename, req.Filesize, req.ChunkSize, req.Replication)
	if errors.Is(err, placement.ErrNoLiveNodes) {
		writeError(w, http.StatusServiceUnavailable, CodeNoLiveNodes, "no live storage nodes available")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "placement failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":    record.UploadID,
		"total_chunks": record.TotalChunks,
		"chunk_size":   record.ChunkSize,
		"nodes":        toAddresses(nodes),
	})
}

// handleGetMeta handles GET /api/files/{filename}/meta — look up the newest
// record for the session user's file, with current node addresses.
func (s *Server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.sessionUser(w, r)
	if !ok {
		return
	}
	filename := r.PathValue("filename")

	record, err := s.db.GetFileByFilename(owner, filename)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeFileNotFound, "file not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load file record")
		return
	}

	// Nodes that have since vanished from the registry are simply absent;
	// the remaining replicas are the client's failover candidates.
	nodes, err := s.db.GetNodesByIDs(record.NodeIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to resolve node addresses")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":    record.UploadID,
		"filename":     record.Filename,
		"filesize":     record.Filesize,
		"chunk_size":   record.ChunkSize,
		"total_chunks": record.TotalChunks,
		"nodes":        toAddresses(nodes),
	})
}

// handleListFiles handles GET /api/files — the session user's files, newest
// first.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.sessionUser(w, r)
	if !ok {
		return
	}
	files, err := s.db.ListFilesForOwner(owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list files")
		return
	}
	if files == nil {
		files = []storage.FileSummary{}
	}
	writeJSON(w, http.StatusOK, files)
}

// handleRepair handles POST /api/repair — record a re-replication request
// for an upload. Execution is out of band.
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.sessionUser(w, r)
	if !ok {
		return
	}

	var req struct {
		UploadID string `json:"upload_id"`
		Reason   string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UploadID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "upload_id is required")
		return
	}

	taskID, err := s.reg.ScheduleRepair(req.UploadID, req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to schedule repair")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id":      taskID,
		"requested_by": owner,
	})
}
