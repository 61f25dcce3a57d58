// Package node implements the storage-node service: the WebSocket data plane
// over the chunk store, plus health/stats endpoints and the heartbeat loop.
package node

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bluetap-cloud/bluetap/internal/chunkstore"
	"github.com/bluetap-cloud/bluetap/internal/ratelimit"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the HTTP/WebSocket server for one storage node.
type Server struct {
	nodeID  string
	store   *chunkstore.Store
	mux     *http.ServeMux
	started time.Time
}

// NewServer creates a node Server over the given chunk store.
func NewServer(nodeID string, store *chunkstore.Store) *Server {
	s := &Server{
		nodeID:  nodeID,
		store:   store,
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "bluetap-node",
		"node_id": s.nodeID,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.store.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        s.nodeID,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"uploads":        st.Uploads,
		"chunks_total":   st.ChunksTotal,
		"bytes_used":     st.BytesUsed,
	})
}

// handleWS runs one data-plane session. Uploads stream put_chunk frames and
// end with put_done; a checksum failure aborts the session with a failed
// upload_result. A client disconnect simply ends the loop: chunks whose
// bytes were not durable before the cut were never marked received.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[node] websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// Limits retrieval requests per connection; chunk frames are not counted.
	limiter := ratelimit.New(60, time.Minute)
	received := 0

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[node] websocket read error: %v", err)
			}
			return
		}

		switch msg.Type {
		case "put_chunk":
			var p PutChunkPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				writeWSError(conn, "invalid put_chunk payload", CodeBadPayload)
				return
			}
			if err := s.store.WriteChunk(p.UploadID, p.Filename, p.ChunkID, p.Data, p.Checksum); err != nil {
				result := UploadResult{
					Success:        false,
					Message:        err.Error(),
					ReceivedChunks: received,
				}
				if !errors.Is(err, chunkstore.ErrChecksumMismatch) {
					// Local disk fault: degrade this request only.
					log.Printf("[node] write chunk %s:%d: %v", p.UploadID, p.ChunkID, err)
				}
				_ = conn.WriteJSON(Response{Type: "upload_result", Payload: result})
				return
			}
			received++

		case "put_done":
			var p PutDonePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				writeWSError(conn, "invalid put_done payload", CodeBadPayload)
				return
			}
			result := UploadResult{
				Success:        true,
				Message:        "chunks received",
				ReceivedChunks: received,
				Complete:       p.UploadID != "" && s.store.IsComplete(p.UploadID),
			}
			if err := conn.WriteJSON(Response{Type: "upload_result", Payload: result}); err != nil {
				log.Printf("[node] websocket write error: %v", err)
			}
			return

		case "get_chunks":
			if !limiter.Allow() {
				writeWSError(conn, "rate limit exceeded", CodeRateLimited)
				continue
			}
			var p GetChunksPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				writeWSError(conn, "invalid get_chunks payload", CodeBadPayload)
				return
			}
			if !s.streamChunks(conn, p) {
				return
			}

		default:
			writeWSError(conn, "unknown message type: "+msg.Type, CodeBadPayload)
		}
	}
}

// streamChunks serves one retrieval. A chunk missing from the requested
// range fails the whole retrieval so the caller can fail over instead of
// assembling silently truncated output. Returns false when the connection
// should be closed.
func (s *Server) streamChunks(conn *websocket.Conn, p GetChunksPayload) bool {
	start := p.StartChunk
	if start < 0 {
		start = 0
	}
	end := p.EndChunk
	if end <= 0 {
		end = s.store.ChunkCount(p.UploadID)
	}

	sent := 0
	for id := start; id < end; id++ {
		data, err := s.store.ReadChunk(p.UploadID, id)
		if err != nil {
			if errors.Is(err, chunkstore.ErrChunkNotFound) {
				writeWSError(conn, err.Error(), CodeChunkNotFound)
			} else {
				log.Printf("[node] read chunk %s:%d: %v", p.UploadID, id, err)
				writeWSError(conn, err.Error(), "")
			}
			return false
		}
		resp := Response{Type: "chunk", Payload: ChunkPayload{
			ChunkID:  id,
			Data:     data,
			Checksum: chunkstore.Checksum(data),
		}}
		if err := conn.WriteJSON(resp); err != nil {
			log.Printf("[node] websocket write error: %v", err)
			return false
		}
		sent++
	}

	done := Response{Type: "chunks_done", Payload: ChunksDonePayload{Count: sent}}
	if err := conn.WriteJSON(done); err != nil {
		log.Printf("[node] websocket write error: %v", err)
		return false
	}
	return true
}

func writeWSError(conn *websocket.Conn, message, code string) {
	_ = conn.WriteJSON(Response{Type: "error", Payload: ErrorPayload{Error: message, Code: code}})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
