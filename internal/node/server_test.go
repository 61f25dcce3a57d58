package node

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bluetap-cloud/bluetap/internal/chunkstore"
)

func testNodeServer(t *testing.T) (*httptest.Server, *chunkstore.Store) {
	t.Helper()
	store, err := chunkstore.New(filepath.Join(t.TempDir(), "chunks"))
	if err != nil {
		t.Fatalf("chunkstore.New: %v", err)
	}
	srv := httptest.NewServer(NewServer("test-node", store))
	t.Cleanup(srv.Close)
	return srv, store
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(Message{Type: msgType, Payload: raw}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// recv reads one frame and decodes its payload into out.
func recv(t *testing.T, conn *websocket.Conn, out any) string {
	t.Helper()
	var frame struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(frame.Payload, out); err != nil {
			t.Fatalf("decode %s payload: %v", frame.Type, err)
		}
	}
	return frame.Type
}

func TestHealthAndStats(t *testing.T) {
	srv, store := testNodeServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	data := []byte("stats payload")
	store.WriteChunk("u1", "f.bin", 0, data, chunkstore.Checksum(data))

	resp, err = http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer resp.Body.Close()
	var stats map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["node_id"] != "test-node" {
		t.Errorf("node_id = %v, want test-node", stats["node_id"])
	}
	if stats["chunks_total"].(float64) != 1 {
		t.Errorf("chunks_total = %v, want 1", stats["chunks_total"])
	}
}

func TestPutChunks_StreamAndResult(t *testing.T) {
	srv, store := testNodeServer(t)
	conn := dialWS(t, srv)

	chunks := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for i, data := range chunks {
		send(t, conn, "put_chunk", PutChunkPayload{
			UploadID: "u1", Filename: "f.bin", ChunkID: i,
			Data: data, Checksum: chunkstore.Checksum(data),
		})
	}
	send(t, conn, "put_done", PutDonePayload{UploadID: "u1"})

	var result UploadResult
	if typ := recv(t, conn, &result); typ != "upload_result" {
		t.Fatalf("frame type = %q, want upload_result", typ)
	}
	if !result.Success || result.ReceivedChunks != 3 || !result.Complete {
		t.Errorf("result = %+v, want success with 3 chunks, complete", result)
	}
	if !store.IsComplete("u1") {
		t.Error("store should report upload complete")
	}
}

func TestPutChunks_ChecksumMismatchAbortsSession(t *testing.T) {
	srv, store := testNodeServer(t)
	conn := dialWS(t, srv)

	good := []byte("good")
	send(t, conn, "put_chunk", PutChunkPayload{
		UploadID: "u1", Filename: "f.bin", ChunkID: 0,
		Data: good, Checksum: chunkstore.Checksum(good),
	})
	// Tampered: checksum computed over different bytes.
	send(t, conn, "put_chunk", PutChunkPayload{
		UploadID: "u1", Filename: "f.bin", ChunkID: 1,
		Data: []byte("tampered"), Checksum: chunkstore.Checksum([]byte("original")),
	})

	var result UploadResult
	if typ := recv(t, conn, &result); typ != "upload_result" {
		t.Fatalf("frame type = %q, want upload_result", typ)
	}
	if result.Success {
		t.Error("tampered chunk should fail the session")
	}
	if result.ReceivedChunks != 1 {
		t.Errorf("received = %d, want 1", result.ReceivedChunks)
	}

	// The rejected write has no side effects on the store.
	if n := store.ChunkCount("u1"); n != 1 {
		t.Errorf("ChunkCount = %d, want 1", n)
	}
}

func TestGetChunks_StreamsRange(t *testing.T) {
	srv, store := testNodeServer(t)

	chunks := [][]byte{[]byte("aaa"), []byte("bbb"), []byte("ccc")}
	for i, data := range chunks {
		if err := store.WriteChunk("u1", "f.bin", i, data, chunkstore.Checksum(data)); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}

	conn := dialWS(t, srv)
	send(t, conn, "get_chunks", GetChunksPayload{UploadID: "u1", StartChunk: 0, EndChunk: 3})

	var got bytes.Buffer
	for i := range 3 {
		var chunk ChunkPayload
		if typ := recv(t, conn, &chunk); typ != "chunk" {
			t.Fatalf("frame %d type = %q, want chunk", i, typ)
		}
		if chunk.ChunkID != i {
			t.Errorf("chunk id = %d, want %d (arrival order)", chunk.ChunkID, i)
		}
		if chunkstore.Checksum(chunk.Data) != chunk.Checksum {
			t.Errorf("chunk %d checksum mismatch on the wire", i)
		}
		got.Write(chunk.Data)
	}
	var done ChunksDonePayload
	if typ := recv(t, conn, &done); typ != "chunks_done" {
		t.Fatalf("final frame type = %q, want chunks_done", typ)
	}
	if done.Count != 3 {
		t.Errorf("count = %d, want 3", done.Count)
	}
	if got.String() != "aaabbbccc" {
		t.Errorf("reassembled = %q", got.String())
	}
}

func TestGetChunks_OpenEndUsesKnownCount(t *testing.T) {
	srv, store := testNodeServer(t)

	for i := range 2 {
		data := []byte{byte('a' + i)}
		store.WriteChunk("u1", "f.bin", i, data, chunkstore.Checksum(data))
	}

	conn := dialWS(t, srv)
	send(t, conn, "get_chunks", GetChunksPayload{UploadID: "u1", StartChunk: 0, EndChunk: 0})

	frames := 0
	for {
		typ := recv(t, conn, nil)
		if typ == "chunks_done" {
			break
		}
		if typ != "chunk" {
			t.Fatalf("frame type = %q", typ)
		}
		frames++
	}
	if frames != 2 {
		t.Errorf("streamed %d chunks, want 2", frames)
	}
}

func TestGetChunks_MissingChunkFailsRetrieval(t *testing.T) {
	srv, store := testNodeServer(t)

	// Chunks 0 and 2 present, 1 missing: the node must not serve a silently
	// truncated stream.
	for _, i := range []int{0, 2} {
		data := []byte{byte('a' + i)}
		store.WriteChunk("u1", "f.bin", i, data, chunkstore.Checksum(data))
	}

	conn := dialWS(t, srv)
	send(t, conn, "get_chunks", GetChunksPayload{UploadID: "u1", StartChunk: 0, EndChunk: 3})

	// First frame is chunk 0, then the error.
	if typ := recv(t, conn, nil); typ != "chunk" {
		t.Fatalf("first frame = %q, want chunk", typ)
	}
	var e ErrorPayload
	if typ := recv(t, conn, &e); typ != "error" {
		t.Fatalf("second frame = %q, want error", typ)
	}
	if e.Code != CodeChunkNotFound {
		t.Errorf("code = %q, want %q", e.Code, CodeChunkNotFound)
	}
}

func TestClientDisconnect_MidUploadLeavesPartialManifest(t *testing.T) {
	srv, store := testNodeServer(t)
	conn := dialWS(t, srv)

	data := []byte("only chunk zero")
	send(t, conn, "put_chunk", PutChunkPayload{
		UploadID: "u1", Filename: "f.bin", ChunkID: 0,
		Data: data, Checksum: chunkstore.Checksum(data),
	})
	conn.Close()

	// Give the server loop a moment to observe the close.
	deadline := time.Now().Add(2 * time.Second)
	for store.ChunkCount("u1") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if n := store.ChunkCount("u1"); n != 1 {
		t.Errorf("ChunkCount = %d, want 1 (durable chunk kept)", n)
	}
}

func TestHeartbeater_RetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if calls.Add(1) == 1 {
			http.Error(w, "registry down", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	h := &Heartbeater{
		GatewayURL:    gw.URL,
		NodeID:        "n1",
		IP:            "127.0.0.1",
		Port:          7001,
		CapacityBytes: 1 << 20,
		StorageDir:    t.TempDir(),
		Interval:      20 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(400 * time.Millisecond)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	// First call failed; the loop survived and kept beating.
	if calls.Load() < 3 {
		t.Errorf("heartbeat calls = %d, want at least 3", calls.Load())
	}
}
