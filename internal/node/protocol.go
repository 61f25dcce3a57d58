package node

import "encoding/json"

// Message is the JSON frame format on the data-plane WebSocket. Chunk
// payloads ride as base64 inside the JSON body.
type Message struct {
	Type    string          `json:"type"` // "put_chunk", "put_done", "get_chunks"
	Payload json.RawMessage `json:"payload"`
}

// Response is a JSON frame sent back to the client.
type Response struct {
	Type    string `json:"type"` // "upload_result", "chunk", "chunks_done", "error"
	Payload any    `json:"payload"`
}

// PutChunkPayload carries one chunk of an upload.
type PutChunkPayload struct {
	UploadID string `json:"upload_id"`
	Filename string `json:"filename"`
	ChunkID  int    `json:"chunk_id"`
	Data     []byte `json:"data"`
	Checksum string `json:"checksum"`
}

// PutDonePayload ends an upload stream and asks for the session result.
type PutDonePayload struct {
	UploadID string `json:"upload_id"`
}

// GetChunksPayload requests the chunk range [StartChunk, EndChunk). An
// EndChunk of zero or below means "through the node's known chunk count".
type GetChunksPayload struct {
	UploadID   string `json:"upload_id"`
	StartChunk int    `json:"start_chunk"`
	EndChunk   int    `json:"end_chunk"`
}

// UploadResult closes an upload session. Complete reports whether this
// node's manifest now covers every chunk of the upload.
type UploadResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ReceivedChunks int    `json:"received_chunks"`
	Complete       bool   `json:"complete"`
}

// ChunkPayload carries one chunk of a retrieval stream.
type ChunkPayload struct {
	ChunkID  int    `json:"chunk_id"`
	Data     []byte `json:"data"`
	Checksum string `json:"checksum"`
}

// ChunksDonePayload terminates a retrieval stream.
type ChunksDonePayload struct {
	Count int `json:"count"`
}

// ErrorPayload is a machine-readable failure frame.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes used on the data plane.
const (
	CodeChecksumMismatch = "checksum_mismatch"
	CodeChunkNotFound    = "chunk_not_found"
	CodeBadPayload       = "bad_payload"
	CodeRateLimited      = "rate_limited"
)
