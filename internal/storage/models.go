// internal/storage/models.go
package storage

// User is an account known to the gateway. Users are created on the first
// access-code request that supplies a contact and are never deleted.
type User struct {
	Username  string `json:"username"`
	Contact   string `json:"contact"`
	CreatedAt int64  `json:"created_at"`
}

// AccessCode is a single-use one-time login code. At most one code is active
// per user; requesting a new code overwrites the previous one.
type AccessCode struct {
	Username  string `json:"username"`
	Code      string `json:"-"`
	ExpiresAt int64  `json:"expires_at"`
}

// Session is a persisted session token. Validation is a pure lookup plus
// expiry check; expired rows are removed by the gateway sweep worker.
type Session struct {
	Token     string `json:"-"`
	Username  string `json:"username"`
	ExpiresAt int64  `json:"expires_at"`
}

// Node is a storage node as last reported by its registration/heartbeat
// calls. Liveness is derived from LastSeen, never stored.
type Node struct {
	ID            string `json:"node_id"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	CapacityBytes int64  `json:"capacity_bytes"`
	Metadata      string `json:"metadata,omitempty"`
	LastSeen      int64  `json:"last_seen"`
}

// FileRecord describes one replicated upload. Records are immutable after
// placement: the replica list is fixed even if members later go stale.
type FileRecord struct {
	UploadID    string   `json:"upload_id"`
	Filename    string   `json:"filename"`
	Owner       string   `json:"owner"`
	Filesize    int64    `json:"filesize"`
	ChunkSize   int64    `json:"chunk_size"`
	TotalChunks int      `json:"total_chunks"`
	NodeIDs     []string `json:"node_ids"`
	CreatedAt   int64    `json:"created_at"`
}

// FileSummary is the listing view of a FileRecord.
type FileSummary struct {
	Filename  string `json:"filename"`
	UploadID  string `json:"upload_id"`
	Filesize  int64  `json:"filesize"`
	CreatedAt int64  `json:"created_at"`
}

// RepairTask is a queued re-replication request. The registry exposes the
// hook; no scheduler consumes these yet.
type RepairTask struct {
	ID        string `json:"id"`
	UploadID  string `json:"upload_id"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt int64  `json:"created_at"`
}
