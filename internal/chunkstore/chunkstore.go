// Package chunkstore is the per-node chunk persistence engine: checksummed,
// crash-safe chunk files plus a completion manifest per upload.
//
// Layout under the store root:
//
//	<upload_id>.manifest
//	<upload_id>.chunks/
//	    00000000.chunk
//	    00000001.chunk
package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Sentinel errors for callers that need to branch on the failure kind.
var (
	ErrChecksumMismatch = errors.New("chunk checksum mismatch")
	ErrChunkNotFound    = errors.New("chunk not found")
)

// Checksum returns the hex-encoded SHA-256 digest of data. It is the single
// checksum function shared by writers and readers on both ends of the wire.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Manifest records which chunk indices of an upload this node has durably
// received. TotalChunks grows as higher indices arrive; a node may see
// chunks before any explicit total is known.
type Manifest struct {
	UploadID    string   `json:"upload_id"`
	Filename    string   `json:"filename"`
	TotalChunks int      `json:"total_chunks"`
	Received    []bool   `json:"received"`
	Checksums   []string `json:"checksums"`
}

// complete reports whether every chunk in [0, TotalChunks) is received.
func (m *Manifest) complete() bool {
	if m.TotalChunks == 0 || len(m.Received) < m.TotalChunks {
		return false
	}
	for _, r := range m.Received[:m.TotalChunks] {
		if !r {
			return false
		}
	}
	return true
}

// grow extends the bitmap and checksum arrays to cover chunk index id.
func (m *Manifest) grow(id int) {
	if id < m.TotalChunks {
		return
	}
	m.TotalChunks = id + 1
	for len(m.Received) < m.TotalChunks {
		m.Received = append(m.Received, false)
	}
	for len(m.Checksums) < m.TotalChunks {
		m.Checksums = append(m.Checksums, "")
	}
}

// Store persists chunks under a root directory. Writes for different uploads
// share no state; manifest updates for one upload are serialized by a
// per-upload mutex, never a store-wide lock.
type Store struct {
	root string

	mu      sync.Mutex
	uploads map[string]*sync.Mutex
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: dir, uploads: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) manifestPath(uploadID string) string {
	return filepath.Join(s.root, uploadID+".manifest")
}

func (s *Store) chunksDir(uploadID string) string {
	return filepath.Join(s.root, uploadID+".chunks")
}

func (s *Store) chunkPath(uploadID string, chunkID int) string {
	return filepath.Join(s.chunksDir(uploadID), fmt.Sprintf("%08d.chunk", chunkID))
}

// uploadLock returns the mutex owning manifest updates for uploadID.
func (s *Store) uploadLock(uploadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.uploads[uploadID]
	if !ok {
		mu = &sync.Mutex{}
		s.uploads[uploadID] = mu
	}
	return mu
}

// WriteChunk durably persists one chunk. The declared checksum is recomputed
// first; on mismatch nothing is written and the manifest is untouched. The
// payload reaches its final zero-padded name only through a temp-file write,
// fsync, and atomic rename, and the manifest is updated strictly afterwards,
// so the manifest can never claim a chunk whose payload is missing. Writing
// the same chunk twice is idempotent.
func (s *Store) WriteChunk(uploadID, filename string, chunkID int, data []byte, checksum string) error {
	if chunkID < 0 {
		return fmt.Errorf("chunk id %d out of range", chunkID)
	}
	if Checksum(data) != checksum {
		return fmt.Errorf("chunk %d: %w", chunkID, ErrChecksumMismatch)
	}

	dir := s.chunksDir(uploadID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}
	if err := atomicWrite(dir, s.chunkPath(uploadID, chunkID), data); err != nil {
		return fmt.Errorf("write chunk %d: %w", chunkID, err)
	}

	mu := s.uploadLock(uploadID)
	mu.Lock()
	defer mu.Unlock()

	m := s.loadManifest(uploadID)
	if m.UploadID == "" {
		m.UploadID = uploadID
		m.Filename = filename
	}
	m.grow(chunkID)
	m.Received[chunkID] = true
	m.Checksums[chunkID] = checksum

	encoded, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := atomicWrite(s.root, s.manifestPath(uploadID), encoded); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadChunk returns the payload of one chunk, or ErrChunkNotFound if the
// chunk file does not exist on this node.
func (s *Store) ReadChunk(uploadID string, chunkID int) ([]byte, error) {
	data, err := os.ReadFile(s.chunkPath(uploadID, chunkID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chunk %s:%d: %w", uploadID, chunkID, ErrChunkNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", chunkID, err)
	}
	return data, nil
}

// ChunkCount returns the manifest's total chunk count, or 0 if this node has
// no (readable) manifest for the upload.
func (s *Store) ChunkCount(uploadID string) int {
	return s.loadManifest(uploadID).TotalChunks
}

// IsComplete reports whether every chunk in [0, total) has been durably
// received on this node.
func (s *Store) IsComplete(uploadID string) bool {
	m := s.loadManifest(uploadID)
	return m.complete()
}

// loadManifest reads the manifest for uploadID. A missing manifest yields an
// empty one (lazy creation); a corrupt manifest is logged and treated as
// empty — damage to one upload's manifest must never take the node down.
func (s *Store) loadManifest(uploadID string) Manifest {
	var m Manifest
	data, err := os.ReadFile(s.manifestPath(uploadID))
	if err != nil {
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		log.Printf("[chunkstore] manifest for %s unparseable, treating as incomplete: %v", uploadID, err)
		return Manifest{}
	}
	return m
}

// Stats summarizes what the store holds, for the node stats endpoint.
type Stats struct {
	Uploads     int   `json:"uploads"`
	ChunksTotal int   `json:"chunks_total"`
	BytesUsed   int64 `json:"bytes_used"`
}

// Stats walks the store root and counts uploads, chunk files, and bytes.
func (s *Store) Stats() Stats {
	var st Stats
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return st
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st.Uploads++
		chunks, err := os.ReadDir(filepath.Join(s.root, e.Name()))
		if err != nil {
			continue
		}
		for _, c := range chunks {
			info, err := c.Info()
			if err != nil {
				continue
			}
			st.ChunksTotal++
			st.BytesUsed += info.Size()
		}
	}
	return st
}

// atomicWrite writes data to a unique temp file in dir, syncs it, and renames
// it over the final path. A crash mid-write never leaves a partial file
// visible under the final name.
func atomicWrite(dir, final string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".write-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, final)
}
