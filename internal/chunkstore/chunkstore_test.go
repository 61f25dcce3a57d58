package chunkstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "chunks"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteChunk_RoundTrip(t *testing.T) {
	s := testStore(t)
	data := []byte("hello chunk")

	if err := s.WriteChunk("u1", "f.bin", 0, data, Checksum(data)); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	got, err := s.ReadChunk("u1", 0)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read %q, want %q", got, data)
	}
}

func TestWriteChunk_ChecksumMismatchNoSideEffect(t *testing.T) {
	s := testStore(t)

	// A valid write first, so we can verify the rejected write leaves the
	// existing state untouched.
	good := []byte("good")
	if err := s.WriteChunk("u1", "f.bin", 0, good, Checksum(good)); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	// Payload tampered after checksum computation.
	tampered := []byte("tampered")
	err := s.WriteChunk("u1", "f.bin", 1, tampered, Checksum([]byte("original")))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}

	// No chunk file was created for the rejected write.
	if _, err := s.ReadChunk("u1", 1); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("rejected chunk readable: %v", err)
	}
	// Manifest unaffected: still only chunk 0.
	if n := s.ChunkCount("u1"); n != 1 {
		t.Errorf("ChunkCount = %d, want 1", n)
	}
	if !s.IsComplete("u1") {
		t.Error("upload with only chunk 0 received should still be complete for total 1")
	}
}

func TestWriteChunk_RejectedWriteOnUnknownUpload(t *testing.T) {
	s := testStore(t)

	err := s.WriteChunk("u1", "f.bin", 0, []byte("data"), "deadbeef")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
	if n := s.ChunkCount("u1"); n != 0 {
		t.Errorf("ChunkCount after rejected write = %d, want 0", n)
	}
	if s.IsComplete("u1") {
		t.Error("IsComplete should be false with no manifest")
	}
}

func TestManifest_GrowsOnOutOfOrderArrival(t *testing.T) {
	s := testStore(t)

	// Chunk 4 arrives before anything else: extent must grow to 5.
	data := []byte("later chunk")
	if err := s.WriteChunk("u1", "f.bin", 4, data, Checksum(data)); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if n := s.ChunkCount("u1"); n != 5 {
		t.Errorf("ChunkCount = %d, want 5", n)
	}
	if s.IsComplete("u1") {
		t.Error("upload missing chunks 0-3 must not be complete")
	}

	for i := range 4 {
		c := []byte(fmt.Sprintf("chunk %d", i))
		if err := s.WriteChunk("u1", "f.bin", i, c, Checksum(c)); err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
	}
	if !s.IsComplete("u1") {
		t.Error("all chunks written, upload should be complete")
	}
}

func TestWriteChunk_Idempotent(t *testing.T) {
	s := testStore(t)
	data := []byte("same bytes")

	for range 3 {
		if err := s.WriteChunk("u1", "f.bin", 0, data, Checksum(data)); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}
	if n := s.ChunkCount("u1"); n != 1 {
		t.Errorf("ChunkCount = %d, want 1", n)
	}
	got, err := s.ReadChunk("u1", 0)
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("ReadChunk = %q, %v", got, err)
	}
}

func TestChunkFile_ZeroPaddedFinalName(t *testing.T) {
	s := testStore(t)
	data := []byte("x")

	if err := s.WriteChunk("u1", "f.bin", 7, data, Checksum(data)); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	path := filepath.Join(s.root, "u1.chunks", "00000007.chunk")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected chunk at %s: %v", path, err)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Join(s.root, "u1.chunks"))
	for _, e := range entries {
		if e.Name() != "00000007.chunk" {
			t.Errorf("leftover file %s in chunk dir", e.Name())
		}
	}
}

func TestCorruptManifest_TreatedAsIncomplete(t *testing.T) {
	s := testStore(t)
	data := []byte("payload")

	if err := s.WriteChunk("u1", "f.bin", 0, data, Checksum(data)); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	// Damage the manifest on disk.
	if err := os.WriteFile(s.manifestPath("u1"), []byte("{not json"), 0600); err != nil {
		t.Fatalf("corrupt manifest: %v", err)
	}

	if n := s.ChunkCount("u1"); n != 0 {
		t.Errorf("ChunkCount with corrupt manifest = %d, want 0", n)
	}
	if s.IsComplete("u1") {
		t.Error("corrupt manifest must read as incomplete")
	}

	// The store keeps working: a new write rebuilds the manifest.
	if err := s.WriteChunk("u1", "f.bin", 0, data, Checksum(data)); err != nil {
		t.Fatalf("WriteChunk after corruption: %v", err)
	}
	if !s.IsComplete("u1") {
		t.Error("rewritten chunk 0 should complete the rebuilt manifest")
	}
}

func TestReadChunk_Missing(t *testing.T) {
	s := testStore(t)
	if _, err := s.ReadChunk("nope", 0); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("err = %v, want ErrChunkNotFound", err)
	}
}

func TestWriteChunk_ConcurrentSameUpload(t *testing.T) {
	s := testStore(t)
	const total = 32

	var wg sync.WaitGroup
	errs := make(chan error, total)
	for i := range total {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			data := []byte(fmt.Sprintf("chunk payload %04d", id))
			errs <- s.WriteChunk("u1", "f.bin", id, data, Checksum(data))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent WriteChunk: %v", err)
		}
	}

	if n := s.ChunkCount("u1"); n != total {
		t.Errorf("ChunkCount = %d, want %d", n, total)
	}
	if !s.IsComplete("u1") {
		t.Error("all chunks written concurrently, upload should be complete")
	}
	for i := range total {
		want := []byte(fmt.Sprintf("chunk payload %04d", i))
		got, err := s.ReadChunk("u1", i)
		if err != nil || !bytes.Equal(got, want) {
			t.Fatalf("chunk %d = %q, %v", i, got, err)
		}
	}
}

func TestWriteChunk_IndependentUploads(t *testing.T) {
	s := testStore(t)

	a := []byte("upload a")
	b := []byte("upload b")
	if err := s.WriteChunk("ua", "a.bin", 0, a, Checksum(a)); err != nil {
		t.Fatalf("WriteChunk ua: %v", err)
	}
	if err := s.WriteChunk("ub", "b.bin", 0, b, Checksum(b)); err != nil {
		t.Fatalf("WriteChunk ub: %v", err)
	}
	if !s.IsComplete("ua") || !s.IsComplete("ub") {
		t.Error("each single-chunk upload should be complete independently")
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)
	data := []byte("0123456789")

	s.WriteChunk("ua", "a.bin", 0, data, Checksum(data))
	s.WriteChunk("ua", "a.bin", 1, data, Checksum(data))
	s.WriteChunk("ub", "b.bin", 0, data, Checksum(data))

	st := s.Stats()
	if st.Uploads != 2 {
		t.Errorf("Uploads = %d, want 2", st.Uploads)
	}
	if st.ChunksTotal != 3 {
		t.Errorf("ChunksTotal = %d, want 3", st.ChunksTotal)
	}
	if st.BytesUsed != 30 {
		t.Errorf("BytesUsed = %d, want 30", st.BytesUsed)
	}
}
