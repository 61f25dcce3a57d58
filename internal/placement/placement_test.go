package placement

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluetap-cloud/bluetap/internal/registry"
	"github.com/bluetap-cloud/bluetap/internal/storage"
)

func testPlanner(t *testing.T) (*Planner, *registry.Registry, *storage.DB) {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	reg := registry.New(db)
	return New(db, reg), reg, db
}

func registerNodes(t *testing.T, reg *registry.Registry, ids ...string) {
	t.Helper()
	for i, id := range ids {
		if _, err := reg.Register(storage.Node{ID: id, IP: "127.0.0.1", Port: 7000 + i}); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
}

func TestPlace_NoLiveNodes(t *testing.T) {
	p, _, _ := testPlanner(t)

	if _, _, err := p.Place("alice", "f.bin", 100, 10, 2); !errors.Is(err, ErrNoLiveNodes) {
		t.Fatalf("err = %v, want ErrNoLiveNodes", err)
	}
}

func TestPlace_SelectsDistinctLiveNodes(t *testing.T) {
	p, reg, _ := testPlanner(t)
	registerNodes(t, reg, "n1", "n2", "n3")

	record, nodes, err := p.Place("alice", "f.bin", 100, 10, 2)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if len(nodes) != 2 || len(record.NodeIDs) != 2 {
		t.Fatalf("selected %d nodes, want 2", len(nodes))
	}
	if record.NodeIDs[0] == record.NodeIDs[1] {
		t.Error("replica nodes must be distinct")
	}
	valid := map[string]bool{"n1": true, "n2": true, "n3": true}
	for _, id := range record.NodeIDs {
		if !valid[id] {
			t.Errorf("selected unknown node %q", id)
		}
	}
}

func TestPlace_ReplicationCappedByLiveSet(t *testing.T) {
	p, reg, _ := testPlanner(t)
	registerNodes(t, reg, "n1", "n2")

	record, _, err := p.Place("alice", "f.bin", 100, 10, 5)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if len(record.NodeIDs) != 2 {
		t.Errorf("selected %d nodes, want 2 (capped by live set)", len(record.NodeIDs))
	}
}

func TestPlace_NeverSelectsStaleNode(t *testing.T) {
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// A node whose heartbeat age exceeds the window must never be placed.
	stale := &storage.Node{ID: "stale", IP: "127.0.0.1", Port: 7001,
		LastSeen: time.Now().Add(-time.Minute).Unix()}
	if _, err := db.UpsertNode(stale); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	reg := registry.New(db)
	reg.Register(storage.Node{ID: "live", IP: "127.0.0.1", Port: 7002})
	p := New(db, reg)

	for range 20 {
		record, _, err := p.Place("alice", "f.bin", 100, 10, 2)
		if err != nil {
			t.Fatalf("Place: %v", err)
		}
		for _, id := range record.NodeIDs {
			if id == "stale" {
				t.Fatal("placement selected a stale node")
			}
		}
	}
}

func TestPlace_TotalChunksCeil(t *testing.T) {
	p, reg, _ := testPlanner(t)
	registerNodes(t, reg, "n1")

	cases := []struct {
		filesize, chunkSize int64
		want                int
	}{
		{100, 10, 10},
		{101, 10, 11},
		{9, 10, 1},
		{10, 10, 1},
	}
	for _, c := range cases {
		record, _, err := p.Place("alice", "f.bin", c.filesize, c.chunkSize, 1)
		if err != nil {
			t.Fatalf("Place(%d, %d): %v", c.filesize, c.chunkSize, err)
		}
		if record.TotalChunks != c.want {
			t.Errorf("total_chunks(%d, %d) = %d, want %d", c.filesize, c.chunkSize, record.TotalChunks, c.want)
		}
	}
}

func TestPlace_PersistsImmutableRecord(t *testing.T) {
	p, reg, db := testPlanner(t)
	registerNodes(t, reg, "n1", "n2")

	record, _, err := p.Place("alice", "f.bin", 55, 10, 2)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	got, err := db.GetFileByFilename("alice", "f.bin")
	if err != nil {
		t.Fatalf("GetFileByFilename: %v", err)
	}
	if got.UploadID != record.UploadID || got.TotalChunks != 6 {
		t.Errorf("stored record = %+v, want upload %s with 6 chunks", got, record.UploadID)
	}
}
