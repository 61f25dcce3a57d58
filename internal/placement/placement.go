// Package placement selects replica nodes for new uploads from the live set
// and persists the resulting immutable file record. Placement is the only
// point at which replica membership is decided; it is never revisited.
package placement

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/bluetap-cloud/bluetap/internal/registry"
	"github.com/bluetap-cloud/bluetap/internal/storage"
	"github.com/google/uuid"
)

// ErrNoLiveNodes is returned when the live set is empty at placement time.
var ErrNoLiveNodes = errors.New("no live storage nodes available")

// Planner computes placements against the registry's live set.
type Planner struct {
	db  *storage.DB
	reg *registry.Registry
	now func() time.Time
}

// New creates a Planner.
func New(db *storage.DB, reg *registry.Registry) *Planner {
	return &Planner{db: db, reg: reg, now: time.Now}
}

// Place assigns min(replication, live) distinct nodes uniformly at random,
// mints an upload ID, and persists the FileRecord with the node IDs in
// selection order. Capacity is recorded on nodes but deliberately not used
// as a selection weight.
func (p *Planner) Place(owner, filename string, filesize, chunkSize int64, replication int) (*storage.FileRecord, []storage.Node, error) {
	if replication < 1 {
		replication = 1
	}

	live, err := p.reg.LiveNodes()
	if err != nil {
		return nil, nil, err
	}
	if len(live) == 0 {
		return nil, nil, ErrNoLiveNodes
	}

	rand.Shuffle(len(live), func(i, j int) {
		live[i], live[j] = live[j], live[i]
	})
	if replication < len(live) {
		live = live[:replication]
	}

	totalChunks := int((filesize + chunkSize - 1) / chunkSize)
	nodeIDs := make([]string, len(live))
	for i, n := range live {
		nodeIDs[i] = n.ID
	}

	record := &storage.FileRecord{
		UploadID:    uuid.New().String(),
		Filename:    filename,
		Owner:       owner,
		Filesize:    filesize,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		NodeIDs:     nodeIDs,
		CreatedAt:   p.now().Unix(),
	}
	if err := p.db.CreateFileRecord(record); err != nil {
		return nil, nil, err
	}
	return record, live, nil
}
