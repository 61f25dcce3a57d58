// Package registry tracks storage-node registrations and derives the live
// set used for new placements. Nodes that stop heartbeating are never
// removed; they simply stop being selectable.
package registry

import (
	"log"
	"time"

	"github.com/bluetap-cloud/bluetap/internal/storage"
	"github.com/google/uuid"
)

// DefaultLivenessWindow is the maximum heartbeat age for a node to count as
// live. Nodes beat every few seconds, so a healthy node lands well inside it.
const DefaultLivenessWindow = 15 * time.Second

// Registry is the liveness-aware view over the shared node table.
type Registry struct {
	db     *storage.DB
	window time.Duration
	now    func() time.Time
}

// New creates a Registry with the default liveness window.
func New(db *storage.DB) *Registry {
	return NewWithWindow(db, DefaultLivenessWindow)
}

// NewWithWindow creates a Registry with an explicit liveness window.
func NewWithWindow(db *storage.DB, window time.Duration) *Registry {
	return &Registry{db: db, window: window, now: time.Now}
}

// Window returns the configured liveness window.
func (r *Registry) Window() time.Duration {
	return r.window
}

// Register upserts a node and refreshes its heartbeat timestamp. Registration
// and heartbeat are the same idempotent call; the first sighting of a node_id
// is logged for observability but behaves identically.
func (r *Registry) Register(n storage.Node) (firstSeen bool, err error) {
	n.LastSeen = r.now().Unix()
	firstSeen, err = r.db.UpsertNode(&n)
	if err != nil {
		return false, err
	}
	if firstSeen {
		log.Printf("[registry] new node %s at %s:%d (capacity %d bytes)", n.ID, n.IP, n.Port, n.CapacityBytes)
	}
	return firstSeen, nil
}

// LiveNodes returns all nodes whose last heartbeat is younger than the
// liveness window. Only new placement decisions consult this set.
func (r *Registry) LiveNodes() ([]storage.Node, error) {
	cutoff := r.now().Add(-r.window).Unix()
	return r.db.ListNodesSeenSince(cutoff)
}

// AllNodes returns every node ever registered, with a derived live flag per
// node, for the registry snapshot endpoint.
func (r *Registry) AllNodes() ([]NodeStatus, error) {
	nodes, err := r.db.ListNodes()
	if err != nil {
		return nil, err
	}
	cutoff := r.now().Add(-r.window).Unix()
	statuses := make([]NodeStatus, len(nodes))
	for i, n := range nodes {
		statuses[i] = NodeStatus{Node: n, Live: n.LastSeen > cutoff}
	}
	return statuses, nil
}

// NodeStatus pairs a node record with its derived liveness.
type NodeStatus struct {
	storage.Node
	Live bool `json:"live"`
}

// ScheduleRepair records a re-replication request for an upload. This is a
// hook only: nothing in the core consumes the queue.
func (r *Registry) ScheduleRepair(uploadID, reason string) (string, error) {
	task := &storage.RepairTask{
		ID:        uuid.New().String(),
		UploadID:  uploadID,
		Reason:    reason,
		CreatedAt: r.now().Unix(),
	}
	if err := r.db.CreateRepairTask(task); err != nil {
		return "", err
	}
	log.Printf("[registry] repair task %s scheduled for upload %s", task.ID, uploadID)
	return task.ID, nil
}
