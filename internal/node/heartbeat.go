package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultHeartbeatInterval keeps at least two beats inside the gateway's
// default 15s liveness window.
const DefaultHeartbeatInterval = 5 * time.Second

// Heartbeater periodically re-registers this node with the gateway.
// Registration and heartbeat are the same idempotent call.
type Heartbeater struct {
	GatewayURL    string
	NodeID        string
	IP            string
	Port          int
	CapacityBytes int64
	StorageDir    string
	Interval      time.Duration

	HTTPClient *http.Client
	started    time.Time
}

// Run beats until ctx is cancelled. Failures to reach the gateway are logged
// and retried on the next tick; a registry outage must never crash or stall
// the node.
func (h *Heartbeater) Run(ctx context.Context) {
	if h.Interval <= 0 {
		h.Interval = DefaultHeartbeatInterval
	}
	if h.HTTPClient == nil {
		h.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	h.started = time.Now()

	// Register immediately so the node is placeable before the first tick.
	if err := h.beat(ctx); err != nil {
		log.Printf("[heartbeat] register: %v (will retry)", err)
	}

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.beat(ctx); err != nil {
				log.Printf("[heartbeat] %v (will retry)", err)
			}
		}
	}
}

// RegisterOnce sends a single registration call without starting the loop.
func (h *Heartbeater) RegisterOnce() error {
	if h.HTTPClient == nil {
		h.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if h.started.IsZero() {
		h.started = time.Now()
	}
	return h.beat(context.Background())
}

// beat sends one RegisterNode call.
func (h *Heartbeater) beat(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"node_id":        h.NodeID,
		"ip":             h.IP,
		"port":           h.Port,
		"capacity_bytes": h.CapacityBytes,
		"metadata":       h.metadata(),
	})
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.GatewayURL+"/api/nodes/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat rejected: status %d", resp.StatusCode)
	}
	return nil
}

// metadata samples local resource state for the registry. The gateway stores
// it opaquely; the admin dashboard is its only consumer.
func (h *Heartbeater) metadata() string {
	m := map[string]any{
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if usage, err := disk.Usage(h.StorageDir); err == nil {
		m["disk_free_bytes"] = usage.Free
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}
