package client

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bluetap-cloud/bluetap/internal/node"
)

// ProgressFunc is a best-effort progress callback: node ID, chunks sent so
// far on that node's stream, and the total chunk count. Failures inside the
// callback never abort the transfer.
type ProgressFunc func(nodeID string, sent, total int)

// NodeResult is the outcome of one replica stream.
type NodeResult struct {
	NodeID string
	Addr   string
	Err    error
}

// UploadReport aggregates a fan-out upload. The transfer counts as
// successful when at least one replica acknowledged every chunk — the
// documented best-effort durability contract.
type UploadReport struct {
	UploadID    string
	TotalChunks int
	Results     []NodeResult
}

// Succeeded returns the node IDs that fully acknowledged the upload.
func (r *UploadReport) Succeeded() []string {
	var ok []string
	for _, res := range r.Results {
		if res.Err == nil {
			ok = append(ok, res.NodeID)
		}
	}
	return ok
}

// FanoutError reports an upload where no replica completed.
type FanoutError struct {
	UploadID string
	Results  []NodeResult
}

func (e *FanoutError) Error() string {
	parts := make([]string, len(e.Results))
	for i, r := range e.Results {
		parts[i] = fmt.Sprintf("%s: %v", r.NodeID, r.Err)
	}
	return fmt.Sprintf("upload %s failed on all %d nodes: %s", e.UploadID, len(e.Results), strings.Join(parts, "; "))
}

// Upload places and streams a file to every assigned replica in parallel.
// Each replica gets an independent stream; a failure on one never cancels
// the others.
func (c *Client) Upload(path string, chunkSize int64, replication int, progress ProgressFunc) (*UploadReport, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}

	meta, err := c.PutMeta(filepath.Base(path), info.Size(), chunkSize, replication)
	if err != nil {
		return nil, err
	}

	results := make([]NodeResult, len(meta.Nodes))
	var wg sync.WaitGroup
	for i, n := range meta.Nodes {
		wg.Add(1)
		go func(i int, n NodeAddress) {
			defer wg.Done()
			err := c.uploadToNode(n, meta, path, chunkSize, progress)
			results[i] = NodeResult{NodeID: n.NodeID, Addr: n.Addr(), Err: err}
		}(i, n)
	}
	wg.Wait()

	report := &UploadReport{
		UploadID:    meta.UploadID,
		TotalChunks: meta.TotalChunks,
		Results:     results,
	}
	if len(report.Succeeded()) == 0 {
		return report, &FanoutError{UploadID: meta.UploadID, Results: results}
	}
	return report, nil
}

// uploadToNode streams every chunk of path to one replica and requires a
// complete acknowledgement.
func (c *Client) uploadToNode(n NodeAddress, meta *PutMetaResult, path string, chunkSize int64, progress ProgressFunc) error {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+n.Addr()+"/ws", nil)
	if err != nil {
		return fmt.Errorf("dial node %s: %w", n.NodeID, err)
	}
	defer conn.Close()

	chunker, err := OpenChunker(path, chunkSize)
	if err != nil {
		return err
	}
	defer chunker.Close()

	filename := filepath.Base(path)
	sent := 0
	for {
		chunk, err := chunker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		payload := node.PutChunkPayload{
			UploadID: meta.UploadID,
			Filename: filename,
			ChunkID:  chunk.ID,
			Data:     chunk.Data,
			Checksum: chunk.Checksum,
		}
		if err := writeFrame(conn, "put_chunk", payload); err != nil {
			return fmt.Errorf("send chunk %d to %s: %w", chunk.ID, n.NodeID, err)
		}
		sent++
		safeProgress(progress, n.NodeID, sent, meta.TotalChunks)
	}

	if err := writeFrame(conn, "put_done", node.PutDonePayload{UploadID: meta.UploadID}); err != nil {
		return fmt.Errorf("finish stream to %s: %w", n.NodeID, err)
	}

	result, err := readUploadResult(conn)
	if err != nil {
		return fmt.Errorf("read result from %s: %w", n.NodeID, err)
	}
	if !result.Success {
		return fmt.Errorf("node %s rejected upload: %s", n.NodeID, result.Message)
	}
	if !result.Complete {
		return fmt.Errorf("node %s acknowledged only %d of %d chunks", n.NodeID, result.ReceivedChunks, meta.TotalChunks)
	}
	return nil
}

// safeProgress invokes the callback, swallowing panics so a broken progress
// reporter cannot abort the transfer.
func safeProgress(progress ProgressFunc, nodeID string, sent, total int) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[upload] progress callback panic: %v", r)
		}
	}()
	progress(nodeID, sent, total)
}

func writeFrame(conn *websocket.Conn, msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(node.Message{Type: msgType, Payload: raw})
}

// readUploadResult consumes frames until the upload_result (or an error
// frame) arrives.
func readUploadResult(conn *websocket.Conn) (*node.UploadResult, error) {
	for {
		var frame struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return nil, err
		}
		switch frame.Type {
		case "upload_result":
			var result node.UploadResult
			if err := json.Unmarshal(frame.Payload, &result); err != nil {
				return nil, fmt.Errorf("decode upload result: %w", err)
			}
			return &result, nil
		case "error":
			var e node.ErrorPayload
			_ = json.Unmarshal(frame.Payload, &e)
			return nil, fmt.Errorf("node error: %s", e.Error)
		}
	}
}
