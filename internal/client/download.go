package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/bluetap-cloud/bluetap/internal/chunkstore"
	"github.com/bluetap-cloud/bluetap/internal/node"
)

// FailoverError reports a download where every candidate replica failed.
type FailoverError struct {
	Filename string
	Results  []NodeResult
}

func (e *FailoverError) Error() string {
	parts := make([]string, len(e.Results))
	for i, r := range e.Results {
		parts[i] = fmt.Sprintf("%s: %v", r.NodeID, r.Err)
	}
	return fmt.Sprintf("download %s failed on all %d nodes: %s", e.Filename, len(e.Results), strings.Join(parts, "; "))
}

// Download fetches a stored file to outPath. Replicas are tried one at a
// time in the order the gateway recorded them; the first one that serves a
// verified full stream wins. The output file only appears once a complete
// copy has been written and fsynced.
func (c *Client) Download(filename, outPath string) error {
	meta, err := c.GetMeta(filename)
	if err != nil {
		return err
	}

	var attempts []NodeResult
	for _, n := range meta.Nodes {
		err := c.downloadFromNode(n, meta, outPath)
		if err == nil {
			return nil
		}
		attempts = append(attempts, NodeResult{NodeID: n.NodeID, Addr: n.Addr(), Err: err})
	}
	return &FailoverError{Filename: filename, Results: attempts}
}

// downloadFromNode streams the whole upload from one replica into a scratch
// file next to outPath and promotes it with a rename on success. A failed or
// truncated attempt leaves no partial output behind.
func (c *Client) downloadFromNode(n NodeAddress, meta *FileMeta, outPath string) (err error) {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+n.Addr()+"/ws", nil)
	if err != nil {
		return fmt.Errorf("dial node %s: %w", n.NodeID, err)
	}
	defer conn.Close()

	scratch, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+".partial-*")
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	scratchName := scratch.Name()
	defer func() {
		if err != nil {
			scratch.Close()
			os.Remove(scratchName)
		}
	}()

	if err := writeFrame(conn, "get_chunks", node.GetChunksPayload{
		UploadID:   meta.UploadID,
		StartChunk: 0,
		EndChunk:   meta.TotalChunks,
	}); err != nil {
		return fmt.Errorf("request chunks from %s: %w", n.NodeID, err)
	}

	next := 0
	for {
		var frame struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read stream from %s: %w", n.NodeID, err)
		}

		switch frame.Type {
		case "chunk":
			var chunk node.ChunkPayload
			if err := json.Unmarshal(frame.Payload, &chunk); err != nil {
				return fmt.Errorf("decode chunk frame: %w", err)
			}
			if chunk.ChunkID != next {
				return fmt.Errorf("node %s sent chunk %d, expected %d", n.NodeID, chunk.ChunkID, next)
			}
			if chunkstore.Checksum(chunk.Data) != chunk.Checksum {
				return fmt.Errorf("chunk %d from %s failed checksum verification", chunk.ChunkID, n.NodeID)
			}
			if _, err := scratch.Write(chunk.Data); err != nil {
				return fmt.Errorf("write chunk %d: %w", chunk.ChunkID, err)
			}
			next++

		case "chunks_done":
			if next != meta.TotalChunks {
				return fmt.Errorf("node %s served %d of %d chunks", n.NodeID, next, meta.TotalChunks)
			}
			if err := scratch.Sync(); err != nil {
				return fmt.Errorf("sync output: %w", err)
			}
			if err := scratch.Close(); err != nil {
				return fmt.Errorf("close output: %w", err)
			}
			if err := os.Rename(scratchName, outPath); err != nil {
				return fmt.Errorf("promote output: %w", err)
			}
			return nil

		case "error":
			var e node.ErrorPayload
			_ = json.Unmarshal(frame.Payload, &e)
			return fmt.Errorf("node %s: %s (%s)", n.NodeID, e.Error, e.Code)

		default:
			return fmt.Errorf("unexpected frame %q from %s", frame.Type, n.NodeID)
		}
	}
}
