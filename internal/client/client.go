// Package client implements the client-side orchestration: gateway API
// calls, fan-out chunk upload to every assigned replica, and ordered
// failover download.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bluetap-cloud/bluetap/internal/storage"
)

// ErrFileNotFound is returned by GetMeta when no file record exists.
var ErrFileNotFound = errors.New("file not found")

// SessionTokenHeader carries the session token on gateway requests.
const SessionTokenHeader = "X-Session-Token"

// APIError is a machine-readable failure from the gateway.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d (%s): %s", e.Status, e.Code, e.Message)
}

// NodeAddress identifies one assigned replica.
type NodeAddress struct {
	NodeID string `json:"node_id"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
}

// Addr returns the host:port dial string for the node's data plane.
func (n NodeAddress) Addr() string {
	return fmt.Sprintf("%s:%d", n.IP, n.Port)
}

// PutMetaResult is the placement decision for a new upload.
type PutMetaResult struct {
	UploadID    string        `json:"upload_id"`
	TotalChunks int           `json:"total_chunks"`
	ChunkSize   int64         `json:"chunk_size"`
	Nodes       []NodeAddress `json:"nodes"`
}

// FileMeta is the retrieval view of a file record.
type FileMeta struct {
	UploadID    string        `json:"upload_id"`
	Filename    string        `json:"filename"`
	Filesize    int64         `json:"filesize"`
	ChunkSize   int64         `json:"chunk_size"`
	TotalChunks int           `json:"total_chunks"`
	Nodes       []NodeAddress `json:"nodes"`
}

// Client talks to the gateway control plane and to storage-node data planes.
type Client struct {
	GatewayURL string
	Token      string
	HTTPClient *http.Client
}

// New creates a Client for the given gateway base URL.
func New(gatewayURL string) *Client {
	return &Client{
		GatewayURL: gatewayURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RequestAccessCode asks the gateway to issue a one-time login code.
// Returns the contact the code was dispatched to.
func (c *Client) RequestAccessCode(username, contact string) (string, error) {
	var out struct {
		Contact string `json:"contact"`
	}
	err := c.post("/api/auth/code", map[string]string{
		"username": username,
		"contact":  contact,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Contact, nil
}

// VerifyAccessCode exchanges a one-time code for a session token and stores
// it on the client for subsequent calls.
func (c *Client) VerifyAccessCode(username, code string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.post("/api/auth/verify", map[string]string{
		"username": username,
		"code":     code,
	}, &out)
	if err != nil {
		return "", err
	}
	c.Token = out.Token
	return out.Token, nil
}

// ValidateSession checks the client's current token.
func (c *Client) ValidateSession() (string, bool, error) {
	var out struct {
		Valid    bool   `json:"valid"`
		Username string `json:"username"`
	}
	if err := c.get("/api/auth/session", &out); err != nil {
		return "", false, err
	}
	return out.Username, out.Valid, nil
}

// PutMeta requests placement for a new upload.
func (c *Client) PutMeta(filename string, filesize, chunkSize int64, replication int) (*PutMetaResult, error) {
	var out PutMetaResult
	err := c.post("/api/files/meta", map[string]any{
		"filename":    filename,
		"filesize":    filesize,
		"chunk_size":  chunkSize,
		"replication": replication,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMeta looks up the file record for a filename owned by the session user.
func (c *Client) GetMeta(filename string) (*FileMeta, error) {
	var out FileMeta
	err := c.get("/api/files/"+filename+"/meta", &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", filename, ErrFileNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFiles returns the session user's file summaries.
func (c *Client) ListFiles() ([]storage.FileSummary, error) {
	var out []storage.FileSummary
	if err := c.get("/api/files", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.GatewayURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.GatewayURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.Token != "" {
		req.Header.Set(SessionTokenHeader, c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(data)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
