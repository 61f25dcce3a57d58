package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DB wraps a sql.DB connection to the gateway's SQLite database. Identity,
// registry, and file metadata all live in this one embedded store.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
    username TEXT PRIMARY KEY,
    contact TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS access_codes (
    username TEXT PRIMARY KEY,
    code TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    token TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
    node_id TEXT PRIMARY KEY,
    ip TEXT NOT NULL,
    port INTEGER NOT NULL,
    capacity_bytes INTEGER NOT NULL,
    metadata TEXT,
    last_seen INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
    upload_id TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    owner TEXT NOT NULL,
    filesize INTEGER NOT NULL,
    chunk_size INTEGER NOT NULL,
    total_chunks INTEGER NOT NULL,
    node_ids TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS repair_tasks (
    id TEXT PRIMARY KEY,
    upload_id TEXT NOT NULL,
    reason TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);
CREATE INDEX IF NOT EXISTS idx_files_filename ON files(filename);
CREATE INDEX IF NOT EXISTS idx_files_owner ON files(owner);`
	_, err := d.db.Exec(schema)
	return err
}

// --- Users ---

// CreateUser inserts a new user record.
func (d *DB) CreateUser(u *User) error {
	_, err := d.db.Exec(
		`INSERT INTO users (username, contact, created_at) VALUES (?, ?, ?)`,
		u.Username, u.Contact, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by username. Returns ErrNotFound if absent.
func (d *DB) GetUser(username string) (*User, error) {
	u := &User{}
	err := d.db.QueryRow(
		`SELECT username, contact, created_at FROM users WHERE username = ?`, username,
	).Scan(&u.Username, &u.Contact, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// --- Access codes ---

// SaveAccessCode stores a code for a user, replacing any prior code.
func (d *DB) SaveAccessCode(c *AccessCode) error {
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO access_codes (username, code, expires_at) VALUES (?, ?, ?)`,
		c.Username, c.Code, c.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save access code: %w", err)
	}
	return nil
}

// GetAccessCode retrieves the active code for a user. Returns ErrNotFound if
// no code is on file.
func (d *DB) GetAccessCode(username string) (*AccessCode, error) {
	c := &AccessCode{}
	err := d.db.QueryRow(
		`SELECT username, code, expires_at FROM access_codes WHERE username = ?`, username,
	).Scan(&c.Username, &c.Code, &c.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get access code: %w", err)
	}
	return c, nil
}

// DeleteAccessCode removes the code for a user. Deleting a missing code is
// not an error.
func (d *DB) DeleteAccessCode(username string) error {
	if _, err := d.db.Exec(`DELETE FROM access_codes WHERE username = ?`, username); err != nil {
		return fmt.Errorf("delete access code: %w", err)
	}
	return nil
}

// DeleteExpiredAccessCodes removes codes whose expiry is at or before now.
// Returns the number of rows removed.
func (d *DB) DeleteExpiredAccessCodes(now int64) (int, error) {
	res, err := d.db.Exec(`DELETE FROM access_codes WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired access codes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Sessions ---

// CreateSession inserts a new session token.
func (d *DB) CreateSession(s *Session) error {
	_, err := d.db.Exec(
		`INSERT INTO sessions (token, username, expires_at) VALUES (?, ?, ?)`,
		s.Token, s.Username, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token. Returns ErrNotFound if absent.
func (d *DB) GetSession(token string) (*Session, error) {
	s := &Session{}
	err := d.db.QueryRow(
		`SELECT token, username, expires_at FROM sessions WHERE token = ?`, token,
	).Scan(&s.Token, &s.Username, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// DeleteExpiredSessions removes sessions whose expiry is at or before now.
// Returns the number of rows removed.
func (d *DB) DeleteExpiredSessions(now int64) (int, error) {
	res, err := d.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Nodes ---

// UpsertNode inserts or refreshes a node registration. Returns true when the
// node_id was not previously known.
func (d *DB) UpsertNode(n *Node) (bool, error) {
	var exists int
	err := d.db.QueryRow(`SELECT COUNT(1) FROM nodes WHERE node_id = ?`, n.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check node: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT OR REPLACE INTO nodes (node_id, ip, port, capacity_bytes, metadata, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.IP, n.Port, n.CapacityBytes, n.Metadata, n.LastSeen,
	)
	if err != nil {
		return false, fmt.Errorf("upsert node: %w", err)
	}
	return exists == 0, nil
}

// ListNodes returns all known nodes, most recently seen first.
func (d *DB) ListNodes() ([]Node, error) {
	rows, err := d.db.Query(
		`SELECT node_id, ip, port, capacity_bytes, metadata, last_seen
		 FROM nodes ORDER BY last_seen DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListNodesSeenSince returns nodes whose last heartbeat is strictly after the
// given cutoff (unix seconds).
func (d *DB) ListNodesSeenSince(cutoff int64) ([]Node, error) {
	rows, err := d.db.Query(
		`SELECT node_id, ip, port, capacity_bytes, metadata, last_seen
		 FROM nodes WHERE last_seen > ? ORDER BY last_seen DESC`, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list live nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetNodesByIDs returns the nodes for the given IDs, preserving input order.
// IDs with no matching row are skipped.
func (d *DB) GetNodesByIDs(ids []string) ([]Node, error) {
	var nodes []Node
	for _, id := range ids {
		n := Node{}
		err := d.db.QueryRow(
			`SELECT node_id, ip, port, capacity_bytes, metadata, last_seen
			 FROM nodes WHERE node_id = ?`, id,
		).Scan(&n.ID, &n.IP, &n.Port, &n.CapacityBytes, &n.Metadata, &n.LastSeen)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get node %s: %w", id, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.IP, &n.Port, &n.CapacityBytes, &n.Metadata, &n.LastSeen); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// --- File records ---

// CreateFileRecord inserts a new file record. Records are never updated.
func (d *DB) CreateFileRecord(f *FileRecord) error {
	nodeIDs, err := json.Marshal(f.NodeIDs)
	if err != nil {
		return fmt.Errorf("encode node ids: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO files (upload_id, filename, owner, filesize, chunk_size, total_chunks, node_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.UploadID, f.Filename, f.Owner, f.Filesize, f.ChunkSize, f.TotalChunks, string(nodeIDs), f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create file record: %w", err)
	}
	return nil
}

// GetFileByFilename retrieves the newest file record for a filename owned by
// owner. Returns ErrNotFound if absent.
func (d *DB) GetFileByFilename(owner, filename string) (*FileRecord, error) {
	f := &FileRecord{}
	var nodeIDs string
	err := d.db.QueryRow(
		`SELECT upload_id, filename, owner, filesize, chunk_size, total_chunks, node_ids, created_at
		 FROM files WHERE owner = ? AND filename = ? ORDER BY created_at DESC LIMIT 1`,
		owner, filename,
	).Scan(&f.UploadID, &f.Filename, &f.Owner, &f.Filesize, &f.ChunkSize, &f.TotalChunks, &nodeIDs, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if err := json.Unmarshal([]byte(nodeIDs), &f.NodeIDs); err != nil {
		return nil, fmt.Errorf("decode node ids: %w", err)
	}
	return f, nil
}

// ListFilesForOwner returns file summaries for an owner, newest first.
func (d *DB) ListFilesForOwner(owner string) ([]FileSummary, error) {
	rows, err := d.db.Query(
		`SELECT filename, upload_id, filesize, created_at
		 FROM files WHERE owner = ? ORDER BY created_at DESC`, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []FileSummary
	for rows.Next() {
		var f FileSummary
		if err := rows.Scan(&f.Filename, &f.UploadID, &f.Filesize, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file summary: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// --- Repair tasks ---

// CreateRepairTask inserts a repair task row.
func (d *DB) CreateRepairTask(t *RepairTask) error {
	_, err := d.db.Exec(
		`INSERT INTO repair_tasks (id, upload_id, reason, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.UploadID, t.Reason, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create repair task: %w", err)
	}
	return nil
}
