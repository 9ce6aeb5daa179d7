package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a SQLite database. The pool holds a single
// connection, so transactions are serialized.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT
	);

	CREATE TABLE IF NOT EXISTS node_props (
		node_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (node_id, name)
	);

	CREATE TABLE IF NOT EXISTS node_labels (
		node_id INTEGER NOT NULL,
		label TEXT NOT NULL,
		PRIMARY KEY (node_id, label)
	);

	CREATE INDEX IF NOT EXISTS idx_node_labels_label ON node_labels(label);

	CREATE TABLE IF NOT EXISTS edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		src INTEGER NOT NULL,
		dst INTEGER NOT NULL,
		label TEXT NOT NULL,
		ordinal INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src, label);
	CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst, label);

	CREATE TABLE IF NOT EXISTS point_index (
		key TEXT PRIMARY KEY,
		node_id INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Begin starts a database transaction bound to ctx.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTx{ctx: ctx, tx: tx}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	ctx  context.Context
	tx   *sql.Tx
	done bool
}

func (t *sqliteTx) exec(query string, args ...any) (sql.Result, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return t.tx.ExecContext(t.ctx, query, args...)
}

func (t *sqliteTx) mustExist(id NodeID) error {
	ok, err := t.NodeExists(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) CreateNode() (NodeID, error) {
	res, err := t.exec(`INSERT INTO nodes DEFAULT VALUES`)
	if err != nil {
		return 0, fmt.Errorf("failed to create node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return NodeID(id), nil
}

func (t *sqliteTx) DeleteNode(id NodeID) error {
	if err := t.mustExist(id); err != nil {
		return err
	}
	if _, err := t.exec(`DELETE FROM edges WHERE src = ? OR dst = ?`, id, id); err != nil {
		return fmt.Errorf("failed to delete edges of node %d: %w", id, err)
	}
	for _, q := range []string{
		`DELETE FROM node_props WHERE node_id = ?`,
		`DELETE FROM node_labels WHERE node_id = ?`,
		`DELETE FROM nodes WHERE id = ?`,
	} {
		if _, err := t.exec(q, id); err != nil {
			return fmt.Errorf("failed to delete node %d: %w", id, err)
		}
	}
	return nil
}

func (t *sqliteTx) NodeExists(id NodeID) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	var one int
	err := t.tx.QueryRowContext(t.ctx, `SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *sqliteTx) Property(id NodeID, name string) (any, bool, error) {
	if t.done {
		return nil, false, ErrTxDone
	}
	var raw []byte
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value FROM node_props WHERE node_id = ? AND name = ?`, id, name,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, t.mustExist(id)
	}
	if err != nil {
		return nil, false, err
	}
	v, err := DecodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *sqliteTx) SetProperty(id NodeID, name string, value any) error {
	raw, err := EncodeValue(value)
	if err != nil {
		return err
	}
	if err := t.mustExist(id); err != nil {
		return err
	}
	_, err = t.exec(
		`INSERT INTO node_props (node_id, name, value) VALUES (?, ?, ?)
		 ON CONFLICT(node_id, name) DO UPDATE SET value = excluded.value`,
		id, name, raw,
	)
	return err
}

func (t *sqliteTx) RemoveProperty(id NodeID, name string) error {
	if err := t.mustExist(id); err != nil {
		return err
	}
	_, err := t.exec(`DELETE FROM node_props WHERE node_id = ? AND name = ?`, id, name)
	return err
}

func (t *sqliteTx) AddLabel(id NodeID, label string) error {
	if err := t.mustExist(id); err != nil {
		return err
	}
	_, err := t.exec(`INSERT OR IGNORE INTO node_labels (node_id, label) VALUES (?, ?)`, id, label)
	return err
}

func (t *sqliteTx) HasLabel(id NodeID, label string) (bool, error) {
	if err := t.mustExist(id); err != nil {
		return false, err
	}
	var one int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT 1 FROM node_labels WHERE node_id = ? AND label = ?`, id, label,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (t *sqliteTx) RemoveLabel(id NodeID, label string) error {
	if err := t.mustExist(id); err != nil {
		return err
	}
	_, err := t.exec(`DELETE FROM node_labels WHERE node_id = ? AND label = ?`, id, label)
	return err
}

func (t *sqliteTx) NodesWithLabel(label string) ([]NodeID, error) {
	if t.done {
		return nil, ErrTxDone
	}
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT node_id FROM node_labels WHERE label = ? ORDER BY node_id`, label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []NodeID
	for rows.Next() {
		var id NodeID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *sqliteTx) CreateEdge(from, to NodeID, label string, ordinal int) (EdgeID, error) {
	if err := t.mustExist(from); err != nil {
		return 0, err
	}
	if err := t.mustExist(to); err != nil {
		return 0, err
	}
	res, err := t.exec(
		`INSERT INTO edges (src, dst, label, ordinal) VALUES (?, ?, ?, ?)`,
		from, to, label, ordinal,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create edge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return EdgeID(id), nil
}

func (t *sqliteTx) DeleteEdge(id EdgeID) error {
	res, err := t.exec(`DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("edge %d: %w", id, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) Edges(id NodeID, label string, dir Direction) ([]Edge, error) {
	if err := t.mustExist(id); err != nil {
		return nil, err
	}
	var where string
	args := []any{id}
	switch dir {
	case Outgoing:
		where = "src = ?"
	case Incoming:
		where = "dst = ?"
	default:
		where = "(src = ? OR dst = ?)"
		args = append(args, id)
	}
	if label != "" {
		where += " AND label = ?"
		args = append(args, label)
	}
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT id, src, dst, label, ordinal FROM edges WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Label, &e.Ordinal); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *sqliteTx) IndexAdd(key string, id NodeID) error {
	if _, ok, err := t.IndexGet(key); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	_, err := t.exec(`INSERT INTO point_index (key, node_id) VALUES (?, ?)`, key, id)
	return err
}

func (t *sqliteTx) IndexRemove(key string) error {
	_, err := t.exec(`DELETE FROM point_index WHERE key = ?`, key)
	return err
}

func (t *sqliteTx) IndexGet(key string) (NodeID, bool, error) {
	if t.done {
		return 0, false, ErrTxDone
	}
	var id NodeID
	err := t.tx.QueryRowContext(t.ctx, `SELECT node_id FROM point_index WHERE key = ?`, key).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *sqliteTx) IndexCount() (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	var n int64
	err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM point_index`).Scan(&n)
	return n, err
}

func (t *sqliteTx) IndexClear() error {
	_, err := t.exec(`DELETE FROM point_index`)
	return err
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Rollback()
}
