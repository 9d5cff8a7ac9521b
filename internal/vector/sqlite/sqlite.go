// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package sqlite is the embedded vector backend, built on a single
// sqlite-vec vec0 table partitioned by namespace.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ragd-dev/ragd/internal/vector"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
	vector.RegisterBackend("sqlite", func(cfg vector.Config) (vector.Store, error) {
		return Open(cfg.SQLitePath, cfg.Dimensions)
	})
}

// maxK is the largest k vec0 accepts in a KNN query.
const maxK = 4096

// keySep joins namespace and record id into the vec0 primary key.
const keySep = "\x1f"

// Compile-time interface check.
var _ vector.Store = (*Store)(nil)

// Store implements vector.Store on SQLite.
type Store struct {
	db         *sql.DB
	dimensions int
}

// Open opens (or creates) the database at path. An existing database
// created with a different dimension is rejected.
func Open(path string, dimensions int) (*Store, error) {
	if path == "" {
		return nil, ragerr.New(ragerr.CodeVectorOpenFailure, "sqlite vector path is empty")
	}
	if dimensions <= 0 {
		return nil, ragerr.Errorf(ragerr.CodeVectorOpenFailure, "sqlite vector dimensions must be positive, got %d", dimensions)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeVectorOpenFailure, "creating directory for %s", path)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeVectorOpenFailure, "opening sqlite db")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, ragerr.Wrapf(err, ragerr.CodeVectorOpenFailure, "pinging sqlite db")
	}

	if err := migrate(db, dimensions); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, dimensions: dimensions}, nil
}

func migrate(db *sql.DB, dimensions int) error {
	var existing string
	err := db.QueryRow(`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'vectors'`).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ragerr.Wrapf(err, ragerr.CodeVectorOpenFailure, "reading vector schema")
	case !strings.Contains(existing, fmt.Sprintf("float[%d]", dimensions)):
		return ragerr.Errorf(ragerr.CodeVectorOpenFailure,
			"vector database was created with a different dimension than %d; use a new sqlite path or re-ingest", dimensions)
	}

	vecDDL := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(
	key TEXT PRIMARY KEY,
	namespace TEXT PARTITION KEY,
	embedding float[%d] distance_metric=cosine
)`, dimensions)

	stmts := []string{
		vecDDL,
		`CREATE TABLE IF NOT EXISTS namespaces (
	name       TEXT PRIMARY KEY,
	dimensions INTEGER NOT NULL,
	created_at TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS vector_metadata (
	key       TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	id        TEXT NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	metadata  TEXT NOT NULL DEFAULT '{}'
)`,
		`CREATE INDEX IF NOT EXISTS idx_vector_metadata_ns_file ON vector_metadata(namespace, file_name)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return ragerr.Wrapf(err, ragerr.CodeVectorOpenFailure, "migrating vector tables")
		}
	}
	return nil
}

func rowKey(ns, id string) string { return ns + keySep + id }

func (s *Store) Dimensions() int { return s.dimensions }

func (s *Store) EnsureNamespace(ctx context.Context, ns string) error {
	if err := vector.CheckNamespace(ns); err != nil {
		return err
	}
	return s.ensureNamespace(ctx, s.db, ns)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) ensureNamespace(ctx context.Context, db execer, ns string) error {
	const q = `INSERT OR IGNORE INTO namespaces(name, dimensions, created_at) VALUES (?, ?, ?)`
	if _, err := db.ExecContext(ctx, q, ns, s.dimensions, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return dbErr(err, ns, "creating namespace")
	}
	return nil
}

// Upsert replaces records with the same id. vec0 has no ON CONFLICT, so
// each vector row is deleted before it is inserted.
func (s *Store) Upsert(ctx context.Context, ns string, records []vector.Record) error {
	if err := vector.CheckNamespace(ns); err != nil {
		return err
	}
	if err := vector.CheckRecords(ns, records, s.dimensions); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr(err, ns, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureNamespace(ctx, tx, ns); err != nil {
		return err
	}

	const metaQ = `INSERT INTO vector_metadata(key, namespace, id, file_name, metadata) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET file_name = excluded.file_name, metadata = excluded.metadata`

	for _, r := range records {
		blob, err := sqlite_vec.SerializeFloat32(r.Values)
		if err != nil {
			return dbErr(err, ns, "serializing embedding "+r.ID)
		}
		metaJSON, err := marshalMetadata(r.Metadata)
		if err != nil {
			return ragerr.Wrap(err, ragerr.CodeVectorInvalidInput, "marshalling metadata for "+r.ID, ragerr.FieldNamespace(ns))
		}

		key := rowKey(ns, r.ID)
		if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE key = ?`, key); err != nil {
			return dbErr(err, ns, "deleting existing vector "+r.ID)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vectors(key, namespace, embedding) VALUES (?, ?, ?)`, key, ns, blob); err != nil {
			return dbErr(err, ns, "inserting vector "+r.ID)
		}
		if _, err := tx.ExecContext(ctx, metaQ, key, ns, r.ID, r.FileName(), metaJSON); err != nil {
			return dbErr(err, ns, "upserting metadata "+r.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbErr(err, ns, "committing upsert")
	}
	return nil
}

// Query runs a KNN search inside one namespace partition. Score is
// 1 - cosine distance.
func (s *Store) Query(ctx context.Context, ns string, vec []float32, k int) ([]vector.Match, error) {
	if err := vector.CheckQuery(ns, vec, s.dimensions); err != nil {
		return nil, err
	}
	if err := s.requireNamespace(ctx, ns); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []vector.Match{}, nil
	}
	k = min(k, maxK)

	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, dbErr(err, ns, "serializing query vector")
	}

	const q = `WITH knn AS (
	SELECT key, distance, embedding
	FROM vectors
	WHERE embedding MATCH ? AND k = ? AND namespace = ?
)
SELECT m.id, knn.distance, knn.embedding, COALESCE(m.metadata, '{}')
FROM knn
JOIN vector_metadata m ON m.key = knn.key
ORDER BY knn.distance, m.id`

	rows, err := s.db.QueryContext(ctx, q, blob, k, ns)
	if err != nil {
		return nil, dbErr(err, ns, "searching vectors")
	}
	defer func() { _ = rows.Close() }()

	matches := []vector.Match{}
	for rows.Next() {
		var (
			m        vector.Match
			distance float64
			emb      []byte
			metaStr  string
		)
		if err := rows.Scan(&m.ID, &distance, &emb, &metaStr); err != nil {
			return nil, dbErr(err, ns, "scanning vector result")
		}
		m.Score = float32(1 - distance)
		m.Values = decodeFloat32(emb)
		if m.Metadata, err = unmarshalMetadata(metaStr); err != nil {
			return nil, dbErr(err, ns, "unmarshalling metadata for "+m.ID)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, ns, "iterating vector results")
	}
	return matches, nil
}

func (s *Store) ListNamespaces(ctx context.Context) ([]vector.NamespaceInfo, error) {
	const q = `SELECT n.name, n.dimensions, COUNT(m.key)
FROM namespaces n
LEFT JOIN vector_metadata m ON m.namespace = n.name
GROUP BY n.name, n.dimensions
ORDER BY n.name`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, dbErr(err, "", "listing namespaces")
	}
	defer func() { _ = rows.Close() }()

	out := []vector.NamespaceInfo{}
	for rows.Next() {
		var info vector.NamespaceInfo
		if err := rows.Scan(&info.Name, &info.Dimensions, &info.Vectors); err != nil {
			return nil, dbErr(err, "", "scanning namespace")
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "", "iterating namespaces")
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, ns string) (vector.NamespaceInfo, error) {
	const q = `SELECT n.dimensions, (SELECT COUNT(*) FROM vector_metadata m WHERE m.namespace = n.name)
FROM namespaces n WHERE n.name = ?`

	info := vector.NamespaceInfo{Name: ns}
	err := s.db.QueryRowContext(ctx, q, ns).Scan(&info.Dimensions, &info.Vectors)
	if errors.Is(err, sql.ErrNoRows) {
		return vector.NamespaceInfo{}, vector.ErrNamespaceNotFound(ns)
	}
	if err != nil {
		return vector.NamespaceInfo{}, dbErr(err, ns, "reading namespace stats")
	}
	return info, nil
}

// Sample returns up to n records in insertion order.
func (s *Store) Sample(ctx context.Context, ns string, n int) ([]vector.Record, error) {
	if err := s.requireNamespace(ctx, ns); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []vector.Record{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, id, metadata FROM vector_metadata WHERE namespace = ? ORDER BY rowid LIMIT ?`, ns, n)
	if err != nil {
		return nil, dbErr(err, ns, "sampling vectors")
	}
	type sampled struct {
		key string
		rec vector.Record
	}
	var picked []sampled
	for rows.Next() {
		var (
			item    sampled
			metaStr string
		)
		if err := rows.Scan(&item.key, &item.rec.ID, &metaStr); err != nil {
			_ = rows.Close()
			return nil, dbErr(err, ns, "scanning sample")
		}
		if item.rec.Metadata, err = unmarshalMetadata(metaStr); err != nil {
			_ = rows.Close()
			return nil, dbErr(err, ns, "unmarshalling metadata for "+item.rec.ID)
		}
		picked = append(picked, item)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, ns, "iterating sample")
	}

	out := make([]vector.Record, 0, len(picked))
	for _, item := range picked {
		var emb []byte
		err := s.db.QueryRowContext(ctx, `SELECT embedding FROM vectors WHERE key = ?`, item.key).Scan(&emb)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, dbErr(err, ns, "reading vector "+item.rec.ID)
		}
		item.rec.Values = decodeFloat32(emb)
		out = append(out, item.rec)
	}
	return out, nil
}

func (s *Store) Sources(ctx context.Context, ns string) ([]string, error) {
	if err := s.requireNamespace(ctx, ns); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT file_name FROM vector_metadata WHERE namespace = ? AND file_name != '' ORDER BY file_name`, ns)
	if err != nil {
		return nil, dbErr(err, ns, "listing sources")
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dbErr(err, ns, "scanning source")
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, ns, "iterating sources")
	}
	return out, nil
}

func (s *Store) DeleteIDs(ctx context.Context, ns string, ids []string) error {
	if err := s.requireNamespace(ctx, ns); err != nil {
		return err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rowKey(ns, id)
	}
	_, err := s.deleteKeys(ctx, ns, keys)
	return err
}

// DeleteSource removes every record whose file_name is source and returns
// how many were removed.
func (s *Store) DeleteSource(ctx context.Context, ns string, source string) (int, error) {
	if err := s.requireNamespace(ctx, ns); err != nil {
		return 0, err
	}
	keys, err := s.keys(ctx, ns, `SELECT key FROM vector_metadata WHERE namespace = ? AND file_name = ?`, ns, source)
	if err != nil {
		return 0, err
	}
	return s.deleteKeys(ctx, ns, keys)
}

func (s *Store) DeleteNamespace(ctx context.Context, ns string) error {
	if err := s.requireNamespace(ctx, ns); err != nil {
		return err
	}
	keys, err := s.keys(ctx, ns, `SELECT key FROM vector_metadata WHERE namespace = ?`, ns)
	if err != nil {
		return err
	}
	if _, err := s.deleteKeys(ctx, ns, keys); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, ns); err != nil {
		return dbErr(err, ns, "deleting namespace")
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) requireNamespace(ctx context.Context, ns string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM namespaces WHERE name = ?`, ns).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return vector.ErrNamespaceNotFound(ns)
	}
	if err != nil {
		return dbErr(err, ns, "looking up namespace")
	}
	return nil
}

func (s *Store) keys(ctx context.Context, ns, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbErr(err, ns, "selecting vector keys")
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, dbErr(err, ns, "scanning vector key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, ns, "iterating vector keys")
	}
	return keys, nil
}

// deleteKeys removes vectors and metadata one key at a time; vec0 deletes
// are point operations on the primary key.
func (s *Store) deleteKeys(ctx context.Context, ns string, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbErr(err, ns, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	removed := 0
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE key = ?`, k); err != nil {
			return 0, dbErr(err, ns, "deleting vector")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM vector_metadata WHERE key = ?`, k)
		if err != nil {
			return 0, dbErr(err, ns, "deleting vector metadata")
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, dbErr(err, ns, "committing delete")
	}
	return removed, nil
}

func dbErr(err error, ns, msg string) error {
	return ragerr.Wrap(err, ragerr.CodeVectorDatabaseFailure, msg, ragerr.FieldNamespace(ns), ragerr.FieldBackend("sqlite"))
}

func marshalMetadata(md map[string]any) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMetadata(s string) (map[string]any, error) {
	md := map[string]any{}
	if s == "" || s == "{}" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return nil, err
	}
	return md, nil
}

// decodeFloat32 reads sqlite-vec's little-endian float32 blob format.
func decodeFloat32(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
