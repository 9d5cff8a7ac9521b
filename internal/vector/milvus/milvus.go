// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package milvus stores vectors in a single Milvus collection, using a
// namespace field as the partition.
package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/ragd-dev/ragd/internal/vector"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

func init() {
	vector.RegisterBackend("milvus", func(cfg vector.Config) (vector.Store, error) {
		return Open(context.Background(), cfg.Milvus, cfg.Dimensions)
	})
}

// DefaultCollection is used when no collection is configured.
const DefaultCollection = "ragd_chunks"

// Field names in the collection schema.
const (
	fieldID        = "id"
	fieldNamespace = "namespace"
	fieldRecordID  = "record_id"
	fieldFileName  = "file_name"
	fieldMetadata  = "metadata"
	fieldVector    = "vector"
)

const (
	maxKeyLength      = "1024"
	maxMetadataLength = "65535"
	// queryLimit is the largest offset+limit Milvus allows on a query.
	queryLimit = 16384
)

// Compile-time interface check.
var _ vector.Store = (*Store)(nil)

// Store implements vector.Store on Milvus. The collection is created and
// loaded on first use.
type Store struct {
	client     *milvusclient.Client
	collection string
	dimensions int

	mu    sync.Mutex
	ready bool
}

// Open connects to Milvus. It does not touch the collection.
func Open(ctx context.Context, cfg vector.MilvusConfig, dimensions int) (*Store, error) {
	if cfg.Address == "" {
		return nil, ragerr.New(ragerr.CodeVectorOpenFailure, "milvus address is empty", ragerr.FieldBackend("milvus"))
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address: cfg.Address,
		APIKey:  cfg.APIKey,
		DBName:  cfg.DBName,
	})
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeVectorOpenFailure, "connecting to milvus",
			ragerr.FieldBackend("milvus"), ragerr.Field("address", cfg.Address))
	}

	slog.Info("connected to milvus", "address", cfg.Address, "collection", collection, "dimensions", dimensions)
	return &Store{client: client, collection: collection, dimensions: dimensions}, nil
}

func (s *Store) Dimensions() int { return s.dimensions }

func (s *Store) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return remoteErr(err, "", "checking collection")
	}

	if !exists {
		createOpt := milvusclient.NewCreateCollectionOption(s.collection, s.schema())
		if err := s.client.CreateCollection(ctx, createOpt); err != nil {
			return remoteErr(err, "", "creating collection")
		}

		idx := index.NewHNSWIndex(entity.COSINE, 16, 200)
		task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, fieldVector, idx))
		if err != nil {
			return remoteErr(err, "", "creating vector index")
		}
		if err := task.Await(ctx); err != nil {
			return remoteErr(err, "", "waiting for vector index")
		}
		slog.Info("created milvus collection", "collection", s.collection)
	}

	task, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return remoteErr(err, "", "loading collection")
	}
	if err := task.Await(ctx); err != nil {
		return remoteErr(err, "", "waiting for collection load")
	}

	s.ready = true
	return nil
}

func (s *Store) schema() *entity.Schema {
	varchar := func(name, maxLen string) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": maxLen},
		}
	}

	pk := varchar(fieldID, maxKeyLength)
	pk.PrimaryKey = true

	return &entity.Schema{
		CollectionName: s.collection,
		Description:    "ragd document chunks",
		Fields: []*entity.Field{
			pk,
			varchar(fieldNamespace, maxKeyLength),
			varchar(fieldRecordID, maxKeyLength),
			varchar(fieldFileName, maxKeyLength),
			varchar(fieldMetadata, maxMetadataLength),
			{
				Name:       fieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.dimensions)},
			},
		},
	}
}

// EnsureNamespace only makes sure the collection exists. A namespace
// becomes visible once it holds a vector.
func (s *Store) EnsureNamespace(ctx context.Context, ns string) error {
	if err := checkNamespace(ns); err != nil {
		return err
	}
	return s.ensureCollection(ctx)
}

func (s *Store) Upsert(ctx context.Context, ns string, records []vector.Record) error {
	if err := checkNamespace(ns); err != nil {
		return err
	}
	if err := vector.CheckRecords(ns, records, s.dimensions); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	var (
		pks   = make([]string, len(records))
		nss   = make([]string, len(records))
		ids   = make([]string, len(records))
		files = make([]string, len(records))
		metas = make([]string, len(records))
		vecs  = make([][]float32, len(records))
	)
	for i, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return ragerr.Wrap(err, ragerr.CodeVectorInvalidInput, "marshalling metadata for "+r.ID, ragerr.FieldNamespace(ns))
		}
		pks[i] = primaryKey(ns, r.ID)
		nss[i] = ns
		ids[i] = r.ID
		files[i] = r.FileName()
		metas[i] = string(meta)
		vecs[i] = r.Values
	}

	opt := milvusclient.NewColumnBasedInsertOption(s.collection).
		WithVarcharColumn(fieldID, pks).
		WithVarcharColumn(fieldNamespace, nss).
		WithVarcharColumn(fieldRecordID, ids).
		WithVarcharColumn(fieldFileName, files).
		WithVarcharColumn(fieldMetadata, metas).
		WithFloatVectorColumn(fieldVector, s.dimensions, vecs)
	if _, err := s.client.Upsert(ctx, opt); err != nil {
		return remoteErr(err, ns, "upserting vectors")
	}
	return nil
}

// Query searches within ns. With the COSINE metric Milvus scores are
// already cosine similarities.
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

	opt := milvusclient.NewSearchOption(s.collection, k, []entity.Vector{entity.FloatVector(vec)}).
		WithANNSField(fieldVector).
		WithFilter(namespaceExpr(ns)).
		WithOutputFields(fieldRecordID, fieldMetadata, fieldVector).
		WithConsistencyLevel(entity.ClStrong)
	results, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, remoteErr(err, ns, "searching vectors")
	}

	matches := []vector.Match{}
	if len(results) == 0 {
		return matches, nil
	}
	rs := results[0]
	rows, err := decodeRows(rs.ResultCount, rs.GetColumn)
	if err != nil {
		return nil, remoteErr(err, ns, "decoding search results")
	}
	for i, r := range rows {
		var score float32
		if i < len(rs.Scores) {
			score = rs.Scores[i]
		}
		matches = append(matches, vector.Match{ID: r.ID, Score: score, Values: r.Values, Metadata: r.Metadata})
	}
	return matches, nil
}

// ListNamespaces reads distinct namespace values. Milvus has no DISTINCT,
// so at most queryLimit rows are scanned.
func (s *Store) ListNamespaces(ctx context.Context) ([]vector.NamespaceInfo, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	names, err := s.distinct(ctx, `namespace != ""`, fieldNamespace, "")
	if err != nil {
		return nil, err
	}

	out := make([]vector.NamespaceInfo, 0, len(names))
	for _, name := range names {
		n, err := s.count(ctx, namespaceExpr(name), name)
		if err != nil {
			return nil, err
		}
		out = append(out, vector.NamespaceInfo{Name: name, Vectors: n, Dimensions: s.dimensions})
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, ns string) (vector.NamespaceInfo, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return vector.NamespaceInfo{}, err
	}
	n, err := s.count(ctx, namespaceExpr(ns), ns)
	if err != nil {
		return vector.NamespaceInfo{}, err
	}
	if n == 0 {
		return vector.NamespaceInfo{}, vector.ErrNamespaceNotFound(ns)
	}
	return vector.NamespaceInfo{Name: ns, Vectors: n, Dimensions: s.dimensions}, nil
}

func (s *Store) Sample(ctx context.Context, ns string, n int) ([]vector.Record, error) {
	if err := s.requireNamespace(ctx, ns); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []vector.Record{}, nil
	}

	opt := milvusclient.NewQueryOption(s.collection).
		WithFilter(namespaceExpr(ns)).
		WithOutputFields(fieldRecordID, fieldMetadata, fieldVector).
		WithLimit(min(n, queryLimit)).
		WithConsistencyLevel(entity.ClStrong)
	rs, err := s.client.Query(ctx, opt)
	if err != nil {
		return nil, remoteErr(err, ns, "sampling vectors")
	}
	rows, err := decodeRows(rs.ResultCount, rs.GetColumn)
	if err != nil {
		return nil, remoteErr(err, ns, "decoding sample")
	}
	return rows, nil
}

func (s *Store) Sources(ctx context.Context, ns string) ([]string, error) {
	if err := s.requireNamespace(ctx, ns); err != nil {
		return nil, err
	}
	return s.distinct(ctx, namespaceExpr(ns)+` && file_name != ""`, fieldFileName, ns)
}

func (s *Store) DeleteIDs(ctx context.Context, ns string, ids []string) error {
	if err := s.requireNamespace(ctx, ns); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := s.delete(ctx, ns, idsExpr(ns, ids))
	return err
}

func (s *Store) DeleteSource(ctx context.Context, ns string, source string) (int, error) {
	if err := s.requireNamespace(ctx, ns); err != nil {
		return 0, err
	}
	return s.delete(ctx, ns, sourceExpr(ns, source))
}

func (s *Store) DeleteNamespace(ctx context.Context, ns string) error {
	if err := s.requireNamespace(ctx, ns); err != nil {
		return err
	}
	_, err := s.delete(ctx, ns, namespaceExpr(ns))
	return err
}

func (s *Store) Close() error {
	return s.client.Close(context.Background())
}

func (s *Store) requireNamespace(ctx context.Context, ns string) error {
	_, err := s.Stats(ctx, ns)
	return err
}

// delete counts the rows matching expr, then deletes them. Milvus only
// reports deletions per primary key, so the count comes from a query.
func (s *Store) delete(ctx context.Context, ns, expr string) (int, error) {
	n, err := s.count(ctx, expr, ns)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(s.collection).WithExpr(expr)); err != nil {
		return 0, remoteErr(err, ns, "deleting vectors")
	}
	return n, nil
}

func (s *Store) count(ctx context.Context, expr, ns string) (int, error) {
	opt := milvusclient.NewQueryOption(s.collection).
		WithFilter(expr).
		WithOutputFields("count(*)").
		WithConsistencyLevel(entity.ClStrong)
	rs, err := s.client.Query(ctx, opt)
	if err != nil {
		return 0, remoteErr(err, ns, "counting vectors")
	}
	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, remoteErr(err, ns, "reading vector count")
	}
	return int(n), nil
}

func (s *Store) distinct(ctx context.Context, expr, field, ns string) ([]string, error) {
	opt := milvusclient.NewQueryOption(s.collection).
		WithFilter(expr).
		WithOutputFields(field).
		WithLimit(queryLimit).
		WithConsistencyLevel(entity.ClStrong)
	rs, err := s.client.Query(ctx, opt)
	if err != nil {
		return nil, remoteErr(err, ns, "querying "+field)
	}

	col := rs.GetColumn(field)
	if col == nil {
		return []string{}, nil
	}
	seen := map[string]struct{}{}
	out := []string{}
	for i := 0; i < col.Len(); i++ {
		v, err := col.GetAsString(i)
		if err != nil || v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out, nil
}

// decodeRows turns record_id, metadata and vector columns into records.
// A missing vector column leaves Values nil.
func decodeRows(n int, get func(string) column.Column) ([]vector.Record, error) {
	idCol := get(fieldRecordID)
	metaCol := get(fieldMetadata)
	if idCol == nil || metaCol == nil {
		if n == 0 {
			return []vector.Record{}, nil
		}
		return nil, fmt.Errorf("result is missing %s or %s", fieldRecordID, fieldMetadata)
	}
	vecCol, _ := get(fieldVector).(*column.ColumnFloatVector)

	out := make([]vector.Record, 0, n)
	for i := 0; i < n; i++ {
		id, err := idCol.GetAsString(i)
		if err != nil {
			return nil, err
		}
		raw, err := metaCol.GetAsString(i)
		if err != nil {
			return nil, err
		}
		md := map[string]any{}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &md); err != nil {
				return nil, fmt.Errorf("metadata for %s: %w", id, err)
			}
		}
		r := vector.Record{ID: id, Metadata: md}
		if vecCol != nil && i < vecCol.Len() {
			r.Values = slices.Clone(vecCol.Data()[i])
		}
		out = append(out, r)
	}
	return out, nil
}

func checkNamespace(ns string) error {
	if err := vector.CheckNamespace(ns); err != nil {
		return err
	}
	if strings.Contains(ns, "/") {
		return ragerr.New(ragerr.CodeVectorInvalidInput,
			fmt.Sprintf("milvus namespace %q must not contain '/'", ns), ragerr.FieldNamespace(ns))
	}
	return nil
}

func remoteErr(err error, ns, msg string) error {
	return ragerr.Wrap(err, ragerr.CodeVectorUpstreamFailure, "milvus: "+msg,
		ragerr.FieldNamespace(ns), ragerr.FieldBackend("milvus"))
}

// primaryKey is the collection-wide id of a record.
func primaryKey(ns, id string) string {
	return ns + "/" + id
}

// quote renders s as a Milvus string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func namespaceExpr(ns string) string {
	return fieldNamespace + " == " + quote(ns)
}

func sourceExpr(ns, source string) string {
	return namespaceExpr(ns) + " && " + fieldFileName + " == " + quote(source)
}

func idsExpr(ns string, ids []string) string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = quote(primaryKey(ns, id))
	}
	return fieldID + " in [" + strings.Join(keys, ", ") + "]"
}
