// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package milvus

import (
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/ragd-dev/ragd/internal/vector"
)

var (
	PrimaryKey    = primaryKey
	Quote         = quote
	NamespaceExpr = namespaceExpr
	SourceExpr    = sourceExpr
	IDsExpr       = idsExpr
	CheckName     = checkNamespace
)

// DecodeRows exposes decodeRows for white-box testing.
var DecodeRows = func(n int, get func(string) column.Column) ([]vector.Record, error) {
	return decodeRows(n, get)
}

// Schema builds the collection schema without a client.
func Schema(collection string, dim int) *entity.Schema {
	s := &Store{collection: collection, dimensions: dim}
	return s.schema()
}
