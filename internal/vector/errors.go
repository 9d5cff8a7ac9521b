// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package vector

import (
	"fmt"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// ErrNamespaceNotFound builds the not_found error every backend returns
// for an absent namespace.
func ErrNamespaceNotFound(ns string) error {
	return ragerr.New(ragerr.CodeVectorNamespaceNotFound,
		fmt.Sprintf("namespace %q not found", ns), ragerr.FieldNamespace(ns))
}

// CheckNamespace rejects unusable namespace names.
func CheckNamespace(ns string) error {
	if !ValidNamespace(ns) {
		return ragerr.New(ragerr.CodeVectorInvalidInput,
			fmt.Sprintf("invalid namespace name %q", ns), ragerr.FieldNamespace(ns))
	}
	return nil
}

// CheckRecords verifies that every record has an ID and exactly dim values.
func CheckRecords(ns string, records []Record, dim int) error {
	for _, r := range records {
		if r.ID == "" {
			return ragerr.New(ragerr.CodeVectorInvalidInput, "record id must not be empty", ragerr.FieldNamespace(ns))
		}
		if len(r.Values) != dim {
			return ragerr.New(ragerr.CodeVectorInvalidInput,
				fmt.Sprintf("record %s has %d dimensions, index expects %d", r.ID, len(r.Values), dim),
				ragerr.FieldNamespace(ns), ragerr.Field("id", r.ID))
		}
	}
	return nil
}

// CheckQuery verifies a query vector's dimension.
func CheckQuery(ns string, vec []float32, dim int) error {
	if len(vec) != dim {
		return ragerr.New(ragerr.CodeVectorInvalidInput,
			fmt.Sprintf("query has %d dimensions, index expects %d", len(vec), dim),
			ragerr.FieldNamespace(ns))
	}
	return nil
}
