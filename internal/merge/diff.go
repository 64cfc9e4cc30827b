// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package merge implements the C6 Merge Engine: building and
// executing the single SQL MERGE statement that reconciles one staged
// batch into the target table, per spec §4.6. This is the hardest
// component in the pipeline and the one with the most test coverage.
package merge

import (
	"fmt"
	"strings"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// Plan captures everything the diff subquery and the merge statement
// need to know about one batch.
type Plan struct {
	Target          string // fully-qualified target table
	Staging         string // fully-qualified staging table
	BatchID         int64
	LatestMerged    int64
	PrimaryKeys     []string
	RowIDSupported  bool
	Ordering        types.SourceOrdering
	NumSortKeys     int
	SoftDeletes     bool
	SourceColumns   []string // non-bookkeeping column names, declaration order
}

// orderExpr renders "<ORDER>", the "A happens before B" comparator
// from §4.6.1.
func (p Plan) orderExpr(a, b string) string {
	if p.Ordering == types.Ordered {
		return fmt.Sprintf("%s.%s < %s.%s", a, types.ColSequenceNum, b, types.ColSequenceNum)
	}
	return p.unorderedOrderExpr(a, b)
}

// unorderedOrderExpr renders the lexicographic sort-key comparator
// with the (_source_timestamp, _sequence_num) fallback, per §4.6.1.
func (p Plan) unorderedOrderExpr(a, b string) string {
	if p.NumSortKeys == 0 {
		return fmt.Sprintf(
			"(%s.%s < %s.%s OR (%s.%s = %s.%s AND %s.%s < %s.%s))",
			a, types.ColSourceTimestamp, b, types.ColSourceTimestamp,
			a, types.ColSourceTimestamp, b, types.ColSourceTimestamp,
			a, types.ColSequenceNum, b, types.ColSequenceNum,
		)
	}

	key0A := sortKeyRef(a, 0)
	key0B := sortKeyRef(b, 0)

	sortTerm := lexicographicLess(a, b, p.NumSortKeys)
	fallbackTerm := fmt.Sprintf(
		"(%s.%s < %s.%s OR (%s.%s = %s.%s AND %s.%s < %s.%s))",
		a, types.ColSourceTimestamp, b, types.ColSourceTimestamp,
		a, types.ColSourceTimestamp, b, types.ColSourceTimestamp,
		a, types.ColSequenceNum, b, types.ColSequenceNum,
	)

	return fmt.Sprintf(
		"((%s IS NOT NULL AND %s IS NOT NULL AND %s) OR ((%s IS NULL OR %s IS NULL) AND %s))",
		key0A, key0B, sortTerm, key0A, key0B, fallbackTerm,
	)
}

// lexicographicLess renders the nested lexicographic comparison over
// _sort._key_0 .. _key_{n-1} described literally in §4.6.1:
//
//	k0 < k0' OR (k0 = k0' AND (k1 < k1' OR (k1 = k1' AND ...)))
func lexicographicLess(a, b string, numKeys int) string {
	var build func(i int) string
	build = func(i int) string {
		ka, kb := sortKeyRef(a, i), sortKeyRef(b, i)
		if i == numKeys-1 {
			return fmt.Sprintf("%s < %s", ka, kb)
		}
		return fmt.Sprintf("(%s < %s OR (%s = %s AND %s))", ka, kb, ka, kb, build(i+1))
	}
	return build(0)
}

func sortKeyRef(alias string, i int) string {
	return fmt.Sprintf("%s.%s.%s", alias, types.ColSort, types.SortKeyColumn(i))
}

// joinCond renders the JOIN clause from §4.6.1.
func (p Plan) joinCond() string {
	order := p.orderExpr("A", "B")
	if p.RowIDSupported {
		return fmt.Sprintf("A.%s = B.%s AND %s", types.ColRowID, types.ColRowID, order)
	}
	var terms []string
	for _, pk := range p.PrimaryKeys {
		terms = append(terms, fmt.Sprintf("A.`%s` = B.%s%s", pk, types.BeforePKPrefix, pk))
	}
	return strings.Join(terms, " AND ") + " AND " + order
}

// whereCond renders the outer-join WHERE clause from §4.6.1.
func (p Plan) whereCond() string {
	if p.RowIDSupported {
		return fmt.Sprintf("B.%s IS NULL", types.ColRowID)
	}
	var terms []string
	for _, pk := range p.PrimaryKeys {
		terms = append(terms, fmt.Sprintf("B.%s%s IS NULL", types.BeforePKPrefix, pk))
	}
	return strings.Join(terms, " AND ")
}

// diffSQL renders the full diff subquery from §4.6.1.
func (p Plan) diffSQL() string {
	base := fmt.Sprintf(
		"SELECT * FROM %s WHERE %s = %d AND %s > %d",
		p.Staging, types.ColBatchID, p.BatchID, types.ColSequenceNum, p.LatestMerged,
	)
	return fmt.Sprintf(
		"SELECT A.* FROM (%s) AS A LEFT OUTER JOIN (%s) AS B ON %s WHERE %s",
		base, base, p.joinCond(), p.whereCond(),
	)
}
