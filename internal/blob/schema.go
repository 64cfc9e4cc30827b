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

// Package blob implements the C2 Blob Writer: serializing a batch of
// events for one table into a single immutable blob-store object, in
// a columnar row-encoded format (Avro preferred, JSON as a fallback),
// per spec §4.3.
package blob

import (
	"fmt"
	"strings"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// RowSchema describes the columns that make up one row of a blob
// object: the source columns, in declaration order, plus whichever
// bookkeeping columns the batch shard requires.
type RowSchema struct {
	Source  []types.ColumnSchema
	Bookkeeping []types.ColumnSchema
}

// All returns the source and bookkeeping columns concatenated, in the
// order they are serialized.
func (s RowSchema) All() []types.ColumnSchema {
	all := make([]types.ColumnSchema, 0, len(s.Source)+len(s.Bookkeeping))
	all = append(all, s.Source...)
	all = append(all, s.Bookkeeping...)
	return all
}

// BuildRowSchema derives the row layout for a batch shard, per §4.3:
// the source schema, plus _op, _batch_id, _sequence_num always; plus
// _before_<pk> columns when the merge will need them (no row-id
// support); plus _row_id, _source_timestamp, _sort when the source
// supplies them.
func BuildRowSchema(
	source []types.ColumnSchema,
	primaryKeys []string,
	rowIDSupported bool,
	ordering types.SourceOrdering,
	hasSortKeys bool,
	numSortKeys int,
) RowSchema {
	book := []types.ColumnSchema{
		{Name: types.ColOp, Type: types.TypeString, Nullable: false},
		{Name: types.ColBatchID, Type: types.TypeInt64, Nullable: false},
		{Name: types.ColSequenceNum, Type: types.TypeInt64, Nullable: false},
	}

	if !rowIDSupported {
		pkTypes := make(map[string]types.ColumnType, len(primaryKeys))
		for _, col := range source {
			pkTypes[col.Name] = col.Type
		}
		for _, pk := range primaryKeys {
			book = append(book, types.ColumnSchema{
				Name:     types.BeforePKPrefix + pk,
				Type:     pkTypes[pk],
				Nullable: true,
			})
		}
	} else {
		book = append(book, types.ColumnSchema{Name: types.ColRowID, Type: types.TypeString, Nullable: true})
	}

	if ordering == types.Unordered {
		book = append(book, types.ColumnSchema{Name: types.ColSourceTimestamp, Type: types.TypeInt64, Nullable: true})
		if hasSortKeys {
			book = append(book, types.ColumnSchema{Name: types.ColSort, Type: types.TypeStruct, Nullable: true})
		}
	}

	return RowSchema{Source: source, Bookkeeping: book}
}

// avroFieldType renders the Avro type (with logical types preferred
// per §3) for a column. numSortKeys is only consulted for the _sort
// struct column.
func avroFieldType(col types.ColumnSchema, numSortKeys int) string {
	var base string
	switch col.Type {
	case types.TypeBool:
		base = `"boolean"`
	case types.TypeInt64:
		base = `"long"`
	case types.TypeFloat64:
		base = `"double"`
	case types.TypeNumeric:
		base = `{"type":"bytes","logicalType":"decimal","precision":38,"scale":9}`
	case types.TypeString:
		base = `"string"`
	case types.TypeBytes:
		base = `"bytes"`
	case types.TypeDate:
		base = `{"type":"int","logicalType":"date"}`
	case types.TypeTimestamp:
		base = `{"type":"long","logicalType":"timestamp-micros"}`
	case types.TypeStruct:
		base = sortStructSchema(numSortKeys)
	default:
		// No Avro logical-type mapping for this column: fall back to
		// a plain string representation rather than failing the
		// whole batch.
		base = `"string"`
	}
	if col.Nullable {
		return fmt.Sprintf(`["null",%s]`, base)
	}
	return base
}

func sortStructSchema(numKeys int) string {
	var b strings.Builder
	b.WriteString(`{"type":"record","name":"sortKey","fields":[`)
	for i := 0; i < numKeys; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"name":%q,"type":["null","string"]}`, types.SortKeyColumn(i))
	}
	b.WriteString("]}")
	return b.String()
}

// AvroSchema renders the full Avro record schema JSON for a row
// layout. name must be a valid Avro record name.
func AvroSchema(name string, schema RowSchema, numSortKeys int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `{"type":"record","name":%q,"fields":[`, name)
	for i, col := range schema.All() {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"name":%q,"type":%s}`, col.Name, avroFieldType(col, numSortKeys))
	}
	b.WriteString("]}")
	return b.String()
}
