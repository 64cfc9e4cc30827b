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

package blob

import "github.com/sumitjnn/bigquery-delta-plugins/internal/types"

// BuildRow flattens one DML event into the row layout described by
// schema, per §4.3: the source column values from After (or nil on
// Delete), plus the bookkeeping columns.
func BuildRow(
	event types.DMLEvent,
	batchID int64,
	schema RowSchema,
	primaryKeys []string,
	rowIDSupported bool,
	ordering types.SourceOrdering,
) map[string]any {
	row := make(map[string]any, len(schema.All()))

	for _, col := range schema.Source {
		if event.Operation == types.Delete {
			row[col.Name] = nil
			continue
		}
		row[col.Name] = event.After[col.Name]
	}

	row[types.ColOp] = event.Operation.String()
	row[types.ColBatchID] = batchID
	row[types.ColSequenceNum] = event.SequenceNumber

	if !rowIDSupported {
		for _, pk := range primaryKeys {
			colName := types.BeforePKPrefix + pk
			if event.Operation == types.Update && event.Before != nil {
				row[colName] = event.Before[pk]
			} else if event.Operation == types.Delete {
				row[colName] = event.After[pk]
			} else {
				row[colName] = nil
			}
		}
	} else {
		if event.HasRowID() {
			row[types.ColRowID] = event.RowID
		} else {
			row[types.ColRowID] = nil
		}
	}

	if ordering == types.Unordered {
		if event.SourceTimestamp != 0 {
			row[types.ColSourceTimestamp] = event.SourceTimestamp
		} else {
			row[types.ColSourceTimestamp] = nil
		}
		if _, ok := schema.lookup(types.ColSort); ok {
			if event.HasSortKeys() {
				row[types.ColSort] = sortKeyStruct(event.SortKeys)
			} else {
				row[types.ColSort] = nil
			}
		}
	}

	return row
}

func (s RowSchema) lookup(name string) (types.ColumnSchema, bool) {
	for _, c := range s.Bookkeeping {
		if c.Name == name {
			return c, true
		}
	}
	return types.ColumnSchema{}, false
}

func sortKeyStruct(keys []any) map[string]any {
	out := make(map[string]any, len(keys))
	for i, k := range keys {
		out[types.SortKeyColumn(i)] = k
	}
	return out
}
