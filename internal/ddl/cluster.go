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

package ddl

import "github.com/sumitjnn/bigquery-delta-plugins/internal/types"

// clusteringColumns picks up to maxCols primary key columns, in
// declaration order, whose type BigQuery allows in a clustering
// column list. BigQuery rejects FLOAT64, STRUCT, ARRAY and GEOGRAPHY
// as cluster columns; ColumnType.ClusterEligible encodes that
// restriction so this stays in one place rather than scattered across
// callers.
func clusteringColumns(schema []types.ColumnSchema, primaryKeys []string, maxCols int) []string {
	colTypes := make(map[string]types.ColumnType, len(schema))
	for _, col := range schema {
		colTypes[col.Name] = col.Type
	}

	cols := make([]string, 0, maxCols)
	for _, pk := range primaryKeys {
		if len(cols) >= maxCols {
			break
		}
		if t, ok := colTypes[pk]; ok && t.ClusterEligible() {
			cols = append(cols, pk)
		}
	}
	return cols
}
