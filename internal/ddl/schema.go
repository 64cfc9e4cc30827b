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

// augmentedSchema appends the supplementary bookkeeping columns (§3)
// to the declared source schema. sortKeyAdded controls whether _sort
// is included; it is false until the merge engine has evolved the
// target (§4.6.3), so CreateTable never emits it speculatively.
// numSortKeys is only consulted when sortKeyAdded is true.
func augmentedSchema(source []types.ColumnSchema, props types.SourceProperties, sortKeyAdded bool, numSortKeys int) []types.ColumnSchema {
	out := make([]types.ColumnSchema, 0, len(source)+5)
	out = append(out, source...)

	out = append(out, types.ColumnSchema{Name: types.ColSequenceNum, Type: types.TypeInt64, Nullable: false})
	out = append(out, types.ColumnSchema{Name: types.ColIsDeleted, Type: types.TypeBool, Nullable: true})

	if props.RowIDSupported {
		out = append(out, types.ColumnSchema{Name: types.ColRowID, Type: types.TypeString, Nullable: true})
	}
	if props.Ordering == types.Unordered {
		out = append(out, types.ColumnSchema{Name: types.ColSourceTimestamp, Type: types.TypeInt64, Nullable: true})
		if sortKeyAdded {
			out = append(out, types.ColumnSchema{
				Name: types.ColSort, Type: types.TypeStruct, Nullable: true,
				StructFields: types.SortStructFields(numSortKeys),
			})
		}
	}
	return out
}
