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

// Package batch implements the C3 Batch Writer: accepting per-event
// appends, sharding by (TableId, schemaFingerprint), and, on flush,
// handing each shard to the blob writer (C2) and collecting the
// resulting descriptors, per spec §4.3.
package batch

import (
	"hash/fnv"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// Fingerprint computes the schema-version identity described in the
// GLOSSARY: an FNV-1a hash of each column's name, type and
// nullability, in declaration order. A schema change (including a
// nullability change) therefore always ends the current shard, since the
// next append resolves to a different fingerprint and allocates a
// fresh one.
func Fingerprint(schema []types.ColumnSchema) uint64 {
	h := fnv.New64a()
	for _, col := range schema {
		_, _ = h.Write([]byte(col.Name))
		_, _ = h.Write([]byte{byte(col.Type)})
		if col.Nullable {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	}
	return h.Sum64()
}

// shardKey identifies one open shard.
type shardKey struct {
	table       ident.Table
	fingerprint uint64
}
