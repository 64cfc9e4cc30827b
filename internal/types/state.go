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

package types

import "github.com/sumitjnn/bigquery-delta-plugins/internal/ident"

// Supplementary column names injected into every target table. See
// the GLOSSARY entry for "Supplementary columns".
const (
	ColSequenceNum     = "_sequence_num"
	ColIsDeleted       = "_is_deleted"
	ColRowID           = "_row_id"
	ColSourceTimestamp = "_source_timestamp"
	ColSort            = "_sort"
	ColOp              = "_op"
	ColBatchID         = "_batch_id"
	// BeforePKPrefix prefixes the pre-image column name for a primary
	// key column, e.g. "_before_id".
	BeforePKPrefix = "_before_"
)

// SortKeyColumn returns the name of the Nth field within the _sort
// struct column, e.g. "_key_0".
func SortKeyColumn(n int) string {
	const base = "_key_"
	// Avoid importing strconv for a single-digit-dominant case; tables
	// rarely have more than a handful of sort keys.
	digits := []byte(base)
	return string(appendInt(digits, n))
}

func appendInt(dst []byte, n int) []byte {
	if n == 0 {
		return append(dst, '0')
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return append(dst, buf[i:]...)
}

// TargetTableState is the per-table metadata bookkept across the life
// of the pipeline: the table's primary key, its sort-key types when
// the source is unordered, and whether the _sort column has been
// materialized in the target yet.
type TargetTableState struct {
	PrimaryKeys          []string
	SortKeyTypes         []ColumnType
	SortKeyAddedToTarget bool
}

// Validate enforces the "no PK -> fatal" invariant from spec §3/§8.
func (s *TargetTableState) Validate() error {
	if len(s.PrimaryKeys) == 0 {
		return NewFatal("table has no primary key columns")
	}
	return nil
}

// BlobType distinguishes a snapshot (initial-copy) blob, which loads
// directly to target, from a streaming blob, which always goes
// through staging + merge.
type BlobType int

// The two blob kinds.
const (
	Streaming BlobType = iota
	Snapshot
)

func (t BlobType) String() string {
	if t == Snapshot {
		return "Snapshot"
	}
	return "Streaming"
}

// BlobFormat is the on-disk encoding of a blob-store object.
type BlobFormat int

// The two supported blob encodings.
const (
	FormatAvro BlobFormat = iota
	FormatJSON
)

func (f BlobFormat) String() string {
	if f == FormatJSON {
		return "JSON"
	}
	return "Avro"
}

// BatchShard accumulates the events destined for a single blob-store
// object: one table, one schema version, one batch.
type BatchShard struct {
	Table             ident.Table
	SchemaFingerprint uint64
	BatchID           int64
	BlobType          BlobType
	SourceSchema      []ColumnSchema
	Events            []DMLEvent
}

// TableBlob is the descriptor handed from the blob writer up through
// the batch writer to the load stage.
type TableBlob struct {
	Table            ident.Table
	SourceSchemaName string
	BatchID          int64
	BlobType         BlobType
	BlobHandle       string
	StagingSchema    []ColumnSchema
	TargetSchema     []ColumnSchema
	NumEvents        int
	Format           BlobFormat
}
