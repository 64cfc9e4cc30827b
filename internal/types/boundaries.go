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

import (
	"context"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
)

// StateStore is the C1 boundary: a thin key-to-bytes mapping plus an
// atomic offset commit. No ordering or transactional guarantees
// across keys are assumed.
type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error

	// CommitOffset atomically advances the committed offset/sequence
	// pair. Implementations must not apply a call whose sequence
	// number does not exceed the currently committed one, preserving
	// the "Monotonic commit" invariant even under concurrent or
	// re-ordered callers. MemStore returns an error for such a call;
	// BigQueryStore leaves the stored pair unchanged and returns nil.
	CommitOffset(ctx context.Context, offset []byte, sequenceNumber int64) error

	// GetOffset returns the last committed offset and sequence
	// number. A nil offset with sequence 0 means nothing has ever
	// been committed.
	GetOffset(ctx context.Context) (offset []byte, sequenceNumber int64, err error)
}

// BlobStore is the C2 boundary onto the object store.
type BlobStore interface {
	EnsureBucket(ctx context.Context, bucket, location string) error
	WriteObject(ctx context.Context, bucket, path string, data []byte) error
	ReadObject(ctx context.Context, bucket, path string) ([]byte, error)
	// DeleteObject removes a blob. Failures are best-effort from the
	// caller's perspective (§4.5, §7): this method still returns an
	// error so the caller can decide whether to log it.
	DeleteObject(ctx context.Context, bucket, path string) error
}

// LoadJobSpec describes a request to load a blob-store object into a
// warehouse table.
type LoadJobSpec struct {
	JobID          string
	SourceURI      string
	DestTable      ident.Table
	Schema         []ColumnSchema
	Format         BlobFormat
	AllowFieldAddition bool
	WriteAppend    bool
}

// QueryJobSpec describes a request to execute an arbitrary SQL
// statement, used for the merge query and for DDL that the BigQuery
// API does not expose as a typed operation.
type QueryJobSpec struct {
	JobID string
	SQL   string
}

// JobStatus is the terminal state of a submitted warehouse job.
type JobStatus struct {
	Done       bool
	Err        error
	Retriable  bool
}

// TableInfo is the augmented schema + clustering definition the DDL
// applier derives from a DDLEvent.
type TableInfo struct {
	Table       ident.Table
	Schema      []ColumnSchema // includes supplementary columns
	Clustering  []string       // ordered column names, len <= maxClusteringColumns
}

// Warehouse is the C4/C5/C6 boundary onto the analytical warehouse.
type Warehouse interface {
	CreateDataset(ctx context.Context, project, dataset, location string) error
	DropDataset(ctx context.Context, project, dataset string) error

	CreateTable(ctx context.Context, info TableInfo) error
	UpdateTable(ctx context.Context, info TableInfo) error
	DeleteTable(ctx context.Context, table ident.Table) error
	GetTable(ctx context.Context, table ident.Table) (*TableInfo, bool, error)

	// MaxSequence returns MAX(_sequence_num) for the table, or 0 if
	// the table is absent or empty. Used to seed latestMerged on
	// startup (§3 Sequence counters).
	MaxSequence(ctx context.Context, table ident.Table) (int64, error)

	SubmitLoadJob(ctx context.Context, spec LoadJobSpec) error
	SubmitQueryJob(ctx context.Context, spec QueryJobSpec) error
	WaitForJob(ctx context.Context, jobID string) (JobStatus, error)

	// FindJob looks for a previously submitted job by its
	// deterministic id, used by the retry-by-attempt scan in §4.5.
	FindJob(ctx context.Context, jobID string) (found bool, failed bool, err error)
}

// TableErrorSink records per-table error state for operator
// visibility (§4.7, §7). Failures recording an error are themselves
// best-effort and must never be treated as fatal by the caller.
type TableErrorSink interface {
	RecordError(ctx context.Context, table ident.Table, err error)
	ClearError(ctx context.Context, table ident.Table)
}

// SourceProperties describes the ordering and row-id guarantees the
// upstream producer makes, per §6.
type SourceProperties struct {
	Ordering       SourceOrdering
	RowIDSupported bool
}

// Host is the "core -> host context" boundary described in spec §6.
// It is implemented by the plugin-host runtime in production and by
// fakes in tests.
type Host interface {
	CommitOffset(ctx context.Context, offset []byte, sequenceNumber int64) error
	InitializeSequenceNumber(ctx context.Context, n int64) error
	IncrementCount(ctx context.Context, op DMLOperation)

	SetTableSnapshotting(ctx context.Context, table ident.Table)
	SetTableReplicating(ctx context.Context, table ident.Table)
	SetTableError(ctx context.Context, table ident.Table, err error)

	GetState(ctx context.Context, key string) ([]byte, error)
	PutState(ctx context.Context, key string, value []byte) error

	GetAllTables(ctx context.Context) ([]ident.Table, error)
	GetRuntimeArguments(ctx context.Context) (map[string]string, error)
	GetSourceProperties(ctx context.Context) (SourceProperties, error)
	GetMaxRetrySeconds(ctx context.Context) int
	GetApplicationName(ctx context.Context) string
}
