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

// Package consumertest assembles in-memory fakes for every boundary
// interface in internal/types, composed the way internal/sinktest
// composes a base fixture for cdc-sink's own resolver tests: embed
// the shared fakes once, then build the component under test on top
// of them.
package consumertest

import (
	"context"
	"sync"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// Warehouse is an in-memory types.Warehouse. It tracks table schemas
// and dataset existence and records every job it was asked to run,
// but it does not interpret the SQL text C6 submits: only the
// warehouse adapter in internal/warehouse exercises that, against a
// live BigQuery project.
type Warehouse struct {
	mu sync.Mutex

	datasets map[string]bool
	tables   map[string]*types.TableInfo
	sequence map[string]int64

	// jobs maps a deterministic job id to whether it is known to have
	// failed, letting tests exercise the retry-by-attempt scan in
	// internal/load without a real warehouse.
	jobs map[string]bool

	// QueryJobs/LoadJobs record every job this fake was asked to run,
	// in submission order, for assertions on what the pipeline did.
	QueryJobs []types.QueryJobSpec
	LoadJobs  []types.LoadJobSpec

	// FailNextQuery, if set, is returned as the terminal error of the
	// next SubmitQueryJob's WaitForJob instead of success, then reset.
	FailNextQuery error
}

var _ types.Warehouse = (*Warehouse)(nil)

// NewWarehouse builds an empty Warehouse fake.
func NewWarehouse() *Warehouse {
	return &Warehouse{
		datasets: make(map[string]bool),
		tables:   make(map[string]*types.TableInfo),
		sequence: make(map[string]int64),
		jobs:     make(map[string]bool),
	}
}

func datasetKey(project, dataset string) string { return project + "." + dataset }

func (w *Warehouse) CreateDataset(_ context.Context, project, dataset, _ string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.datasets[datasetKey(project, dataset)] = true
	return nil
}

func (w *Warehouse) DropDataset(_ context.Context, project, dataset string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.datasets, datasetKey(project, dataset))
	return nil
}

func (w *Warehouse) CreateTable(_ context.Context, info types.TableInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := info
	w.tables[info.Table.String()] = &cp
	return nil
}

func (w *Warehouse) UpdateTable(_ context.Context, info types.TableInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := info
	w.tables[info.Table.String()] = &cp
	return nil
}

func (w *Warehouse) DeleteTable(_ context.Context, table ident.Table) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tables, table.String())
	return nil
}

func (w *Warehouse) GetTable(_ context.Context, table ident.Table) (*types.TableInfo, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, ok := w.tables[table.String()]
	if !ok {
		return nil, false, nil
	}
	cp := *info
	return &cp, true, nil
}

// SetMaxSequence seeds the MAX(_sequence_num) a subsequent ApplyDML
// will observe for table, as if earlier batches had already been
// merged before this process started (the "cross-crash replay"
// scenario).
func (w *Warehouse) SetMaxSequence(table ident.Table, seq int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sequence[table.String()] = seq
}

func (w *Warehouse) MaxSequence(_ context.Context, table ident.Table) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sequence[table.String()], nil
}

func (w *Warehouse) SubmitLoadJob(_ context.Context, spec types.LoadJobSpec) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.LoadJobs = append(w.LoadJobs, spec)
	w.jobs[spec.JobID] = false
	return nil
}

func (w *Warehouse) SubmitQueryJob(_ context.Context, spec types.QueryJobSpec) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.QueryJobs = append(w.QueryJobs, spec)
	w.jobs[spec.JobID] = w.FailNextQuery != nil
	return nil
}

func (w *Warehouse) WaitForJob(_ context.Context, jobID string) (types.JobStatus, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FailNextQuery != nil {
		err := w.FailNextQuery
		w.FailNextQuery = nil
		return types.JobStatus{Done: true, Err: err}, nil
	}
	return types.JobStatus{Done: true}, nil
}

func (w *Warehouse) FindJob(_ context.Context, jobID string) (found bool, failed bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	failed, found = w.jobs[jobID]
	return found, failed, nil
}

// BlobStore is an in-memory types.BlobStore.
type BlobStore struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte

	// Written records every object path written, in order, for
	// assertions on what the batch writer produced.
	Written []string
}

var _ types.BlobStore = (*BlobStore)(nil)

// NewBlobStore builds an empty BlobStore fake.
func NewBlobStore() *BlobStore {
	return &BlobStore{buckets: make(map[string]bool), objects: make(map[string][]byte)}
}

func (b *BlobStore) EnsureBucket(_ context.Context, bucket, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buckets[bucket] = true
	return nil
}

func (b *BlobStore) WriteObject(_ context.Context, bucket, path string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bucket + "/" + path
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[key] = cp
	b.Written = append(b.Written, key)
	return nil
}

func (b *BlobStore) ReadObject(_ context.Context, bucket, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[bucket+"/"+path], nil
}

func (b *BlobStore) DeleteObject(_ context.Context, bucket, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, bucket+"/"+path)
	return nil
}

// Host is an in-memory types.Host recording the calls a production
// plugin-host runtime would otherwise receive.
type Host struct {
	mu sync.Mutex

	store types.StateStore

	props           types.SourceProperties
	maxRetrySeconds int

	CommittedOffset         []byte
	CommittedSequenceNumber int64
	CommitCount             int
	Counts                  map[types.DMLOperation]int64
	Errored                 map[string]error
	Tables                  map[string]ident.Table
}

var _ types.Host = (*Host)(nil)

// NewHost builds a Host fake backed by store, which may be a
// *state.MemStore shared with the Orchestrator under test or a
// separate one when the test wants the two boundaries to diverge.
func NewHost(store types.StateStore, props types.SourceProperties) *Host {
	return &Host{
		store:           store,
		props:           props,
		maxRetrySeconds: 30,
		Counts:          make(map[types.DMLOperation]int64),
		Errored:         make(map[string]error),
		Tables:          make(map[string]ident.Table),
	}
}

func (h *Host) CommitOffset(_ context.Context, offset []byte, seq int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CommittedOffset = offset
	h.CommittedSequenceNumber = seq
	h.CommitCount++
	return nil
}

func (h *Host) InitializeSequenceNumber(context.Context, int64) error { return nil }

func (h *Host) IncrementCount(_ context.Context, op types.DMLOperation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Counts[op]++
}

func (h *Host) SetTableSnapshotting(_ context.Context, table ident.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Tables[table.String()] = table
}

func (h *Host) SetTableReplicating(_ context.Context, table ident.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Tables[table.String()] = table
}

func (h *Host) SetTableError(_ context.Context, table ident.Table, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Errored[table.String()] = err
}

func (h *Host) GetState(ctx context.Context, key string) ([]byte, error) {
	raw, _, err := h.store.Get(ctx, "host-"+key)
	return raw, err
}

func (h *Host) PutState(ctx context.Context, key string, value []byte) error {
	return h.store.Put(ctx, "host-"+key, value)
}

func (h *Host) GetAllTables(context.Context) ([]ident.Table, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ident.Table, 0, len(h.Tables))
	for _, t := range h.Tables {
		out = append(out, t)
	}
	return out, nil
}

func (h *Host) GetRuntimeArguments(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (h *Host) GetSourceProperties(context.Context) (types.SourceProperties, error) {
	return h.props, nil
}

func (h *Host) GetMaxRetrySeconds(context.Context) int { return h.maxRetrySeconds }

func (h *Host) GetApplicationName(context.Context) string { return "consumertest" }
