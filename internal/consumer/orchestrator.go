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

// Package consumer implements the C8 Consumer Orchestrator: the
// single-writer state machine that receives DDL/DML events from the
// host, drives the batch writer, DDL applier, load stage and merge
// engine, and commits the offset once a flush cycle has fully
// succeeded, per spec §4.1/§5.
package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/batch"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/blob"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ddl"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/load"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/merge"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/obs"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/retry"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/state"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// Deps bundles the already-constructed lower-level components the
// Orchestrator wires together. BlobWriter and DDLConfig are handed to
// the Orchestrator rather than a prebuilt batch.Buffer/ddl.Applier
// because both of those need a reference back to the Orchestrator
// itself (TableMeta and the pre-DDL flush callback, respectively).
type Deps struct {
	Host      types.Host
	Store     types.StateStore
	Warehouse types.Warehouse
	Retry     *retry.Coordinator
	Stager    *load.Stager
	Merger    *merge.Engine

	BlobWriter *blob.Writer
	DDLConfig  ddl.Config
}

// Config holds the fixed tunables the Orchestrator needs at
// construction, mirrored from internal/config.Config.
type Config struct {
	Project                 string
	LoadInterval             time.Duration
	MaxConcurrentBlobWrites  int
	MaxConcurrentTablesFlush int
	MaxRetrySeconds          int
	SourceProperties         types.SourceProperties
}

// Orchestrator is the single writer over every other component;
// ApplyDDL, ApplyDML and Flush take the orchestrator mutex for their
// full duration, per §5's "mutex-guarded single writer" design. Start
// takes it only around its field updates, Stop only through its final
// Flush, and Lookup and StateStore not at all.
type Orchestrator struct {
	mu sync.Mutex

	host      types.Host
	store     types.StateStore
	warehouse types.Warehouse
	retryC    *retry.Coordinator
	stager    *load.Stager
	merger    *merge.Engine
	batch     *batch.Buffer
	ddlApply  *ddl.Applier

	project         string
	loadInterval    time.Duration
	maxTablesFlush  int
	maxRetrySeconds int
	props           types.SourceProperties

	tableStates   map[ident.Table]*types.TargetTableState
	sourceSchemas map[ident.Table][]types.ColumnSchema
	latestSeen    map[ident.Table]int64
	latestMerged  map[ident.Table]int64

	pendingOffset []byte
	pendingSeq    int64

	// flushErr latches the first fatal error seen by ApplyDDL,
	// ApplyDML or a scheduled Flush; once set it is re-thrown by every
	// subsequent public entry point until the process restarts (§7).
	flushErr error

	ticker        *time.Ticker
	tickerDone    chan struct{}
	tickerStopped chan struct{}
}

// New builds an Orchestrator, wiring its own TableMeta/flush-callback
// references into the batch writer and DDL applier it owns.
func New(deps Deps, cfg Config) *Orchestrator {
	maxTables := cfg.MaxConcurrentTablesFlush
	if maxTables <= 0 {
		maxTables = 1
	}

	o := &Orchestrator{
		host:            deps.Host,
		store:           deps.Store,
		warehouse:       deps.Warehouse,
		retryC:          deps.Retry,
		stager:          deps.Stager,
		merger:          deps.Merger,
		project:         cfg.Project,
		loadInterval:    cfg.LoadInterval,
		maxTablesFlush:  maxTables,
		maxRetrySeconds: cfg.MaxRetrySeconds,
		props:           cfg.SourceProperties,
		tableStates:     make(map[ident.Table]*types.TargetTableState),
		sourceSchemas:   make(map[ident.Table][]types.ColumnSchema),
		latestSeen:      make(map[ident.Table]int64),
		latestMerged:    make(map[ident.Table]int64),
	}

	rw := &retryingBlobWriter{inner: deps.BlobWriter, retry: deps.Retry}
	o.batch = batch.New(rw, o, cfg.MaxConcurrentBlobWrites)
	o.ddlApply = ddl.New(deps.Warehouse, deps.Store, deps.Retry, deps.DDLConfig, o.flushLocked)
	return o
}

// Start recovers the committed offset and per-table state, tells the
// host where to resume, and begins the scheduled flush ticker (§4.1,
// §3 "Lifecycle").
func (o *Orchestrator) Start(ctx context.Context) error {
	offset, seq, err := o.store.GetOffset(ctx)
	if err != nil {
		return errors.Wrap(err, "loading committed offset at startup")
	}

	o.mu.Lock()
	o.pendingOffset = offset
	o.pendingSeq = seq
	o.mu.Unlock()

	if err := o.host.InitializeSequenceNumber(ctx, seq); err != nil {
		return errors.Wrap(err, "initializing host sequence number")
	}

	if tables, err := o.host.GetAllTables(ctx); err != nil {
		log.WithError(err).Warn("listing known tables at startup; per-table state will be reseeded lazily")
	} else {
		for _, table := range tables {
			tts, ok, err := state.LoadTargetTableState(ctx, o.store, table)
			if err != nil {
				log.WithFields(log.Fields{"table": table}).WithError(err).Warn("loading cached table state at startup")
				continue
			}
			if ok {
				o.mu.Lock()
				o.tableStates[table] = tts
				o.mu.Unlock()
			}
		}
	}

	o.ticker = time.NewTicker(o.loadInterval)
	o.tickerDone = make(chan struct{})
	o.tickerStopped = make(chan struct{})
	go o.runTicker(ctx)
	return nil
}

func (o *Orchestrator) runTicker(ctx context.Context) {
	defer close(o.tickerStopped)
	for {
		select {
		case <-o.ticker.C:
			if err := o.Flush(ctx); err != nil {
				log.WithError(err).Error("scheduled flush failed")
			}
		case <-o.tickerDone:
			return
		}
	}
}

// Stop halts the scheduled ticker and runs one final flush so that no
// buffered work is lost, per §4.1's shutdown contract.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.ticker != nil {
		o.ticker.Stop()
		close(o.tickerDone)
		<-o.tickerStopped
	}
	return o.Flush(ctx)
}

// ApplyDDL dispatches a DDL event to C4, updates the in-memory
// PK/schema caches, reports the table's snapshot/replicate status to
// the host, and advances the pending offset, per §4.1/§4.4.
func (o *Orchestrator) ApplyDDL(ctx context.Context, event types.DDLEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.flushErr != nil {
		return o.flushErr
	}

	table := event.TableID(o.project)

	if err := o.ddlApply.Apply(ctx, o.project, event); err != nil {
		if f, ok := types.IsFatal(err); ok {
			o.flushErr = f
			o.host.SetTableError(ctx, table, f)
		}
		return err
	}
	obs.DDLOpsTotal.WithLabelValues(table.Dataset, table.Table, event.Operation.String()).Inc()

	switch event.Operation {
	case types.CreateTable, types.AlterTable:
		o.sourceSchemas[table] = event.Schema
		ts, ok := o.tableStates[table]
		if !ok {
			ts = &types.TargetTableState{}
			o.tableStates[table] = ts
		}
		ts.PrimaryKeys = ident.NormalizeColumns(event.PrimaryKey)
	case types.DropTable:
		o.forgetTable(table)
	case types.DropDatabase:
		for t := range o.tableStates {
			if t.Project == table.Project && t.Dataset == table.Dataset {
				o.forgetTable(t)
			}
		}
	}

	if event.Snapshot {
		o.host.SetTableSnapshotting(ctx, table)
	} else {
		o.host.SetTableReplicating(ctx, table)
	}

	o.recordProgress(event.Offset, event.SequenceNumber)
	return nil
}

func (o *Orchestrator) forgetTable(table ident.Table) {
	delete(o.tableStates, table)
	delete(o.sourceSchemas, table)
	delete(o.latestSeen, table)
	delete(o.latestMerged, table)
}

// ApplyDML appends the event to the batch writer when it is ahead of
// the table's latestMerged watermark, seeding that watermark from the
// warehouse on the first sighting of the table (§4.1, §3 "Sequence
// counters"). Events at or behind the watermark are a replay and are
// silently dropped (§8 "Replay safety").
func (o *Orchestrator) ApplyDML(ctx context.Context, event types.DMLEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.flushErr != nil {
		return o.flushErr
	}

	table := event.TableID(o.project)

	ts, ok := o.tableStates[table]
	if !ok || len(ts.PrimaryKeys) == 0 {
		err := types.WrapFatal(
			errors.New("DML received before a CreateTable/AlterTable event established primary keys"),
			"ApplyDML", table.String())
		o.flushErr = err
		o.host.SetTableError(ctx, table, err)
		return err
	}

	if _, seeded := o.latestMerged[table]; !seeded {
		seq, err := o.warehouse.MaxSequence(ctx, table)
		if err != nil {
			return errors.Wrapf(err, "seeding latestMerged for %s", table)
		}
		o.latestMerged[table] = seq
	}

	if o.props.Ordering == types.Unordered && len(ts.SortKeyTypes) == 0 && event.HasSortKeys() {
		ts.SortKeyTypes = inferSortKeyTypes(event.SortKeys)
		if err := state.SaveTargetTableState(ctx, o.store, table, ts); err != nil {
			return err
		}
	}

	if event.SequenceNumber > o.latestMerged[table] {
		blobType := types.Streaming
		if event.Snapshot {
			blobType = types.Snapshot
		}
		o.batch.Append(table, o.sourceSchemas[table], blobType, event)
		if event.SequenceNumber > o.latestSeen[table] {
			o.latestSeen[table] = event.SequenceNumber
		}
	}

	o.host.IncrementCount(ctx, event.Operation)
	o.recordProgress(event.Offset, event.SequenceNumber)
	return nil
}

// recordProgress advances the pending offset/sequence pair committed
// at the end of the next successful flush. It is monotonic: an
// out-of-order or replayed event never regresses it.
func (o *Orchestrator) recordProgress(offset []byte, seq int64) {
	if seq >= o.pendingSeq {
		o.pendingOffset = offset
		o.pendingSeq = seq
	}
}

// StateStore exposes the state store this Orchestrator was built
// with, for callers (e.g. a Host implementation) that need to share
// the same backing store outside the core's own boundary interfaces.
func (o *Orchestrator) StateStore() types.StateStore {
	return o.store
}

// Lookup implements batch.TableMeta. It is only ever called from
// within a Flush cycle that this Orchestrator's own mutex already
// serializes against concurrent ApplyDDL/ApplyDML/Flush calls, so no
// additional locking is needed here.
func (o *Orchestrator) Lookup(table ident.Table) (primaryKeys []string, rowIDSupported bool, ordering types.SourceOrdering, numSortKeys int) {
	if ts, ok := o.tableStates[table]; ok {
		primaryKeys = ts.PrimaryKeys
		numSortKeys = len(ts.SortKeyTypes)
	}
	return primaryKeys, o.props.RowIDSupported, o.props.Ordering, numSortKeys
}

// inferSortKeyTypes derives a ColumnType for each sort key value seen
// on the first DML event carrying them for an unordered table (§4.1).
func inferSortKeyTypes(keys []any) []types.ColumnType {
	out := make([]types.ColumnType, len(keys))
	for i, k := range keys {
		switch k.(type) {
		case bool:
			out[i] = types.TypeBool
		case int, int32, int64:
			out[i] = types.TypeInt64
		case float32, float64:
			out[i] = types.TypeFloat64
		case []byte:
			out[i] = types.TypeBytes
		case time.Time:
			out[i] = types.TypeTimestamp
		default:
			out[i] = types.TypeString
		}
	}
	return out
}

// retryingBlobWriter adapts a *blob.Writer into the retry-wrapped
// blobWriter interface batch.Buffer expects, applying
// retry.BlobWriterPolicy() (§4.7) around each shard write.
type retryingBlobWriter struct {
	inner *blob.Writer
	retry *retry.Coordinator
}

func (w *retryingBlobWriter) WriteShard(
	ctx context.Context,
	shard *types.BatchShard,
	primaryKeys []string,
	rowIDSupported bool,
	ordering types.SourceOrdering,
	numSortKeys int,
) (*types.TableBlob, error) {
	var tb *types.TableBlob
	err := w.retry.Do(ctx, retry.BlobWriterPolicy(), "WriteBlob", shard.Table, func(ctx context.Context, _ int) error {
		start := time.Now()
		var writeErr error
		tb, writeErr = w.inner.WriteShard(ctx, shard, primaryKeys, rowIDSupported, ordering, numSortKeys)
		labels := []string{shard.Table.Project, shard.Table.Dataset, shard.Table.Table}
		if writeErr != nil {
			obs.BlobWriteErrorsTotal.WithLabelValues(labels...).Inc()
			return writeErr
		}
		obs.BlobWritesTotal.WithLabelValues(labels...).Inc()
		obs.BlobWriteDurations.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		return nil
	})
	return tb, err
}
