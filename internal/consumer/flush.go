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

package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/merge"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/obs"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/retry"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/state"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// Flush takes the orchestrator mutex and runs one full flush cycle:
// close every open batch shard, load each resulting blob (directly
// for snapshots, via staging+merge for streaming blobs), and commit
// the offset once every table has succeeded (§4.1, §4.3-§4.6).
func (o *Orchestrator) Flush(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flushLocked(ctx)
}

// flushLocked is the flush cycle body, callable both from Flush (which
// holds the lock itself) and from the DDL applier's pre-DDL flush
// callback (which runs while ApplyDDL already holds the lock).
func (o *Orchestrator) flushLocked(ctx context.Context) error {
	if o.flushErr != nil {
		return o.flushErr
	}

	start := time.Now()
	err := o.runFlushCycle(ctx)
	obs.FlushDurations.Observe(time.Since(start).Seconds())
	if err != nil {
		obs.FlushErrorsTotal.Inc()
		if f, ok := types.IsFatal(err); ok {
			o.flushErr = f
		}
	}
	return err
}

func (o *Orchestrator) runFlushCycle(ctx context.Context) error {
	result, err := o.batch.Flush(ctx)
	if err != nil {
		return err
	}
	if len(result.Snapshot) == 0 && len(result.Streaming) == 0 {
		return o.commitLocked(ctx)
	}

	var (
		resultsMu sync.Mutex
		wg        sync.WaitGroup
		firstErr  error
	)
	sem := make(chan struct{}, o.maxTablesFlush)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fail := func(err error) {
		resultsMu.Lock()
		defer resultsMu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for _, b := range result.Snapshot {
		b := b
		select {
		case <-runCtx.Done():
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			select {
			case <-runCtx.Done():
				return
			default:
			}
			if err := o.loadDirect(runCtx, b); err != nil {
				fail(err)
			}
		}()
	}

	for _, b := range result.Streaming {
		b := b
		select {
		case <-runCtx.Done():
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			select {
			case <-runCtx.Done():
				return
			default:
			}
			if err := o.loadAndMerge(runCtx, b, &resultsMu); err != nil {
				fail(err)
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return o.commitLocked(ctx)
}

// loadDirect runs the §4.5 "direct load" path for a snapshot blob:
// load straight into the target table, no staging, no merge.
func (o *Orchestrator) loadDirect(ctx context.Context, blob *types.TableBlob) error {
	policy := retry.LoadMergePolicy(10*time.Second, o.loadInterval, o.maxRetrySeconds)
	if err := o.retryC.Do(ctx, policy, "LoadDirect", blob.Table, func(ctx context.Context, attempt int) error {
		return o.stager.LoadDirect(ctx, blob, attempt)
	}); err != nil {
		return err
	}
	o.stager.DeleteBlobBestEffort(ctx, blob)
	obs.LoadJobsTotal.WithLabelValues(blob.Table.Project, blob.Table.Dataset, blob.Table.Table, types.Snapshot.String()).Inc()
	return nil
}

// loadAndMerge runs the staging-load + merge path for a streaming
// blob (§4.5, §4.6), then advances latestMerged and persists a newly
// added _sort column if the merge reported one.
func (o *Orchestrator) loadAndMerge(ctx context.Context, blob *types.TableBlob, mu *sync.Mutex) error {
	policy := retry.LoadMergePolicy(10*time.Second, o.loadInterval, o.maxRetrySeconds)

	loadStart := time.Now()
	if err := o.retryC.Do(ctx, policy, "LoadStreaming", blob.Table, func(ctx context.Context, attempt int) error {
		return o.stager.LoadStreaming(ctx, blob, attempt)
	}); err != nil {
		return err
	}
	obs.LoadJobsTotal.WithLabelValues(blob.Table.Project, blob.Table.Dataset, blob.Table.Table, types.Streaming.String()).Inc()
	obs.LoadJobDurations.WithLabelValues(blob.Table.Project, blob.Table.Dataset, blob.Table.Table).Observe(time.Since(loadStart).Seconds())

	mu.Lock()
	ts := o.tableStates[blob.Table]
	var req merge.Request
	if ts != nil {
		req = merge.Request{
			Table:          blob.Table,
			BatchID:        blob.BatchID,
			LatestMerged:   o.latestMerged[blob.Table],
			PrimaryKeys:    ts.PrimaryKeys,
			RowIDSupported: o.props.RowIDSupported,
			Ordering:       o.props.Ordering,
			NumSortKeys:    len(ts.SortKeyTypes),
			SourceColumns:  columnNames(o.sourceSchemas[blob.Table]),
		}
	}
	mu.Unlock()
	if ts == nil {
		return types.NewFatal("missing table state for " + blob.Table.String() + " during merge")
	}

	mergeStart := time.Now()
	var sortAdded bool
	err := o.retryC.Do(ctx, policy, "Merge", blob.Table, func(ctx context.Context, attempt int) error {
		jobID, reused, err := o.stager.ResolveMergeJobID(ctx, blob.Table, blob.BatchID, attempt)
		if err != nil {
			return err
		}
		if reused {
			return o.merger.Wait(ctx, jobID)
		}
		added, err := o.merger.Merge(ctx, jobID, req)
		if err != nil {
			return err
		}
		sortAdded = added
		return nil
	})
	if err != nil {
		return err
	}
	obs.MergeJobsTotal.WithLabelValues(blob.Table.Project, blob.Table.Dataset, blob.Table.Table).Inc()
	obs.MergeJobDurations.WithLabelValues(blob.Table.Project, blob.Table.Dataset, blob.Table.Table).Observe(time.Since(mergeStart).Seconds())
	obs.MergeRowsAppliedTotal.WithLabelValues(blob.Table.Project, blob.Table.Dataset, blob.Table.Table).Add(float64(blob.NumEvents))

	mu.Lock()
	if sortAdded {
		ts.SortKeyAddedToTarget = true
	}
	if seen := o.latestSeen[blob.Table]; seen > o.latestMerged[blob.Table] {
		o.latestMerged[blob.Table] = seen
	}
	mu.Unlock()

	if sortAdded {
		if err := state.SaveTargetTableState(ctx, o.store, blob.Table, ts); err != nil {
			return err
		}
	}

	o.stager.Cleanup(ctx, blob)
	return nil
}

func columnNames(schema []types.ColumnSchema) []string {
	names := make([]string, len(schema))
	for i, c := range schema {
		names[i] = c.Name
	}
	return names
}

// commitLocked commits the pending offset to both the internal state
// store (for warm-restart recovery) and the host (the upstream
// producer's durability contract), per §4.1/§4.2/§4.7's unbounded
// commit-retry policy.
func (o *Orchestrator) commitLocked(ctx context.Context) error {
	policy := retry.CommitPolicy()
	var noTable ident.Table // offset commits are not table-scoped

	if err := o.retryC.Do(ctx, policy, "CommitOffset", noTable, func(ctx context.Context, _ int) error {
		return o.store.CommitOffset(ctx, o.pendingOffset, o.pendingSeq)
	}); err != nil {
		return err
	}
	if err := o.retryC.Do(ctx, policy, "HostCommitOffset", noTable, func(ctx context.Context, _ int) error {
		return o.host.CommitOffset(ctx, o.pendingOffset, o.pendingSeq)
	}); err != nil {
		return err
	}
	obs.CommittedSequenceNumber.Set(float64(o.pendingSeq))
	return nil
}
