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

package batch

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// blobWriter is the C2 boundary this package drives; *blob.Writer
// satisfies it.
type blobWriter interface {
	WriteShard(ctx context.Context, shard *types.BatchShard, primaryKeys []string, rowIDSupported bool, ordering types.SourceOrdering, numSortKeys int) (*types.TableBlob, error)
}

// TableMeta supplies the per-table facts the blob writer needs to lay
// out a row (primary key, row-id support, ordering, sort-key arity)
// that the batch writer itself does not track. The consumer
// orchestrator's TargetTableState cache satisfies this.
type TableMeta interface {
	Lookup(table ident.Table) (primaryKeys []string, rowIDSupported bool, ordering types.SourceOrdering, numSortKeys int)
}

// openShard is a shard still accepting appends.
type openShard struct {
	shard types.BatchShard
}

// Buffer is the C3 Batch Writer. One Buffer serves the whole
// pipeline; it is not safe for concurrent Append/Flush calls (the
// orchestrator's single mutex, per spec §5, already serializes them).
type Buffer struct {
	writer        blobWriter
	meta          TableMeta
	maxConcurrent int
	nowMillis     func() int64

	shards map[shardKey]*openShard
}

// New builds a Buffer that hands closed shards to writer, bounding
// concurrent blob writes during Flush to maxConcurrent (§9 "bounded
// worker pool (semaphore-gated)").
func New(writer blobWriter, meta TableMeta, maxConcurrent int) *Buffer {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Buffer{
		writer:        writer,
		meta:          meta,
		maxConcurrent: maxConcurrent,
		nowMillis:     func() int64 { return time.Now().UnixMilli() },
		shards:        make(map[shardKey]*openShard),
	}
}

// Append adds one event to the shard for (table, schema fingerprint),
// allocating a new shard with batchId = now() in milliseconds if none
// is open yet, per §4.3.
func (b *Buffer) Append(table ident.Table, schema []types.ColumnSchema, blobType types.BlobType, event types.DMLEvent) {
	key := shardKey{table: table, fingerprint: Fingerprint(schema)}
	s, ok := b.shards[key]
	if !ok {
		s = &openShard{shard: types.BatchShard{
			Table:             table,
			SchemaFingerprint: key.fingerprint,
			BatchID:           b.nowMillis(),
			BlobType:          blobType,
			SourceSchema:      schema,
		}}
		b.shards[key] = s
	}
	s.shard.Events = append(s.shard.Events, event)
}

// Empty reports whether there is nothing to flush.
func (b *Buffer) Empty() bool {
	return len(b.shards) == 0
}

// Result groups the blobs produced by a Flush by blob type, per
// §4.3: "Snapshots are loaded directly to target (no merge); streaming
// blobs always go through staging+merge."
type Result struct {
	Snapshot  []*types.TableBlob
	Streaming []*types.TableBlob
}

// Flush closes every open shard and writes it to the blob store on a
// bounded worker pool. On the first write failure, in-flight work is
// allowed to finish but no further shards are started, and the error
// is returned for the caller to latch into flushException (§4.3, §7).
func (b *Buffer) Flush(ctx context.Context) (Result, error) {
	shards := make([]*openShard, 0, len(b.shards))
	for _, s := range b.shards {
		shards = append(shards, s)
	}
	b.shards = make(map[shardKey]*openShard)

	if len(shards) == 0 {
		return Result{}, nil
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		blobs    = make([]*types.TableBlob, 0, len(shards))
	)
	sem := make(chan struct{}, b.maxConcurrent)
	flushCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, s := range shards {
		s := s
		select {
		case <-flushCtx.Done():
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-flushCtx.Done():
				return
			default:
			}

			pk, rowIDSupported, ordering, numSortKeys := b.meta.Lookup(s.shard.Table)
			tb, err := b.writer.WriteShard(flushCtx, &s.shard, pk, rowIDSupported, ordering, numSortKeys)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.WithFields(log.Fields{"table": s.shard.Table, "batchId": s.shard.BatchID}).
					WithError(err).Error("blob write failed")
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			blobs = append(blobs, tb)
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return Result{}, firstErr
	}

	var res Result
	for _, tb := range blobs {
		switch tb.BlobType {
		case types.Snapshot:
			res.Snapshot = append(res.Snapshot, tb)
		default:
			res.Streaming = append(res.Streaming, tb)
		}
	}
	return res, nil
}
