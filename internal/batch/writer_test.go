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
	"errors"
	"testing"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

type recordingWriter struct {
	written []*types.BatchShard
	failOn  ident.Table
}

func (w *recordingWriter) WriteShard(_ context.Context, shard *types.BatchShard, _ []string, _ bool, _ types.SourceOrdering, _ int) (*types.TableBlob, error) {
	if shard.Table == w.failOn {
		return nil, errors.New("boom")
	}
	w.written = append(w.written, shard)
	return &types.TableBlob{Table: shard.Table, BatchID: shard.BatchID, BlobType: shard.BlobType, NumEvents: len(shard.Events)}, nil
}

type staticMeta struct{}

func (staticMeta) Lookup(ident.Table) ([]string, bool, types.SourceOrdering, int) {
	return []string{"id"}, false, types.Ordered, 0
}

func table(name string) ident.Table { return ident.NewTable("proj", "ds", name) }

func schema() []types.ColumnSchema {
	return []types.ColumnSchema{{Name: "id", Type: types.TypeInt64}}
}

func TestAppendGroupsEventsIntoOneShardPerTableAndSchema(t *testing.T) {
	w := &recordingWriter{}
	b := New(w, staticMeta{}, 4)

	b.Append(table("orders"), schema(), types.Streaming, types.DMLEvent{SequenceNumber: 1})
	b.Append(table("orders"), schema(), types.Streaming, types.DMLEvent{SequenceNumber: 2})
	b.Append(table("customers"), schema(), types.Streaming, types.DMLEvent{SequenceNumber: 1})

	result, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(w.written) != 2 {
		t.Fatalf("expected one shard per distinct table, got %d", len(w.written))
	}
	if len(result.Streaming) != 2 {
		t.Errorf("expected both blobs classified as streaming, got %d", len(result.Streaming))
	}

	for _, s := range w.written {
		if s.Table == table("orders") && len(s.Events) != 2 {
			t.Errorf("orders shard should have batched both events together, got %d", len(s.Events))
		}
	}
}

func TestAppendSchemaChangeStartsNewShard(t *testing.T) {
	w := &recordingWriter{}
	b := New(w, staticMeta{}, 4)

	schemaV1 := schema()
	schemaV2 := append(append([]types.ColumnSchema{}, schemaV1...), types.ColumnSchema{Name: "amount", Type: types.TypeNumeric})

	b.Append(table("orders"), schemaV1, types.Streaming, types.DMLEvent{SequenceNumber: 1})
	b.Append(table("orders"), schemaV2, types.Streaming, types.DMLEvent{SequenceNumber: 2})

	result, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(result.Streaming) != 2 {
		t.Fatalf("a schema change must end the current shard and open a new one, got %d shards", len(result.Streaming))
	}
}

func TestFlushSeparatesSnapshotFromStreaming(t *testing.T) {
	w := &recordingWriter{}
	b := New(w, staticMeta{}, 4)

	b.Append(table("orders"), schema(), types.Snapshot, types.DMLEvent{SequenceNumber: 1, Snapshot: true})
	b.Append(table("customers"), schema(), types.Streaming, types.DMLEvent{SequenceNumber: 1})

	result, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(result.Snapshot) != 1 || len(result.Streaming) != 1 {
		t.Fatalf("expected one snapshot and one streaming blob, got snapshot=%d streaming=%d", len(result.Snapshot), len(result.Streaming))
	}
}

func TestFlushClearsBufferedShards(t *testing.T) {
	w := &recordingWriter{}
	b := New(w, staticMeta{}, 4)
	b.Append(table("orders"), schema(), types.Streaming, types.DMLEvent{SequenceNumber: 1})

	if b.Empty() {
		t.Fatal("buffer should not be empty after Append")
	}
	if _, err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !b.Empty() {
		t.Error("buffer should be empty immediately after Flush")
	}

	result, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if len(result.Streaming) != 0 || len(result.Snapshot) != 0 {
		t.Error("a Flush with nothing buffered should produce no blobs")
	}
}

func TestFlushPropagatesWriteFailure(t *testing.T) {
	w := &recordingWriter{failOn: table("orders")}
	b := New(w, staticMeta{}, 4)
	b.Append(table("orders"), schema(), types.Streaming, types.DMLEvent{SequenceNumber: 1})

	_, err := b.Flush(context.Background())
	if err == nil {
		t.Fatal("expected the blob write failure to propagate from Flush")
	}
}
