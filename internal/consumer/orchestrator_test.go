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

package consumer_test

import (
	"context"
	"strings"
	"testing"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/consumertest"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/state"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

func createOrdersTable(t *testing.T, fx *consumertest.OrchestratorFixture) {
	t.Helper()
	err := fx.Orchestrator.ApplyDDL(context.Background(), types.DDLEvent{
		Operation:  types.CreateTable,
		Database:   "ds",
		Table:      "orders",
		PrimaryKey: []string{"id"},
		Schema: []types.ColumnSchema{
			{Name: "id", Type: types.TypeInt64},
			{Name: "amount", Type: types.TypeNumeric},
		},
		SequenceNumber: 1,
	})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
}

func TestOrderedInsertUpdateDeleteMergesOneBatch(t *testing.T) {
	fx := consumertest.NewOrchestratorFixture(consumertest.Options{
		SourceProperties: types.SourceProperties{Ordering: types.Ordered},
	})
	ctx := context.Background()
	createOrdersTable(t, fx)

	events := []types.DMLEvent{
		{Operation: types.Insert, Database: "ds", Table: "orders", After: map[string]any{"id": int64(1), "amount": 10}, SequenceNumber: 2},
		{Operation: types.Update, Database: "ds", Table: "orders", After: map[string]any{"id": int64(1), "amount": 20}, Before: map[string]any{"id": int64(1)}, SequenceNumber: 3},
		{Operation: types.Delete, Database: "ds", Table: "orders", Before: map[string]any{"id": int64(1)}, SequenceNumber: 4},
	}
	for _, ev := range events {
		if err := fx.Orchestrator.ApplyDML(ctx, ev); err != nil {
			t.Fatalf("ApplyDML(%s): %v", ev.Operation, err)
		}
	}

	if err := fx.Orchestrator.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(fx.Blobs.Written) != 1 {
		t.Fatalf("expected one blob object written for the single shard, got %d", len(fx.Blobs.Written))
	}
	if len(fx.Warehouse.QueryJobs) != 1 {
		t.Fatalf("expected exactly one merge query job, got %d", len(fx.Warehouse.QueryJobs))
	}
	if !strings.Contains(fx.Warehouse.QueryJobs[0].SQL, "proj.ds.orders") {
		t.Errorf("merge SQL did not target the right table: %s", fx.Warehouse.QueryJobs[0].SQL)
	}
	if fx.Host.CommitCount != 1 {
		t.Fatalf("expected exactly one offset commit, got %d", fx.Host.CommitCount)
	}
	if fx.Host.CommittedSequenceNumber != 4 {
		t.Errorf("CommittedSequenceNumber = %d, want 4", fx.Host.CommittedSequenceNumber)
	}
}

func TestReplayedEventsBelowWatermarkAreDropped(t *testing.T) {
	fx := consumertest.NewOrchestratorFixture(consumertest.Options{
		SourceProperties: types.SourceProperties{Ordering: types.Ordered},
	})
	ctx := context.Background()
	createOrdersTable(t, fx)

	// Simulate a crash after the target already reflects sequence 50
	// (e.g. a prior process merged through sequence 50 and died before
	// committing the offset): the warehouse's own watermark is ahead
	// of what this process has seen so far.
	fx.Warehouse.SetMaxSequence(ident.NewTable("proj", "ds", "orders"), 50)

	replayed := types.DMLEvent{
		Operation: types.Insert, Database: "ds", Table: "orders",
		After: map[string]any{"id": int64(1), "amount": 10}, SequenceNumber: 10,
	}
	if err := fx.Orchestrator.ApplyDML(ctx, replayed); err != nil {
		t.Fatalf("ApplyDML: %v", err)
	}
	if err := fx.Orchestrator.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(fx.Blobs.Written) != 0 {
		t.Errorf("a replayed event at or below latestMerged must not produce a blob write, got %d", len(fx.Blobs.Written))
	}
	if len(fx.Warehouse.QueryJobs) != 0 {
		t.Errorf("a replayed event must not trigger a merge job, got %d", len(fx.Warehouse.QueryJobs))
	}
	// The offset still advances and commits: replay safety means the
	// merge is skipped, not that progress tracking stalls.
	if fx.Host.CommitCount != 1 {
		t.Errorf("expected the offset commit to still happen for an empty flush, got %d", fx.Host.CommitCount)
	}
}

func TestApplyDMLBeforeCreateTableLatchesFatal(t *testing.T) {
	fx := consumertest.NewOrchestratorFixture(consumertest.Options{})
	ctx := context.Background()

	err := fx.Orchestrator.ApplyDML(ctx, types.DMLEvent{
		Operation: types.Insert, Database: "ds", Table: "orders",
		After: map[string]any{"id": int64(1)}, SequenceNumber: 1,
	})
	if _, ok := types.IsFatal(err); !ok {
		t.Fatalf("expected a fatal error for DML received before any CreateTable, got %v", err)
	}

	// The failure latches: a subsequent, otherwise-valid DDL event is
	// rejected with the same error until the process restarts.
	err2 := fx.Orchestrator.ApplyDDL(ctx, types.DDLEvent{
		Operation: types.CreateTable, Database: "ds", Table: "orders", PrimaryKey: []string{"id"},
	})
	if _, ok := types.IsFatal(err2); !ok {
		t.Fatalf("expected the latched fatal error to reject subsequent calls, got %v", err2)
	}
}

func TestDropTableForgetsCachedState(t *testing.T) {
	fx := consumertest.NewOrchestratorFixture(consumertest.Options{
		SourceProperties: types.SourceProperties{Ordering: types.Ordered},
	})
	ctx := context.Background()
	createOrdersTable(t, fx)

	table := ident.NewTable("proj", "ds", "orders")
	if err := fx.Orchestrator.ApplyDML(ctx, types.DMLEvent{
		Operation: types.Insert, Database: "ds", Table: "orders",
		After: map[string]any{"id": int64(1)}, SequenceNumber: 2,
	}); err != nil {
		t.Fatalf("ApplyDML: %v", err)
	}

	if err := fx.Orchestrator.ApplyDDL(ctx, types.DDLEvent{
		Operation: types.DropTable, Database: "ds", Table: "orders", SequenceNumber: 3,
	}); err != nil {
		t.Fatalf("DropTable: %v", err)
	}

	if _, exists, _ := fx.Warehouse.GetTable(ctx, table); exists {
		t.Error("DropTable should have removed the target table from the warehouse")
	}
	if _, ok, err := state.LoadTargetTableState(ctx, fx.Store, table); err != nil {
		t.Fatalf("LoadTargetTableState: %v", err)
	} else if ok {
		t.Error("DropTable should have tombstoned the cached TargetTableState")
	}
	// DropTable flushes first, so the insert queued before the drop
	// must already have gone out as its own blob, never straddling
	// the DDL boundary.
	if len(fx.Blobs.Written) != 1 {
		t.Errorf("expected the pre-drop insert to have been flushed as its own blob, got %d", len(fx.Blobs.Written))
	}
}

func TestCreateTableIsIdempotentOnExistingTable(t *testing.T) {
	fx := consumertest.NewOrchestratorFixture(consumertest.Options{})
	ctx := context.Background()
	createOrdersTable(t, fx)

	// A second CreateTable for the same table (e.g. a replayed DDL
	// event) must not fail even though the warehouse table already
	// exists.
	err := fx.Orchestrator.ApplyDDL(ctx, types.DDLEvent{
		Operation:  types.CreateTable,
		Database:   "ds",
		Table:      "orders",
		PrimaryKey: []string{"id"},
		Schema: []types.ColumnSchema{
			{Name: "id", Type: types.TypeInt64},
			{Name: "amount", Type: types.TypeNumeric},
		},
		SequenceNumber: 5,
	})
	if err != nil {
		t.Fatalf("repeated CreateTable should be a no-op, got: %v", err)
	}
}
