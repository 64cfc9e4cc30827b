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

package merge

import (
	"context"
	"strings"
	"testing"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// fakeWarehouse is a minimal in-memory types.Warehouse recording the
// calls Engine makes against it, enough to exercise the schema
// evolution and merge-job wiring without a live BigQuery project.
type fakeWarehouse struct {
	tables map[string]*types.TableInfo

	submittedSQL []string
	jobStatus    types.JobStatus
}

var _ types.Warehouse = (*fakeWarehouse)(nil)

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{tables: make(map[string]*types.TableInfo)}
}

func (w *fakeWarehouse) CreateDataset(context.Context, string, string, string) error { return nil }
func (w *fakeWarehouse) DropDataset(context.Context, string, string) error           { return nil }

func (w *fakeWarehouse) CreateTable(_ context.Context, info types.TableInfo) error {
	cp := info
	w.tables[info.Table.String()] = &cp
	return nil
}

func (w *fakeWarehouse) UpdateTable(_ context.Context, info types.TableInfo) error {
	cp := info
	w.tables[info.Table.String()] = &cp
	return nil
}

func (w *fakeWarehouse) DeleteTable(_ context.Context, table ident.Table) error {
	delete(w.tables, table.String())
	return nil
}

func (w *fakeWarehouse) GetTable(_ context.Context, table ident.Table) (*types.TableInfo, bool, error) {
	info, ok := w.tables[table.String()]
	if !ok {
		return nil, false, nil
	}
	return info, true, nil
}

func (w *fakeWarehouse) MaxSequence(context.Context, ident.Table) (int64, error) { return 0, nil }

func (w *fakeWarehouse) SubmitLoadJob(context.Context, types.LoadJobSpec) error { return nil }

func (w *fakeWarehouse) SubmitQueryJob(_ context.Context, spec types.QueryJobSpec) error {
	w.submittedSQL = append(w.submittedSQL, spec.SQL)
	return nil
}

func (w *fakeWarehouse) WaitForJob(context.Context, string) (types.JobStatus, error) {
	return w.jobStatus, nil
}

func (w *fakeWarehouse) FindJob(context.Context, string) (bool, bool, error) { return false, false, nil }

func testTable() ident.Table {
	return ident.NewTable("proj", "ds", "orders")
}

func TestEngineMergeSubmitsGeneratedSQL(t *testing.T) {
	wh := newFakeWarehouse()
	e := New(wh, "_stg_", false)

	_, err := e.Merge(context.Background(), "job1", Request{
		Table:         testTable(),
		BatchID:       3,
		LatestMerged:  10,
		PrimaryKeys:   []string{"id"},
		SourceColumns: []string{"id", "amount"},
	})
	if err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	if len(wh.submittedSQL) != 1 {
		t.Fatalf("expected exactly one query job, got %d", len(wh.submittedSQL))
	}
	if !strings.Contains(wh.submittedSQL[0], "MERGE proj.ds.orders") {
		t.Errorf("submitted SQL does not target the right table: %s", wh.submittedSQL[0])
	}
}

func TestEngineMergePropagatesJobFailure(t *testing.T) {
	wh := newFakeWarehouse()
	wh.jobStatus = types.JobStatus{Done: true, Err: types.NewFatal("boom")}
	e := New(wh, "_stg_", false)

	_, err := e.Merge(context.Background(), "job1", Request{
		Table:         testTable(),
		PrimaryKeys:   []string{"id"},
		SourceColumns: []string{"id"},
	})
	if err == nil {
		t.Fatal("expected the merge job's failure to propagate")
	}
}

func TestEngineMergeAddsSortColumnOnce(t *testing.T) {
	wh := newFakeWarehouse()
	wh.tables[testTable().String()] = &types.TableInfo{
		Table:  testTable(),
		Schema: []types.ColumnSchema{{Name: "id", Type: types.TypeString}},
	}
	e := New(wh, "_stg_", false)

	req := Request{
		Table:         testTable(),
		PrimaryKeys:   []string{"id"},
		SourceColumns: []string{"id"},
		Ordering:      types.Unordered,
		NumSortKeys:   2,
	}

	added, err := e.Merge(context.Background(), "job1", req)
	if err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	if !added {
		t.Fatal("expected sortKeyAdded=true on first merge against a table missing _sort")
	}
	info := wh.tables[testTable().String()]
	found := false
	for _, col := range info.Schema {
		if col.Name == types.ColSort {
			found = true
			if len(col.StructFields) != 2 {
				t.Errorf("expected 2 sort-key struct fields, got %d", len(col.StructFields))
			}
		}
	}
	if !found {
		t.Fatal("_sort column was not added to the target schema")
	}

	added, err = e.Merge(context.Background(), "job2", req)
	if err != nil {
		t.Fatalf("second Merge() = %v", err)
	}
	if added {
		t.Error("sortKeyAdded should be false once the column already exists")
	}
}

func TestEngineMergeFatalWhenTargetMissing(t *testing.T) {
	wh := newFakeWarehouse()
	e := New(wh, "_stg_", false)

	_, err := e.Merge(context.Background(), "job1", Request{
		Table:         testTable(),
		PrimaryKeys:   []string{"id"},
		SourceColumns: []string{"id"},
		Ordering:      types.Unordered,
		NumSortKeys:   1,
	})
	if _, ok := types.IsFatal(err); !ok {
		t.Fatalf("expected a fatal error when the merge target does not exist, got %v", err)
	}
}
