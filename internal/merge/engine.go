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

	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// Engine runs the merge step of the pipeline: evolving the target
// schema when needed (§4.6.3) and executing the MERGE statement. The
// post-merge bookkeeping of §4.6.4 is not done here; it lives in
// load.Stager.Cleanup and the orchestrator's loadAndMerge.
type Engine struct {
	warehouse     types.Warehouse
	stagingPrefix string
	softDeletes   bool
}

// New builds an Engine.
func New(warehouse types.Warehouse, stagingPrefix string, softDeletes bool) *Engine {
	return &Engine{warehouse: warehouse, stagingPrefix: stagingPrefix, softDeletes: softDeletes}
}

// Request describes one table's merge for the current flush.
type Request struct {
	Table          ident.Table
	BatchID        int64
	LatestMerged   int64
	PrimaryKeys    []string
	RowIDSupported bool
	Ordering       types.SourceOrdering
	NumSortKeys    int
	SourceColumns  []string
}

// Merge evolves the schema if necessary, then builds and executes the
// MERGE statement for req. jobID is the caller-supplied deterministic
// query job id (§4.5's convention, jobKind "merge"). It returns
// whether the target's _sort column was newly added, so the caller
// can persist TargetTableState.SortKeyAddedToTarget (§4.6.3).
func (e *Engine) Merge(ctx context.Context, jobID string, req Request) (sortKeyAdded bool, err error) {
	if req.Ordering == types.Unordered && req.NumSortKeys > 0 {
		added, err := e.ensureSortColumn(ctx, req.Table, req.NumSortKeys)
		if err != nil {
			return false, err
		}
		sortKeyAdded = added
	}

	plan := Plan{
		Target:         req.Table.String(),
		Staging:        e.stagingTable(req.Table).String(),
		BatchID:        req.BatchID,
		LatestMerged:   req.LatestMerged,
		PrimaryKeys:    req.PrimaryKeys,
		RowIDSupported: req.RowIDSupported,
		Ordering:       req.Ordering,
		NumSortKeys:    req.NumSortKeys,
		SoftDeletes:    e.softDeletes,
		SourceColumns:  req.SourceColumns,
	}

	err = e.warehouse.SubmitQueryJob(ctx, types.QueryJobSpec{JobID: jobID, SQL: plan.BuildSQL()})
	if err != nil {
		return sortKeyAdded, err
	}
	return sortKeyAdded, e.Wait(ctx, jobID)
}

// Wait blocks until a previously submitted merge job (reused via
// Stager.ResolveMergeJobID) reaches a terminal state.
func (e *Engine) Wait(ctx context.Context, jobID string) error {
	status, err := e.warehouse.WaitForJob(ctx, jobID)
	if err != nil {
		return err
	}
	return status.Err
}

func (e *Engine) stagingTable(table ident.Table) ident.Table {
	return ident.NewTable(table.Project, table.Dataset, e.stagingPrefix+table.Table)
}

// ensureSortColumn adds the _sort struct column to the target table
// if it is missing, per §4.6.3 ("If the target lacks _sort but the
// current batch has sort keys, C6 adds the column before executing
// the merge").
func (e *Engine) ensureSortColumn(ctx context.Context, table ident.Table, numSortKeys int) (bool, error) {
	info, exists, err := e.warehouse.GetTable(ctx, table)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, types.NewFatal("merge target table " + table.String() + " does not exist")
	}
	for _, col := range info.Schema {
		if col.Name == types.ColSort {
			return false, nil
		}
	}
	updated := *info
	updated.Schema = append(append([]types.ColumnSchema{}, info.Schema...), types.ColumnSchema{
		Name: types.ColSort, Type: types.TypeStruct, Nullable: true,
		StructFields: types.SortStructFields(numSortKeys),
	})
	if err := e.warehouse.UpdateTable(ctx, updated); err != nil {
		return false, err
	}
	return true, nil
}
