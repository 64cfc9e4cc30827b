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
	"strings"
	"testing"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

func basePlan() Plan {
	return Plan{
		Target:        "proj.ds.orders",
		Staging:       "proj.ds._stg_orders",
		BatchID:       7,
		LatestMerged:  100,
		PrimaryKeys:   []string{"id"},
		SourceColumns: []string{"id", "amount"},
	}
}

func TestBuildSQLOrderedHardDelete(t *testing.T) {
	sql := basePlan().BuildSQL()

	for _, want := range []string{
		"MERGE proj.ds.orders T USING",
		"WHEN MATCHED AND D._op = \"DELETE\" THEN DELETE",
		"WHEN MATCHED AND D._op IN (\"INSERT\",\"UPDATE\") THEN UPDATE SET",
		"WHEN NOT MATCHED AND D._op IN (\"INSERT\",\"UPDATE\") THEN INSERT",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("BuildSQL() missing %q\ngot: %s", want, sql)
		}
	}
	if strings.Contains(sql, "WHEN NOT MATCHED AND D._op = \"DELETE\"") {
		t.Error("ordered hard-delete plan should not insert tombstone rows")
	}
}

func TestBuildSQLOrderedSoftDelete(t *testing.T) {
	p := basePlan()
	p.SoftDeletes = true
	sql := p.BuildSQL()

	if !strings.Contains(sql, "WHEN MATCHED AND D._op = \"DELETE\" AND _is_deleted IS NOT TRUE THEN UPDATE SET T._is_deleted = TRUE") {
		t.Errorf("soft-delete branch not rendered as expected:\n%s", sql)
	}
}

func TestBuildSQLUnorderedInsertsTombstone(t *testing.T) {
	p := basePlan()
	p.Ordering = types.Unordered
	sql := p.BuildSQL()

	if !strings.Contains(sql, "WHEN NOT MATCHED AND D._op = \"DELETE\" THEN INSERT") {
		t.Errorf("unordered plan must insert a tombstone row for out-of-order deletes:\n%s", sql)
	}
	deleteLine := strings.Split(sql, "\n")[1]
	if !strings.Contains(deleteLine, "THEN UPDATE SET") || !strings.HasSuffix(strings.TrimSpace(deleteLine), "T._is_deleted = TRUE") {
		t.Errorf("unordered delete branch should UPDATE with _is_deleted = TRUE instead of a hard DELETE:\n%s", deleteLine)
	}
	updateLine := strings.Split(sql, "\n")[2]
	if !strings.HasSuffix(strings.TrimSpace(updateLine), "T._is_deleted = NULL") {
		t.Errorf("unordered matched-update branch should clear _is_deleted to NULL:\n%s", updateLine)
	}
}

func TestMatchCondRowID(t *testing.T) {
	p := basePlan()
	p.RowIDSupported = true
	if got, want := p.matchCond(), "T._row_id = D._row_id"; got != want {
		t.Errorf("matchCond() = %q, want %q", got, want)
	}
}

func TestMatchCondPrimaryKey(t *testing.T) {
	p := basePlan()
	p.PrimaryKeys = []string{"a", "b"}
	got := p.matchCond()
	want := "T.`a` = D._before_a AND T.`b` = D._before_b"
	if got != want {
		t.Errorf("matchCond() = %q, want %q", got, want)
	}
}

func TestDiffSQLFiltersByBatchAndSequence(t *testing.T) {
	p := basePlan()
	sql := p.diffSQL()
	if !strings.Contains(sql, "_batch_id = 7") || !strings.Contains(sql, "_sequence_num > 100") {
		t.Errorf("diffSQL() did not filter by batch/sequence as expected: %s", sql)
	}
}

func TestOrderExprOrderedUsesSequenceNum(t *testing.T) {
	p := basePlan()
	if got, want := p.orderExpr("A", "B"), "A._sequence_num < B._sequence_num"; got != want {
		t.Errorf("orderExpr() = %q, want %q", got, want)
	}
}

func TestOrderExprUnorderedFallsBackWithoutSortKeys(t *testing.T) {
	p := basePlan()
	p.Ordering = types.Unordered
	got := p.orderExpr("A", "B")
	if !strings.Contains(got, "A._source_timestamp < B._source_timestamp") {
		t.Errorf("orderExpr() fallback missing timestamp comparison: %s", got)
	}
	if !strings.Contains(got, "A._sequence_num < B._sequence_num") {
		t.Errorf("orderExpr() fallback missing sequence tiebreak: %s", got)
	}
}

func TestOrderExprUnorderedWithSortKeysIsLexicographic(t *testing.T) {
	p := basePlan()
	p.Ordering = types.Unordered
	p.NumSortKeys = 2
	got := p.orderExpr("A", "B")

	if !strings.Contains(got, "A._sort._key_0 < B._sort._key_0") {
		t.Errorf("orderExpr() missing first sort key comparison: %s", got)
	}
	if !strings.Contains(got, "A._sort._key_1 < B._sort._key_1") {
		t.Errorf("orderExpr() missing second sort key comparison: %s", got)
	}
	if !strings.Contains(got, "A._source_timestamp < B._source_timestamp") {
		t.Errorf("orderExpr() should still carry the timestamp fallback when sort keys are null: %s", got)
	}
}
