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
	"fmt"
	"strings"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// physicalColumns returns the target-table columns a surviving event
// writes, in order: source columns, then the applicable bookkeeping
// columns. _is_deleted, _op and _batch_id are never included here --
// _is_deleted is always set explicitly by the branch that needs it,
// and _op/_batch_id never exist on the target table.
func (p Plan) physicalColumns() []string {
	cols := append([]string{}, p.SourceColumns...)
	cols = append(cols, types.ColSequenceNum)
	if p.RowIDSupported {
		cols = append(cols, types.ColRowID)
	}
	if p.Ordering == types.Unordered {
		cols = append(cols, types.ColSourceTimestamp)
		if p.NumSortKeys > 0 {
			cols = append(cols, types.ColSort)
		}
	}
	return cols
}

// matchCond renders <MATCH> from §4.6.2: row-id equality when
// supported, else the target's current primary key against the
// diff row's pre-image columns (D carries _before_<pk> precisely so
// the target row that held the old key can still be found after the
// key itself has since changed in a later Update).
func (p Plan) matchCond() string {
	if p.RowIDSupported {
		return fmt.Sprintf("T.%s = D.%s", types.ColRowID, types.ColRowID)
	}
	terms := make([]string, len(p.PrimaryKeys))
	for i, pk := range p.PrimaryKeys {
		terms[i] = fmt.Sprintf("T.`%s` = D.%s%s", pk, types.BeforePKPrefix, pk)
	}
	return strings.Join(terms, " AND ")
}

func colList(alias string, cols []string) string {
	qualified := make([]string, len(cols))
	for i, c := range cols {
		qualified[i] = fmt.Sprintf("%s.`%s`", alias, c)
	}
	return strings.Join(qualified, ", ")
}

func bareColList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("`%s`", c)
	}
	return strings.Join(quoted, ", ")
}

func setList(cols []string, isDeletedValue string) string {
	terms := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		terms = append(terms, fmt.Sprintf("T.`%s` = D.`%s`", c, c))
	}
	terms = append(terms, fmt.Sprintf("T.%s = %s", types.ColIsDeleted, isDeletedValue))
	return strings.Join(terms, ", ")
}

// BuildSQL renders the complete MERGE statement from §4.6.2, wiring
// together the diff subquery (§4.6.1) and the mode-specific
// delete/update clauses.
func (p Plan) BuildSQL() string {
	cols := p.physicalColumns()
	var b strings.Builder

	fmt.Fprintf(&b, "MERGE %s T USING (%s) D ON %s\n", p.Target, p.diffSQL(), p.matchCond())

	deleteCond, deleteOp := p.deleteBranch(cols)
	fmt.Fprintf(&b, "WHEN MATCHED AND D.%s = \"DELETE\"%s THEN %s\n", types.ColOp, deleteCond, deleteOp)

	updateCond := ""
	if p.Ordering == types.Unordered {
		updateCond = " AND " + p.orderExpr("T", "D")
	}
	fmt.Fprintf(&b, "WHEN MATCHED AND D.%s IN (\"INSERT\",\"UPDATE\")%s THEN UPDATE SET %s\n",
		types.ColOp, updateCond, setList(cols, "NULL"))

	fmt.Fprintf(&b, "WHEN NOT MATCHED AND D.%s IN (\"INSERT\",\"UPDATE\") THEN INSERT (%s) VALUES (%s)",
		types.ColOp, bareColList(cols), colList("D", cols))

	if p.Ordering == types.Unordered {
		tombstoneCols := append(append([]string{}, cols...), types.ColIsDeleted)
		tombstoneVals := colList("D", cols) + ", TRUE"
		fmt.Fprintf(&b, "\nWHEN NOT MATCHED AND D.%s = \"DELETE\" THEN INSERT (%s) VALUES (%s)",
			types.ColOp, bareColList(tombstoneCols), tombstoneVals)
	}

	return b.String()
}

// deleteBranch renders <COND> and <DELETE_OP> for the three regimes
// described in §4.6.2.
func (p Plan) deleteBranch(cols []string) (cond, op string) {
	switch {
	case p.Ordering == types.Unordered:
		return " AND " + p.orderExpr("T", "D"),
			fmt.Sprintf("UPDATE SET %s", setList(cols, "TRUE"))
	case p.SoftDeletes:
		return fmt.Sprintf(" AND %s IS NOT TRUE", types.ColIsDeleted), "UPDATE SET " + fmt.Sprintf("T.%s = TRUE", types.ColIsDeleted)
	default:
		return "", "DELETE"
	}
}
