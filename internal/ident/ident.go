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

// Package ident normalizes the database/table/column names that flow
// in from change events into the form the warehouse expects.
package ident

import (
	"fmt"
	"strings"
)

// Normalize lower-cases and trims a raw identifier coming from the
// upstream source so that repeated DDL for the same table always
// resolves to the same warehouse name.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Table identifies a single target table within the warehouse.
type Table struct {
	Project string
	Dataset string
	Table   string
}

// NewTable builds a normalized Table identifier.
func NewTable(project, dataset, table string) Table {
	return Table{
		Project: Normalize(project),
		Dataset: Normalize(dataset),
		Table:   Normalize(table),
	}
}

// String renders a fully-qualified `project.dataset.table` reference.
func (t Table) String() string {
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Table)
}

// StateKey returns the key used to persist the TargetTableState for
// this table in the state store, per the "bigquery-<dataset>-<table>"
// convention.
func (t Table) StateKey() string {
	return fmt.Sprintf("bigquery-%s-%s", t.Dataset, t.Table)
}

// DirectLoadKey returns the key used to persist the direct-load-in-
// progress flag for this table.
func (t Table) DirectLoadKey() string {
	return fmt.Sprintf("bigquery-direct-load-in-progress-%s-%s", t.Dataset, t.Table)
}

// NormalizeColumns lower-cases a list of raw column names, preserving
// order. Used to normalize declared primary keys.
func NormalizeColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = Normalize(c)
	}
	return out
}
