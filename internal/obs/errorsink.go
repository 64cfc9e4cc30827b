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

package obs

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// TableErrorSink is the default types.TableErrorSink: it logs the
// error and increments TableErrorsTotal. Recording is best-effort and
// never returns an error of its own (§7 "a failure here is logged,
// never fatal").
type TableErrorSink struct{}

var _ types.TableErrorSink = TableErrorSink{}

// NewTableErrorSink builds a TableErrorSink.
func NewTableErrorSink() TableErrorSink { return TableErrorSink{} }

// RecordError logs err against table and bumps the per-table counter.
func (TableErrorSink) RecordError(_ context.Context, table ident.Table, err error) {
	TableErrorsTotal.WithLabelValues(table.Project, table.Dataset, table.Table).Inc()
	log.WithFields(log.Fields{
		"project": table.Project,
		"dataset": table.Dataset,
		"table":   table.Table,
	}).WithError(err).Warn("table error recorded")
}

// ClearError logs that table has recovered. There is no gauge to
// decrement: TableErrorsTotal is a cumulative counter, matching the
// rest of this package's counters.
func (TableErrorSink) ClearError(_ context.Context, table ident.Table) {
	log.WithFields(log.Fields{
		"project": table.Project,
		"dataset": table.Dataset,
		"table":   table.Table,
	}).Info("table error cleared")
}
