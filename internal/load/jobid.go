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

// Package load implements the C5 Load Stage: submitting a blob into a
// staging table (or directly into target for snapshot blobs), per
// spec §4.5.
package load

import (
	"fmt"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
)

// jobKind is the <jobKind> component of the deterministic job id.
type jobKind string

const (
	kindStage jobKind = "stage"
	kindTarget jobKind = "target"
	kindMerge jobKind = "merge"
)

// jobID builds the deterministic job identifier described in §4.5:
// "<app>_<jobKind>_<dataset>_<table>_<batchId>_<attempt>". Determinism
// here is the sole idempotency mechanism the pipeline relies on (§9
// design note: "do not rely on library-specific dedup").
func jobID(app string, kind jobKind, table ident.Table, batchID int64, attempt int) string {
	return fmt.Sprintf("%s_%s_%s_%s_%d_%d", app, kind, table.Dataset, table.Table, batchID, attempt)
}
