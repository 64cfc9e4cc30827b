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

package consumertest

import (
	"time"

	"github.com/sumitjnn/bigquery-delta-plugins/internal/blob"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/consumer"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ddl"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/load"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/merge"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/obs"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/retry"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/state"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// OrchestratorFixture bundles a consumer.Orchestrator wired entirely
// to in-memory fakes, standing in for internal/sinktest's base
// fixture (which wires resolver tests to a real CockroachDB test
// container instead).
type OrchestratorFixture struct {
	Orchestrator *consumer.Orchestrator
	Warehouse    *Warehouse
	Blobs        *BlobStore
	Host         *Host
	Store        *state.MemStore
}

// Options customizes the source properties and staging layout an
// OrchestratorFixture is built with; the zero value is an ordered
// source with manual-drop protection disabled, four concurrent blob
// writes and four tables flushed concurrently, which suits most unit
// tests.
type Options struct {
	SourceProperties         types.SourceProperties
	SoftDeletes              bool
	RequireManualDrops       bool
	MaxConcurrentBlobWrites  int
	MaxConcurrentTablesFlush int
	MaxClusteringCols        int
	MaxRetrySeconds          int
}

// NewOrchestratorFixture builds an OrchestratorFixture. The returned
// Orchestrator has not had Start called; tests that need the recovery
// path (GetOffset/GetAllTables at startup) should call Start
// themselves once the fixture's fakes are seeded.
func NewOrchestratorFixture(opts Options) *OrchestratorFixture {
	if opts.MaxConcurrentBlobWrites <= 0 {
		opts.MaxConcurrentBlobWrites = 4
	}
	if opts.MaxConcurrentTablesFlush <= 0 {
		opts.MaxConcurrentTablesFlush = 4
	}
	if opts.MaxClusteringCols <= 0 {
		opts.MaxClusteringCols = 4
	}
	if opts.MaxRetrySeconds <= 0 {
		opts.MaxRetrySeconds = 30
	}

	warehouse := NewWarehouse()
	blobs := NewBlobStore()
	store := state.NewMemStore()
	host := NewHost(store, opts.SourceProperties)

	errorSink := obs.NewTableErrorSink()
	coordinator := retry.New(nil, errorSink)

	blobWriter := blob.New(blobs, "consumertest-bucket", "consumertest", types.FormatJSON)
	stager := load.New(warehouse, blobs, "consumertest-bucket", "consumertest", "_stg_", false)
	merger := merge.New(warehouse, "_stg_", opts.SoftDeletes)

	deps := consumer.Deps{
		Host:       host,
		Store:      store,
		Warehouse:  warehouse,
		Retry:      coordinator,
		Stager:     stager,
		Merger:     merger,
		BlobWriter: blobWriter,
		DDLConfig: ddl.Config{
			RequireManualDrops: opts.RequireManualDrops,
			MaxClusteringCols:  opts.MaxClusteringCols,
			StagingPrefix:      "_stg_",
			StagingLocation:    "US",
			SourceProperties:   opts.SourceProperties,
		},
	}
	cfg := consumer.Config{
		Project:                  "proj",
		LoadInterval:             time.Minute,
		MaxConcurrentBlobWrites:  opts.MaxConcurrentBlobWrites,
		MaxConcurrentTablesFlush: opts.MaxConcurrentTablesFlush,
		MaxRetrySeconds:          opts.MaxRetrySeconds,
		SourceProperties:         opts.SourceProperties,
	}

	return &OrchestratorFixture{
		Orchestrator: consumer.New(deps, cfg),
		Warehouse:    warehouse,
		Blobs:        blobs,
		Host:         host,
		Store:        store,
	}
}
