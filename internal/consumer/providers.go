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

package consumer

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/blob"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ddl"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/gcs"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/load"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/merge"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/obs"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/retry"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/state"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/warehouse"
)

// ProductionConfig bundles every setting needed to wire a production
// Orchestrator, mirroring internal/config.Config plus the handful of
// settings that come from the host rather than a flag (§6). Host
// itself is supplied separately since plugin/host lifecycle is a
// narrow external boundary the core never constructs (spec §1).
type ProductionConfig struct {
	Project               string
	ServiceAccountKeyPath string // empty uses ambient credentials

	DatasetName        string
	StagingBucket       string
	StagingBucketLoc    string
	StagingTablePrefix  string
	RetainStagingTable  bool
	RequireManualDrops  bool
	SoftDeletes         bool
	BlobFormat          types.BlobFormat
	MaxClusteringCols   int

	AppName                  string
	LoadInterval             time.Duration
	MaxConcurrentBlobWrites  int
	MaxConcurrentTablesFlush int
	MaxRetrySeconds          int
	SourceProperties         types.SourceProperties
}

// ProvideClients opens the BigQuery and GCS client handles, per
// internal/warehouse's stdpool-derived retry-on-open idiom.
func ProvideClients(ctx context.Context, cfg ProductionConfig) (*warehouse.Clients, func(), error) {
	var opts []warehouse.Option
	if cfg.ServiceAccountKeyPath != "" {
		key, err := os.ReadFile(cfg.ServiceAccountKeyPath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "reading service account key")
		}
		opts = append(opts, warehouse.WithCredentialsJSON(key))
	}
	clients, err := warehouse.Open(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, nil, err
	}
	return clients, clients.Close, nil
}

// ProvideWarehouse adapts clients.BigQuery to types.Warehouse.
func ProvideWarehouse(clients *warehouse.Clients) types.Warehouse {
	return warehouse.NewBigQuery(clients.BigQuery)
}

// ProvideBlobStore adapts clients.Storage to types.BlobStore.
func ProvideBlobStore(clients *warehouse.Clients) types.BlobStore {
	return gcs.New(clients.Storage)
}

// ProvideBigQueryStore builds and schema-initializes the C1 state
// store adapter (§3 "state.BigQueryStore (primary)").
func ProvideBigQueryStore(ctx context.Context, clients *warehouse.Clients, cfg ProductionConfig) (types.StateStore, error) {
	store := state.NewBigQueryStore(clients.BigQuery, cfg.Project, cfg.DatasetName)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ProvideErrorSink builds the default TableErrorSink (§4.7, §7).
func ProvideErrorSink() types.TableErrorSink {
	return obs.NewTableErrorSink()
}

// ProvideRetryCoordinator builds the C7 coordinator. shouldStop always
// reports false in production; a latched fatal error is instead
// surfaced through Orchestrator.flushErr (§5, §7).
func ProvideRetryCoordinator(sink types.TableErrorSink) *retry.Coordinator {
	return retry.New(nil, sink)
}

// ProvideBucket ensures the staging bucket exists and returns its
// name. When cfg.StagingBucket is unset the name defaults to
// "df-rbq-<dataset>-<app>"; unlike
// internal/config.Config.StagingBucketName, no generation number is
// appended.
func ProvideBucket(ctx context.Context, blobs types.BlobStore, cfg ProductionConfig) (string, error) {
	bucket := cfg.StagingBucket
	if bucket == "" {
		bucket = "df-rbq-" + cfg.DatasetName + "-" + cfg.AppName
	}
	if err := blobs.EnsureBucket(ctx, bucket, cfg.StagingBucketLoc); err != nil {
		return "", err
	}
	return bucket, nil
}

// ProvideBlobWriter builds the C2 blob writer.
func ProvideBlobWriter(blobs types.BlobStore, bucket string, cfg ProductionConfig) *blob.Writer {
	return blob.New(blobs, bucket, cfg.AppName, cfg.BlobFormat)
}

// ProvideStager builds the C5 load stage.
func ProvideStager(wh types.Warehouse, blobs types.BlobStore, bucket string, cfg ProductionConfig) *load.Stager {
	return load.New(wh, blobs, bucket, cfg.AppName, cfg.StagingTablePrefix, cfg.RetainStagingTable)
}

// ProvideMerger builds the C6 merge engine.
func ProvideMerger(wh types.Warehouse, cfg ProductionConfig) *merge.Engine {
	return merge.New(wh, cfg.StagingTablePrefix, cfg.SoftDeletes)
}

// ProvideDDLConfig builds the C4 applier's fixed settings.
func ProvideDDLConfig(cfg ProductionConfig) ddl.Config {
	return ddl.Config{
		RequireManualDrops: cfg.RequireManualDrops,
		MaxClusteringCols:  cfg.MaxClusteringCols,
		StagingPrefix:      cfg.StagingTablePrefix,
		StagingLocation:    cfg.StagingBucketLoc,
		SourceProperties:   cfg.SourceProperties,
	}
}

// ProvideOrchestrator assembles the final Orchestrator from its
// already-constructed dependencies.
func ProvideOrchestrator(
	host types.Host,
	store types.StateStore,
	wh types.Warehouse,
	retryC *retry.Coordinator,
	stager *load.Stager,
	merger *merge.Engine,
	blobWriter *blob.Writer,
	ddlConfig ddl.Config,
	cfg ProductionConfig,
) *Orchestrator {
	deps := Deps{
		Host:       host,
		Store:      store,
		Warehouse:  wh,
		Retry:      retryC,
		Stager:     stager,
		Merger:     merger,
		BlobWriter: blobWriter,
		DDLConfig:  ddlConfig,
	}
	orchCfg := Config{
		Project:                  cfg.Project,
		LoadInterval:             cfg.LoadInterval,
		MaxConcurrentBlobWrites:  cfg.MaxConcurrentBlobWrites,
		MaxConcurrentTablesFlush: cfg.MaxConcurrentTablesFlush,
		MaxRetrySeconds:          cfg.MaxRetrySeconds,
		SourceProperties:         cfg.SourceProperties,
	}
	return New(deps, orchCfg)
}
