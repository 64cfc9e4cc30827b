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

// Command bqdelta drives the replay-safe merge pipeline standalone,
// reading change events from a newline-delimited-JSON file and
// applying them against a real BigQuery/GCS backend. Plugin/host
// lifecycle is out of the core's scope (spec §1); this binary supplies
// its own minimal Host so the pipeline can run without one.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/config"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/consumer"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("bqdelta exited with an error")
	}
}

func run() error {
	cfg := &config.Config{}
	flags := pflag.NewFlagSet("bqdelta", pflag.ExitOnError)
	cfg.Bind(flags)

	var (
		eventsFile      string
		appName         string
		ordering        string
		rowIDSupported  bool
		maxRetrySeconds int
		maxTablesFlush  int
		metricsAddr     string
	)
	flags.StringVar(&eventsFile, "eventsFile", "", "path to an NDJSON file of DDL/DML events to replay at startup")
	flags.StringVar(&appName, "appName", "bqdelta", "application name used in job ids and blob paths")
	flags.StringVar(&ordering, "ordering", "ordered", "upstream delivery ordering: 'ordered' or 'unordered'")
	flags.BoolVar(&rowIDSupported, "rowIdSupported", false, "whether the upstream source supplies a row identifier on every event")
	flags.IntVar(&maxRetrySeconds, "maxRetrySeconds", 600, "bound on load/merge retry duration, per the host's §4.7 contract")
	flags.IntVar(&maxTablesFlush, "maxConcurrentTablesFlush", 4, "maximum number of tables flushed concurrently")
	flags.StringVar(&metricsAddr, "metricsAddr", "", "if set, serve Prometheus metrics on this address (e.g. ':9090')")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return errors.Wrap(err, "parsing flags")
	}
	if err := cfg.Preflight(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	props := types.SourceProperties{
		Ordering:       orderingFromFlag(ordering),
		RowIDSupported: rowIDSupported,
	}

	serviceAccountPath := cfg.ServiceAccountKey
	if serviceAccountPath == "auto-detect" {
		serviceAccountPath = ""
	}
	project := cfg.Project
	if project == "auto-detect" {
		project = ""
	}

	prodCfg := consumer.ProductionConfig{
		Project:                  project,
		ServiceAccountKeyPath:    serviceAccountPath,
		DatasetName:              cfg.DatasetName,
		StagingBucket:            cfg.StagingBucket,
		StagingBucketLoc:         cfg.StagingBucketLoc,
		StagingTablePrefix:       cfg.StagingTablePrefix,
		RetainStagingTable:       cfg.RetainStagingTable,
		RequireManualDrops:       cfg.RequireManualDrops,
		SoftDeletes:              cfg.SoftDeletes,
		BlobFormat:               blobFormatFromFlag(cfg.BlobFormat),
		MaxClusteringCols:        cfg.MaxClusteringCols,
		AppName:                  appName,
		LoadInterval:             cfg.LoadInterval(),
		MaxConcurrentBlobWrites:  cfg.MaxConcurrentBlobWrites,
		MaxConcurrentTablesFlush: maxTablesFlush,
		MaxRetrySeconds:          maxRetrySeconds,
		SourceProperties:         props,
	}

	host := newLocalHost(nil, appName, props, maxRetrySeconds, cfg.RuntimeArgs)

	orch, cleanup, err := consumer.InitializeOrchestrator(ctx, prodCfg, host)
	if err != nil {
		return errors.Wrap(err, "wiring orchestrator")
	}
	defer cleanup()

	// host.store is only available once InitializeOrchestrator has
	// opened the backing BigQueryStore; wire it in now so GetState/
	// PutState have somewhere to read and write (§6).
	host.store = orch.StateStore()

	if err := orch.Start(ctx); err != nil {
		return errors.Wrap(err, "starting orchestrator")
	}

	if eventsFile != "" {
		f, err := os.Open(eventsFile)
		if err != nil {
			return errors.Wrap(err, "opening events file")
		}
		replayErr := replayEvents(ctx, orch, f)
		_ = f.Close()
		if replayErr != nil {
			return errors.Wrap(replayErr, "replaying events")
		}
	}

	log.Info("bqdelta running; press Ctrl-C to stop")
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return orch.Stop(stopCtx)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server exited")
	}
}

func orderingFromFlag(s string) types.SourceOrdering {
	if s == "unordered" {
		return types.Unordered
	}
	return types.Ordered
}

func blobFormatFromFlag(s string) types.BlobFormat {
	if s == "json" {
		return types.FormatJSON
	}
	return types.FormatAvro
}
