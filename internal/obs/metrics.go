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

// Package obs exports prometheus metrics for the pipeline components
// named in spec §2. It is an ambient concern (out of scope per §1's
// "metric export" boundary, but never a Non-goal) carried in the
// teacher's idiom: a fixed set of vectors, labeled by table.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets mirrors the teacher's shared histogram bucket
// scheme for external-call latencies (milliseconds to minutes).
var latencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// tableLabels is the common label set for per-table counters: the
// spec's TableId is (project, dataset, table).
var tableLabels = []string{"project", "dataset", "table"}

var (
	// BlobWritesTotal counts successful C2 blob-store writes.
	BlobWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_blob_writes_total",
		Help: "the number of blob-store objects successfully written",
	}, tableLabels)
	BlobWriteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_blob_write_errors_total",
		Help: "the number of blob-store write attempts that failed",
	}, tableLabels)
	BlobWriteDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delta_blob_write_duration_seconds",
		Help:    "the length of time it took to write a blob-store object",
		Buckets: latencyBuckets,
	}, tableLabels)

	// LoadJobsTotal counts C5 load-job submissions, by blob type.
	LoadJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_load_jobs_total",
		Help: "the number of load jobs submitted, labeled by blob type",
	}, append(append([]string{}, tableLabels...), "blobType"))
	LoadJobDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delta_load_job_duration_seconds",
		Help:    "the length of time a load job took to complete",
		Buckets: latencyBuckets,
	}, tableLabels)

	// MergeJobsTotal and MergeJobDurations cover the C6 Merge Engine.
	MergeJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_merge_jobs_total",
		Help: "the number of merge jobs executed",
	}, tableLabels)
	MergeJobDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delta_merge_job_duration_seconds",
		Help:    "the length of time a merge job took to complete",
		Buckets: latencyBuckets,
	}, tableLabels)
	MergeRowsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_merge_rows_staged_total",
		Help: "the number of staged rows submitted to a merge",
	}, tableLabels)

	// DDLOpsTotal covers the C4 DDL Applier, labeled by operation kind.
	DDLOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_ddl_ops_total",
		Help: "the number of DDL operations applied, labeled by kind",
	}, []string{"dataset", "table", "operation"})

	// RetryAttemptsTotal and RetryFatalTotal cover C7. Neither is
	// incremented by internal/retry or anywhere else in the core.
	RetryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_retry_attempts_total",
		Help: "the number of retry attempts made, labeled by operation",
	}, []string{"op"})
	RetryFatalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_retry_fatal_total",
		Help: "the number of operations that exhausted retries or hit a fatal error",
	}, []string{"op"})

	// FlushDurations and FlushErrorsTotal cover the C8 Consumer
	// Orchestrator's scheduled flush cycle.
	FlushDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "delta_flush_duration_seconds",
		Help:    "the length of time a full flush cycle (load+merge across all tables) took",
		Buckets: latencyBuckets,
	})
	FlushErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delta_flush_errors_total",
		Help: "the number of flush cycles that ended in an error",
	})
	CommittedSequenceNumber = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delta_committed_sequence_number",
		Help: "the most recently committed source sequence number",
	})

	// TableErrorsTotal counts errors recorded against a table by
	// TableErrorSink.
	TableErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_table_errors_total",
		Help: "the number of errors recorded against a table",
	}, tableLabels)
)
