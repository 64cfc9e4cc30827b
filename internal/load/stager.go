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

package load

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// Stager submits TableBlobs into staging tables (streaming) or
// directly into the target (snapshot), per spec §4.5.
type Stager struct {
	warehouse     types.Warehouse
	blobs         types.BlobStore
	bucket        string
	app           string
	stagingPrefix string
	retainStaging bool
}

// New builds a Stager.
func New(warehouse types.Warehouse, blobs types.BlobStore, bucket, app, stagingPrefix string, retainStaging bool) *Stager {
	return &Stager{
		warehouse:     warehouse,
		blobs:         blobs,
		bucket:        bucket,
		app:           app,
		stagingPrefix: stagingPrefix,
		retainStaging: retainStaging,
	}
}

// StagingTable returns the staging-table identifier for table.
func (s *Stager) StagingTable(table ident.Table) ident.Table {
	return ident.NewTable(table.Project, table.Dataset, s.stagingPrefix+table.Table)
}

// LoadStreaming loads blob into the staging table, creating it first
// if absent (clustered on _batch_id). attempt is the 0-based retry
// attempt number supplied by the retry coordinator; it is folded into
// the deterministic job id and drives the retry-by-attempt scan that
// makes a retried load idempotent (§4.5).
func (s *Stager) LoadStreaming(ctx context.Context, blob *types.TableBlob, attempt int) error {
	staging := s.StagingTable(blob.Table)

	if _, exists, err := s.warehouse.GetTable(ctx, staging); err != nil {
		return err
	} else if !exists {
		info := types.TableInfo{
			Table:      staging,
			Schema:     blob.StagingSchema,
			Clustering: []string{types.ColBatchID},
		}
		if err := s.warehouse.CreateTable(ctx, info); err != nil {
			return err
		}
	}

	id, err := s.resolveJobID(ctx, kindStage, staging, blob.BatchID, attempt)
	if err != nil {
		return err
	}
	if id.reused {
		return s.wait(ctx, id.id)
	}

	spec := types.LoadJobSpec{
		JobID:              id.id,
		SourceURI:          blob.BlobHandle,
		DestTable:          staging,
		Schema:             blob.StagingSchema,
		Format:             blob.Format,
		AllowFieldAddition: true,
		WriteAppend:        true,
	}
	if err := s.warehouse.SubmitLoadJob(ctx, spec); err != nil {
		return err
	}
	return s.wait(ctx, id.id)
}

// wait blocks until jobID reaches a terminal state, surfacing either a
// transport-level error or the job's own terminal error as a single
// error return for callers that only care whether the job succeeded.
func (s *Stager) wait(ctx context.Context, jobID string) error {
	status, err := s.warehouse.WaitForJob(ctx, jobID)
	if err != nil {
		return err
	}
	return status.Err
}

// LoadDirect loads a snapshot blob directly into the target table,
// bypassing staging and merge entirely (GLOSSARY: "Direct load").
func (s *Stager) LoadDirect(ctx context.Context, blob *types.TableBlob, attempt int) error {
	id, err := s.resolveJobID(ctx, kindTarget, blob.Table, blob.BatchID, attempt)
	if err != nil {
		return err
	}
	if id.reused {
		return s.wait(ctx, id.id)
	}

	spec := types.LoadJobSpec{
		JobID:              id.id,
		SourceURI:          blob.BlobHandle,
		DestTable:          blob.Table,
		Schema:             blob.TargetSchema,
		Format:             blob.Format,
		AllowFieldAddition: true,
		WriteAppend:        true,
	}
	if err := s.warehouse.SubmitLoadJob(ctx, spec); err != nil {
		return err
	}
	return s.wait(ctx, id.id)
}

// Cleanup runs the post-merge bookkeeping from §4.6.4/§4.5: drop the
// staging table unless retainStagingTable is set, and best-effort
// delete the blob object. A delete failure here is logged only, never
// fatal (§7 "best-effort cleanup failures").
func (s *Stager) Cleanup(ctx context.Context, blob *types.TableBlob) {
	if !s.retainStaging {
		staging := s.StagingTable(blob.Table)
		if err := s.warehouse.DeleteTable(ctx, staging); err != nil {
			log.WithFields(log.Fields{"table": staging}).WithError(err).Warn("dropping staging table failed")
		}
	}
	bucket, path := splitHandle(blob.BlobHandle, s.bucket)
	if err := s.blobs.DeleteObject(ctx, bucket, path); err != nil {
		log.WithFields(log.Fields{"blob": blob.BlobHandle}).WithError(err).Warn("deleting blob object failed")
	}
}

// ResolveMergeJobID applies the same retry-by-attempt scan used for
// load jobs (§4.5) to the merge query job, so a retried merge reuses
// a prior successful attempt's job id instead of resubmitting. The
// caller still executes the merge when reused is false; when true,
// the caller should only wait on the existing job.
func (s *Stager) ResolveMergeJobID(ctx context.Context, table ident.Table, batchID int64, attempt int) (id string, reused bool, err error) {
	r, err := s.resolveJobID(ctx, kindMerge, table, batchID, attempt)
	if err != nil {
		return "", false, err
	}
	return r.id, r.reused, nil
}

// DeleteBlobBestEffort removes the blob object for a direct-loaded
// snapshot blob. There is no staging table to drop in this path
// (§4.5 "Direct load ... bypassing staging and merge"), so this is
// narrower than Cleanup but follows the same best-effort contract.
func (s *Stager) DeleteBlobBestEffort(ctx context.Context, blob *types.TableBlob) {
	bucket, path := splitHandle(blob.BlobHandle, s.bucket)
	if err := s.blobs.DeleteObject(ctx, bucket, path); err != nil {
		log.WithFields(log.Fields{"blob": blob.BlobHandle}).WithError(err).Warn("deleting blob object failed")
	}
}

type resolvedJob struct {
	id     string
	reused bool
}

// resolveJobID implements §4.5's retry-by-attempt scan: "On retry
// (attempt >= 1), C5 first scans attempts [attempt-1, ..., 0]: if any
// prior job exists and did not fail, it is reused".
func (s *Stager) resolveJobID(ctx context.Context, kind jobKind, table ident.Table, batchID int64, attempt int) (resolvedJob, error) {
	for prior := attempt - 1; prior >= 0; prior-- {
		id := jobID(s.app, kind, table, batchID, prior)
		found, failed, err := s.warehouse.FindJob(ctx, id)
		if err != nil {
			return resolvedJob{}, err
		}
		if found && !failed {
			return resolvedJob{id: id, reused: true}, nil
		}
	}
	return resolvedJob{id: jobID(s.app, kind, table, batchID, attempt)}, nil
}

// splitHandle reconstructs (bucket, path) from a "gs://bucket/path"
// blob handle, falling back to defaultBucket if the handle is not in
// that form.
func splitHandle(handle, defaultBucket string) (bucket, path string) {
	const prefix = "gs://"
	if len(handle) <= len(prefix) || handle[:len(prefix)] != prefix {
		return defaultBucket, handle
	}
	rest := handle[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}
