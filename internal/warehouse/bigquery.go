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

package warehouse

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/pkg/errors"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
	"google.golang.org/api/googleapi"
)

// BigQuery adapts a *bigquery.Client to the types.Warehouse boundary
// (C4/C5/C6's target). It is the only place in the core that imports
// the BigQuery job-and-dataset API directly; everything above this
// package speaks types.TableInfo/LoadJobSpec/QueryJobSpec.
type BigQuery struct {
	client *bigquery.Client
}

var _ types.Warehouse = (*BigQuery)(nil)

// NewBigQuery wraps an existing BigQuery client.
func NewBigQuery(client *bigquery.Client) *BigQuery {
	return &BigQuery{client: client}
}

// reasonedError wraps a googleapi.Error so it satisfies
// retry.ReasonedError, surfacing the first sub-error's Reason for
// classification (§7). A googleapi.Error may carry zero sub-errors on
// older API responses; Reason returns "" in that case, which Classify
// treats as unrecognized and falls back to message sniffing.
type reasonedError struct {
	op  string
	err *googleapi.Error
}

func (e *reasonedError) Error() string { return e.op + ": " + e.err.Error() }
func (e *reasonedError) Unwrap() error { return e.err }
func (e *reasonedError) Reason() string {
	if len(e.err.Errors) == 0 {
		return ""
	}
	return e.err.Errors[0].Reason
}

// wrapErr annotates err with op context, extracting the googleapi
// reason when present so Classify can route on it.
func wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &reasonedError{op: op, err: apiErr}
	}
	return errors.Wrap(err, op)
}

// CreateDataset creates dataset if absent, tolerating a 409 Conflict
// from a concurrent creator racing it (§4.4's CreateDatabase idiom).
func (w *BigQuery) CreateDataset(ctx context.Context, project, dataset, location string) error {
	ds := w.client.DatasetInProject(project, dataset)
	err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: location})
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 409 {
		return nil
	}
	return wrapErr(err, "CreateDataset")
}

// DropDataset deletes dataset and every table inside it.
func (w *BigQuery) DropDataset(ctx context.Context, project, dataset string) error {
	ds := w.client.DatasetInProject(project, dataset)
	if err := ds.DeleteWithContents(ctx); err != nil {
		return wrapErr(err, "DropDataset")
	}
	return nil
}

// CreateTable creates a table from info's schema and clustering spec.
func (w *BigQuery) CreateTable(ctx context.Context, info types.TableInfo) error {
	tbl := w.tableRef(info.Table)
	meta := &bigquery.TableMetadata{Schema: toBQSchema(info.Schema)}
	if len(info.Clustering) > 0 {
		meta.Clustering = &bigquery.Clustering{Fields: info.Clustering}
	}
	if err := tbl.Create(ctx, meta); err != nil {
		return wrapErr(err, "CreateTable")
	}
	return nil
}

// UpdateTable replaces the target's schema with info's, the standard
// BigQuery schema-relaxation/field-addition update path (§4.6.3's
// "add the _sort column" flow, §4.4's AlterTable).
func (w *BigQuery) UpdateTable(ctx context.Context, info types.TableInfo) error {
	tbl := w.tableRef(info.Table)
	update := bigquery.TableMetadataToUpdate{Schema: toBQSchema(info.Schema)}
	if _, err := tbl.Update(ctx, update, ""); err != nil {
		return wrapErr(err, "UpdateTable")
	}
	return nil
}

// DeleteTable drops table, tolerating a not-found response so callers
// that don't know whether a staging table was ever created can always
// call this unconditionally.
func (w *BigQuery) DeleteTable(ctx context.Context, table ident.Table) error {
	if err := w.tableRef(table).Delete(ctx); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return nil
		}
		return wrapErr(err, "DeleteTable")
	}
	return nil
}

// GetTable fetches table's metadata, reporting exists=false rather
// than an error when it is absent.
func (w *BigQuery) GetTable(ctx context.Context, table ident.Table) (*types.TableInfo, bool, error) {
	meta, err := w.tableRef(table).Metadata(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return nil, false, nil
		}
		return nil, false, wrapErr(err, "GetTable")
	}
	info := &types.TableInfo{
		Table:  table,
		Schema: fromBQSchema(meta.Schema),
	}
	if meta.Clustering != nil {
		info.Clustering = meta.Clustering.Fields
	}
	return info, true, nil
}

// MaxSequence returns MAX(_sequence_num) for table, or 0 if the table
// is absent or empty (§3 "Sequence counters").
func (w *BigQuery) MaxSequence(ctx context.Context, table ident.Table) (int64, error) {
	if _, exists, err := w.GetTable(ctx, table); err != nil {
		return 0, err
	} else if !exists {
		return 0, nil
	}

	sql := fmt.Sprintf("SELECT IFNULL(MAX(%s), 0) AS m FROM `%s`", types.ColSequenceNum, table.String())
	q := w.client.Query(sql)
	it, err := q.Read(ctx)
	if err != nil {
		return 0, wrapErr(err, "MaxSequence")
	}
	var row struct{ M int64 }
	if err := it.Next(&row); err != nil {
		return 0, wrapErr(err, "MaxSequence")
	}
	return row.M, nil
}

// SubmitLoadJob starts an asynchronous load job from spec.SourceURI
// into spec.DestTable, appending rows and optionally relaxing the
// target schema to accept newly observed columns (§4.5).
func (w *BigQuery) SubmitLoadJob(ctx context.Context, spec types.LoadJobSpec) error {
	var source bigquery.LoadSource
	switch spec.Format {
	case types.FormatAvro:
		ref := bigquery.NewGCSReference(spec.SourceURI)
		ref.SourceFormat = bigquery.Avro
		source = ref
	default:
		ref := bigquery.NewGCSReference(spec.SourceURI)
		ref.SourceFormat = bigquery.JSON
		source = ref
	}

	loader := w.tableRef(spec.DestTable).LoaderFrom(source)
	loader.JobID = spec.JobID
	loader.Schema = toBQSchema(spec.Schema)
	if spec.WriteAppend {
		loader.WriteDisposition = bigquery.WriteAppend
	}
	if spec.AllowFieldAddition {
		loader.SchemaUpdateOptions = []string{"ALLOW_FIELD_ADDITION"}
	}

	if _, err := loader.Run(ctx); err != nil {
		return wrapErr(err, "SubmitLoadJob")
	}
	return nil
}

// SubmitQueryJob starts an asynchronous standard-SQL query job, used
// for the merge statement (§4.6) and any DDL BigQuery has no typed API
// for.
func (w *BigQuery) SubmitQueryJob(ctx context.Context, spec types.QueryJobSpec) error {
	q := w.client.Query(spec.SQL)
	q.JobID = spec.JobID
	if _, err := q.Run(ctx); err != nil {
		return wrapErr(err, "SubmitQueryJob")
	}
	return nil
}

// WaitForJob blocks until jobID reaches a terminal state and reports
// its outcome.
func (w *BigQuery) WaitForJob(ctx context.Context, jobID string) (types.JobStatus, error) {
	job, err := w.client.JobFromID(ctx, jobID)
	if err != nil {
		return types.JobStatus{}, wrapErr(err, "WaitForJob")
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return types.JobStatus{}, wrapErr(err, "WaitForJob")
	}
	if status.Err() != nil {
		retriable := len(status.Errors) > 0 && status.Errors[0].Reason != ""
		return types.JobStatus{Done: true, Err: wrapErr(status.Err(), "WaitForJob"), Retriable: retriable}, nil
	}
	return types.JobStatus{Done: true}, nil
}

// FindJob looks up a previously submitted job by its deterministic id
// (§4.5's retry-by-attempt scan). found is false when BigQuery has no
// record of the job at all (the common "never submitted" case);
// failed is true when the job exists but ended in error.
func (w *BigQuery) FindJob(ctx context.Context, jobID string) (found bool, failed bool, err error) {
	job, err := w.client.JobFromID(ctx, jobID)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return false, false, nil
		}
		return false, false, wrapErr(err, "FindJob")
	}
	status, err := job.Status(ctx)
	if err != nil {
		return false, false, wrapErr(err, "FindJob")
	}
	if status.State != bigquery.Done {
		return true, false, nil
	}
	return true, status.Err() != nil, nil
}

func (w *BigQuery) tableRef(table ident.Table) *bigquery.Table {
	return w.client.DatasetInProject(table.Project, table.Dataset).Table(table.Table)
}

// toBQSchema translates the core's coarse ColumnSchema list into a
// concrete bigquery.Schema, recursing into StructFields for the _sort
// bookkeeping column (§3).
func toBQSchema(cols []types.ColumnSchema) bigquery.Schema {
	schema := make(bigquery.Schema, len(cols))
	for i, c := range cols {
		schema[i] = toBQField(c)
	}
	return schema
}

func toBQField(c types.ColumnSchema) *bigquery.FieldSchema {
	f := &bigquery.FieldSchema{
		Name:     c.Name,
		Required: !c.Nullable,
		Type:     toBQType(c.Type),
	}
	if c.Type == types.TypeStruct {
		f.Schema = toBQSchema(c.StructFields)
	}
	return f
}

func toBQType(t types.ColumnType) bigquery.FieldType {
	switch t {
	case types.TypeBool:
		return bigquery.BooleanFieldType
	case types.TypeInt64:
		return bigquery.IntegerFieldType
	case types.TypeFloat64:
		return bigquery.FloatFieldType
	case types.TypeNumeric:
		return bigquery.NumericFieldType
	case types.TypeString:
		return bigquery.StringFieldType
	case types.TypeBytes:
		return bigquery.BytesFieldType
	case types.TypeDate:
		return bigquery.DateFieldType
	case types.TypeTimestamp:
		return bigquery.TimestampFieldType
	case types.TypeStruct:
		return bigquery.RecordFieldType
	case types.TypeArray:
		return bigquery.StringFieldType // BigQuery has no array FieldType and toBQField never sets Repeated, so an array column is a single STRING
	default:
		return bigquery.StringFieldType
	}
}

// fromBQSchema is the inverse of toBQSchema, used by GetTable to
// report the live target schema back to the DDL applier and merge
// engine (e.g. to check whether _sort is already present).
func fromBQSchema(schema bigquery.Schema) []types.ColumnSchema {
	cols := make([]types.ColumnSchema, len(schema))
	for i, f := range schema {
		cols[i] = types.ColumnSchema{
			Name:     f.Name,
			Type:     fromBQType(f.Type),
			Nullable: !f.Required,
		}
		if f.Type == bigquery.RecordFieldType {
			cols[i].StructFields = fromBQSchema(f.Schema)
		}
	}
	return cols
}

func fromBQType(t bigquery.FieldType) types.ColumnType {
	switch t {
	case bigquery.BooleanFieldType:
		return types.TypeBool
	case bigquery.IntegerFieldType:
		return types.TypeInt64
	case bigquery.FloatFieldType:
		return types.TypeFloat64
	case bigquery.NumericFieldType:
		return types.TypeNumeric
	case bigquery.StringFieldType:
		return types.TypeString
	case bigquery.BytesFieldType:
		return types.TypeBytes
	case bigquery.DateFieldType:
		return types.TypeDate
	case bigquery.TimestampFieldType:
		return types.TypeTimestamp
	case bigquery.RecordFieldType:
		return types.TypeStruct
	default:
		return types.TypeUnknown
	}
}
