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

package state

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/pkg/errors"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
	"google.golang.org/api/iterator"
)

// tableName is the name of the key-value table maintained in the
// staging dataset to back the State Store adapter.
const tableName = "_delta_state"

// offsetKey is the reserved key under which the committed
// offset/sequence pair is stored.
const offsetKey = "__offset__"

// BigQueryStore implements types.StateStore on top of a dedicated
// table in the staging BigQuery dataset. Every call runs a single
// DML statement; callers are expected to wrap calls in the retry
// coordinator the way every other warehouse operation is (§4.2, §4.7).
type BigQueryStore struct {
	client  *bigquery.Client
	project string
	dataset string
}

var _ types.StateStore = (*BigQueryStore)(nil)

// NewBigQueryStore builds a BigQueryStore backed by the given client
// and staging dataset. EnsureSchema must be called once before use.
func NewBigQueryStore(client *bigquery.Client, project, dataset string) *BigQueryStore {
	return &BigQueryStore{client: client, project: project, dataset: dataset}
}

func (s *BigQueryStore) qualified() string {
	return fmt.Sprintf("`%s`.`%s`.`%s`", s.project, s.dataset, tableName)
}

// EnsureSchema creates the backing table if it does not already
// exist.
func (s *BigQueryStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  state_key STRING NOT NULL,
  state_value BYTES,
  sequence_number INT64,
  updated_at TIMESTAMP
)`, s.qualified())
	q := s.client.Query(ddl)
	job, err := q.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "creating state store table")
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return errors.Wrap(err, "waiting for state store table creation")
	}
	if err := status.Err(); err != nil {
		return errors.Wrap(err, "state store table creation failed")
	}
	return nil
}

// Get implements types.StateStore.
func (s *BigQueryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	q := s.client.Query(fmt.Sprintf(
		"SELECT state_value FROM %s WHERE state_key = @key LIMIT 1", s.qualified()))
	q.Parameters = []bigquery.QueryParameter{{Name: "key", Value: key}}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading state key %s", key)
	}
	var row struct {
		StateValue []byte `bigquery:"state_value"`
	}
	switch err := it.Next(&row); err {
	case nil:
		return row.StateValue, true, nil
	case iterator.Done:
		return nil, false, nil
	default:
		return nil, false, errors.Wrapf(err, "scanning state key %s", key)
	}
}

// Put implements types.StateStore.
func (s *BigQueryStore) Put(ctx context.Context, key string, value []byte) error {
	return s.upsert(ctx, key, value, nil)
}

// CommitOffset implements types.StateStore. It uses a MERGE so that
// the monotonicity check and the write happen atomically within a
// single statement, matching the "atomic commitOffset" contract of
// §4.2 without relying on external locking. A call whose sequence
// number does not exceed the stored one matches no row to update, so
// it changes nothing and returns nil rather than an error.
func (s *BigQueryStore) CommitOffset(ctx context.Context, offset []byte, sequenceNumber int64) error {
	merge := fmt.Sprintf(`
MERGE %s T
USING (SELECT @key AS state_key, @value AS state_value, @seq AS sequence_number) S
ON T.state_key = S.state_key
WHEN MATCHED AND (T.sequence_number IS NULL OR S.sequence_number > T.sequence_number) THEN
  UPDATE SET state_value = S.state_value, sequence_number = S.sequence_number, updated_at = CURRENT_TIMESTAMP()
WHEN NOT MATCHED THEN
  INSERT (state_key, state_value, sequence_number, updated_at)
  VALUES (S.state_key, S.state_value, S.sequence_number, CURRENT_TIMESTAMP())`, s.qualified())

	q := s.client.Query(merge)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "key", Value: offsetKey},
		{Name: "value", Value: offset},
		{Name: "seq", Value: sequenceNumber},
	}
	job, err := q.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "committing offset")
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return errors.Wrap(err, "waiting for offset commit")
	}
	return errors.Wrap(status.Err(), "offset commit failed")
}

// GetOffset implements types.StateStore.
func (s *BigQueryStore) GetOffset(ctx context.Context) ([]byte, int64, error) {
	q := s.client.Query(fmt.Sprintf(
		"SELECT state_value, sequence_number FROM %s WHERE state_key = @key LIMIT 1", s.qualified()))
	q.Parameters = []bigquery.QueryParameter{{Name: "key", Value: offsetKey}}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "reading committed offset")
	}
	var row struct {
		StateValue     []byte `bigquery:"state_value"`
		SequenceNumber int64  `bigquery:"sequence_number"`
	}
	switch err := it.Next(&row); err {
	case nil:
		return row.StateValue, row.SequenceNumber, nil
	case iterator.Done:
		return nil, 0, nil
	default:
		return nil, 0, errors.Wrap(err, "scanning committed offset")
	}
}

func (s *BigQueryStore) upsert(ctx context.Context, key string, value []byte, seq *int64) error {
	merge := fmt.Sprintf(`
MERGE %s T
USING (SELECT @key AS state_key, @value AS state_value) S
ON T.state_key = S.state_key
WHEN MATCHED THEN
  UPDATE SET state_value = S.state_value, updated_at = CURRENT_TIMESTAMP()
WHEN NOT MATCHED THEN
  INSERT (state_key, state_value, updated_at)
  VALUES (S.state_key, S.state_value, CURRENT_TIMESTAMP())`, s.qualified())

	q := s.client.Query(merge)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "key", Value: key},
		{Name: "value", Value: value},
	}
	job, err := q.Run(ctx)
	if err != nil {
		return errors.Wrapf(err, "putting state key %s", key)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return errors.Wrapf(err, "waiting for state key %s", key)
	}
	return errors.Wrapf(status.Err(), "put failed for state key %s", key)
}
