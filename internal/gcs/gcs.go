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

// Package gcs adapts cloud.google.com/go/storage to the
// types.BlobStore boundary (C2's object-store half).
package gcs

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
	"google.golang.org/api/googleapi"
)

// Client wraps a *storage.Client as a types.BlobStore.
type Client struct {
	sc *storage.Client
}

var _ types.BlobStore = (*Client)(nil)

// New wraps an existing storage client.
func New(sc *storage.Client) *Client {
	return &Client{sc: sc}
}

// EnsureBucket creates the bucket if absent, tolerating a Conflict
// (409) response so concurrent workers racing to create the same
// bucket never fail, per §4.4's CreateDatabase idiom applied to the
// blob store.
func (c *Client) EnsureBucket(ctx context.Context, bucket, location string) error {
	b := c.sc.Bucket(bucket)
	if _, err := b.Attrs(ctx); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrBucketNotExist) {
		return errors.Wrapf(err, "checking bucket %s", bucket)
	}

	err := b.Create(ctx, "", &storage.BucketAttrs{Location: location})
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 409 {
		return nil // conflict tolerated: another worker created it first
	}
	return errors.Wrapf(err, "creating bucket %s", bucket)
}

// WriteObject writes data as a single immutable object.
func (c *Client) WriteObject(ctx context.Context, bucket, path string, data []byte) error {
	w := c.sc.Bucket(bucket).Object(path).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "writing object %s/%s", bucket, path)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "closing object writer %s/%s", bucket, path)
	}
	return nil
}

// ReadObject reads an entire object into memory.
func (c *Client) ReadObject(ctx context.Context, bucket, path string) ([]byte, error) {
	r, err := c.sc.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "opening object %s/%s", bucket, path)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "reading object %s/%s", bucket, path)
	}
	return data, nil
}

// DeleteObject removes an object. Per §4.5/§7, callers treat a
// failure here as best-effort: this method still surfaces the error
// so the caller can choose to log and swallow it.
func (c *Client) DeleteObject(ctx context.Context, bucket, path string) error {
	if err := c.sc.Bucket(bucket).Object(path).Delete(ctx); err != nil {
		return errors.Wrapf(err, "deleting object %s/%s", bucket, path)
	}
	return nil
}

// ObjectPath builds the "cdap/delta/<app>/<db>/<table>/<batchId>"
// path convention from §4.3/§6.
func ObjectPath(app, database, table string, batchID int64) string {
	return objectPathf(app, database, table, batchID)
}
