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

// Package warehouse builds the standardized BigQuery and GCS client
// connections the core depends on, following the teacher's stdpool
// connect-with-retry idiom but retargeted at Google Cloud clients
// instead of a SQL driver.
package warehouse

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Clients bundles the two Google Cloud client handles the core needs:
// BigQuery for the warehouse and state-store boundaries (C1, C4, C5,
// C6), GCS for the blob-store boundary (C2).
type Clients struct {
	BigQuery *bigquery.Client
	Storage  *storage.Client
}

// Close releases both underlying clients.
func (c *Clients) Close() {
	if c.BigQuery != nil {
		if err := c.BigQuery.Close(); err != nil {
			log.WithError(err).Warn("closing bigquery client")
		}
	}
	if c.Storage != nil {
		if err := c.Storage.Close(); err != nil {
			log.WithError(err).Warn("closing storage client")
		}
	}
}

// Option configures client construction, mirroring the teacher's
// stdpool.Option pattern.
type Option func(*openConfig)

type openConfig struct {
	credentialsJSON []byte
	retryWait       time.Duration
	retryAttempts   int
}

// WithCredentialsJSON supplies an explicit service-account key blob
// instead of ambient application-default credentials, per the
// "auto-detect" config convention in §6.
func WithCredentialsJSON(key []byte) Option {
	return func(c *openConfig) { c.credentialsJSON = key }
}

// WithConnectRetry configures how many times, and how far apart,
// Open retries a failed client construction or initial ping. This
// mirrors the teacher's stdpool startup-wait loop (OpenMySQLAsTarget's
// "waiting for database to become ready"), generalized to any
// transient Cloud API failure at process start.
func WithConnectRetry(attempts int, wait time.Duration) Option {
	return func(c *openConfig) {
		c.retryAttempts = attempts
		c.retryWait = wait
	}
}

// Open builds a Clients bundle for project, retrying transient
// failures at startup (DNS hiccups, short-lived auth-token-server
// outages) the same way the teacher's pool constructors wait for a
// freshly-started database to accept connections.
func Open(ctx context.Context, project string, opts ...Option) (*Clients, error) {
	cfg := openConfig{retryAttempts: 5, retryWait: 2 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	var clientOpts []option.ClientOption
	if len(cfg.credentialsJSON) > 0 {
		clientOpts = append(clientOpts, option.WithCredentialsJSON(cfg.credentialsJSON))
	}

	bq, err := openWithRetry(ctx, cfg, func(ctx context.Context) (*bigquery.Client, error) {
		return bigquery.NewClient(ctx, project, clientOpts...)
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening bigquery client")
	}

	gcs, err := openWithRetry(ctx, cfg, func(ctx context.Context) (*storage.Client, error) {
		return storage.NewClient(ctx, clientOpts...)
	})
	if err != nil {
		_ = bq.Close()
		return nil, errors.Wrap(err, "opening storage client")
	}

	return &Clients{BigQuery: bq, Storage: gcs}, nil
}

// openWithRetry retries a client constructor up to cfg.retryAttempts
// times, waiting cfg.retryWait between attempts, honoring ctx
// cancellation. Construction failures at process start are almost
// always transient credential-server or DNS hiccups, so a short retry
// loop here avoids bouncing the whole process for them.
func openWithRetry[T any](ctx context.Context, cfg openConfig, build func(context.Context) (T, error)) (T, error) {
	var (
		client T
		err    error
	)
	for attempt := 0; ; attempt++ {
		client, err = build(ctx)
		if err == nil {
			return client, nil
		}
		if attempt >= cfg.retryAttempts {
			return client, err
		}
		log.WithError(err).WithField("attempt", attempt).Info("waiting to retry client construction")
		timer := time.NewTimer(cfg.retryWait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		}
	}
}
