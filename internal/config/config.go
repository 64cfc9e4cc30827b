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

// Package config declares the user-visible configuration surface of
// the core, per spec §6, and how it binds to command-line flags.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config holds every recognized configuration key.
type Config struct {
	Project            string
	ServiceAccountKey  string
	StagingBucket      string
	StagingBucketLoc   string
	StagingTablePrefix string
	LoadIntervalSeconds int
	RequireManualDrops bool
	SoftDeletes        bool
	DatasetName        string
	EncryptionKeyName  string
	MaxClusteringCols  int
	RetainStagingTable bool
	BlobFormat         string
	MaxConcurrentBlobWrites int

	// Runtime arguments, populated by the host at start-up. A
	// runtime arg always wins over the corresponding static config
	// value; currently only the CMEK key name has a runtime
	// override, per §6.
	RuntimeArgs map[string]string
}

// Default values for the recognized configuration keys, per spec §6.
const (
	DefaultStagingTablePrefix      = "_staging_"
	DefaultLoadIntervalSeconds     = 90
	DefaultMaxClusteringColumns    = 4
	DefaultMaxConcurrentBlobWrites = 8
	DefaultBlobFormat              = "avro"

	// RuntimeArgCMEKKeyName is the runtime-argument override for the
	// customer-managed encryption key name.
	RuntimeArgCMEKKeyName = "gcp.cmek.key.name"
)

// Bind registers flags for every recognized configuration key,
// following the teacher's Bind(flags *pflag.FlagSet) convention.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.Project, "project", "auto-detect",
		"the target GCP project; 'auto-detect' uses ambient credentials")
	flags.StringVar(&c.ServiceAccountKey, "serviceAccountKey", "auto-detect",
		"path to a service account key JSON file, or 'auto-detect' to use ambient credentials; the key contents themselves are not accepted")
	flags.StringVar(&c.StagingBucket, "stagingBucket", "",
		"override for the GCS staging bucket name")
	flags.StringVar(&c.StagingBucketLoc, "stagingBucketLocation", "",
		"region to use when creating the staging bucket")
	flags.StringVar(&c.StagingTablePrefix, "stagingTablePrefix", DefaultStagingTablePrefix,
		"prefix applied to the name of every staging table")
	flags.IntVar(&c.LoadIntervalSeconds, "loadInterval", DefaultLoadIntervalSeconds,
		"seconds between scheduled flushes")
	flags.BoolVar(&c.RequireManualDrops, "requireManualDrops", false,
		"if true, DropDatabase raises a fatal error instead of dropping the dataset")
	flags.BoolVar(&c.SoftDeletes, "softDeletes", false,
		"if true, ordered deletes are represented as _is_deleted=TRUE instead of row removal")
	flags.StringVar(&c.DatasetName, "datasetName", "",
		"override for the target dataset name; defaults to the normalized source database name")
	flags.StringVar(&c.EncryptionKeyName, "encryptionKeyName", "",
		"customer-managed encryption key name")
	flags.IntVar(&c.MaxClusteringCols, "gcp.bigquery.max.clustering.columns", DefaultMaxClusteringColumns,
		"maximum number of primary key columns used for clustering")
	flags.BoolVar(&c.RetainStagingTable, "retain.staging.table", false,
		"if true, the staging table is not dropped after a successful merge")
	flags.StringVar(&c.BlobFormat, "blobFormat", DefaultBlobFormat,
		"blob encoding to use: 'avro' or 'json'")
	flags.IntVar(&c.MaxConcurrentBlobWrites, "maxConcurrentBlobWrites", DefaultMaxConcurrentBlobWrites,
		"maximum number of blob-store writes to run concurrently during a flush")
}

// LoadInterval returns the configured flush interval as a Duration.
func (c *Config) LoadInterval() time.Duration {
	return time.Duration(c.LoadIntervalSeconds) * time.Second
}

// ResolvedEncryptionKeyName returns the encryption key name to use,
// preferring the runtime argument override over the static config
// value, per §6.
func (c *Config) ResolvedEncryptionKeyName() string {
	if c.RuntimeArgs != nil {
		if v, ok := c.RuntimeArgs[RuntimeArgCMEKKeyName]; ok && v != "" {
			return v
		}
	}
	return c.EncryptionKeyName
}

// Preflight validates the configuration, following the teacher's
// Preflight() error convention.
func (c *Config) Preflight() error {
	if c.Project == "" {
		return errors.New("project unset")
	}
	if c.LoadIntervalSeconds <= 0 {
		return errors.New("loadInterval must be positive")
	}
	if c.MaxClusteringCols <= 0 {
		return errors.New("gcp.bigquery.max.clustering.columns must be positive")
	}
	if c.MaxConcurrentBlobWrites <= 0 {
		return errors.New("maxConcurrentBlobWrites must be positive")
	}
	switch c.BlobFormat {
	case "avro", "json":
	default:
		return fmt.Errorf("blobFormat must be 'avro' or 'json', got %q", c.BlobFormat)
	}
	return nil
}

// StagingBucketName returns the effective staging bucket name,
// applying the default naming convention when no override is set.
func (c *Config) StagingBucketName(namespace, appName string, generation int64) string {
	if c.StagingBucket != "" {
		return c.StagingBucket
	}
	return fmt.Sprintf("df-rbq-%s-%s-%d", namespace, appName, generation)
}
