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

// Package retry implements the C7 Retry Coordinator: uniform bounded
// retry with exponential backoff and jitter, deterministic-job-id
// idempotency support, and classification of fatal vs transient
// errors, per spec §4.7.
package retry

import (
	"math"
	"time"
)

// Policy parameterizes a single retry loop. It mirrors the generic
// retrier shape prescribed by the design notes (§9): "a generic
// retrier parameterized by (maxAttempts, maxDuration, base, cap,
// jitter, retryableClassifier, abortClassifier, onFailedAttempt)".
type Policy struct {
	// MaxAttempts bounds the number of tries. Zero means unbounded
	// (the caller should instead rely on MaxDuration).
	MaxAttempts int
	// MaxDuration bounds the total wall-clock time spent retrying.
	// Zero means unbounded.
	MaxDuration time.Duration
	// Base is the initial backoff delay.
	Base time.Duration
	// Cap is the maximum backoff delay, before jitter is applied.
	Cap time.Duration
	// Jitter is the fractional jitter applied to each delay, e.g.
	// 0.1 for +/-10%.
	Jitter float64
}

// DefaultJitter matches the +/-10% jitter specified in §4.7.
const DefaultJitter = 0.10

// CommitPolicy is the retry policy for offset commits: effectively
// unbounded attempts, per §4.7 ("Integer.MAX for commit").
func CommitPolicy() Policy {
	return Policy{
		MaxAttempts: math.MaxInt32,
		Base:        10 * time.Second,
		Cap:         90 * time.Second,
		Jitter:      DefaultJitter,
	}
}

// BlobWriterPolicy is the retry policy for blob-store writes: 25
// attempts, 2 minute cap, per §4.7.
func BlobWriterPolicy() Policy {
	return Policy{
		MaxAttempts: 25,
		MaxDuration: 2 * time.Minute,
		Base:        10 * time.Second,
		Cap:         90 * time.Second,
		Jitter:      DefaultJitter,
	}
}

// LoadMergePolicy is the retry policy for load and merge jobs: bounded
// by the host-supplied maxRetrySeconds, with a cap derived from the
// load interval per §4.7 ("cap = max(base+1, loadInterval) seconds").
func LoadMergePolicy(base time.Duration, loadInterval time.Duration, maxRetrySeconds int) Policy {
	cap := loadInterval
	if minCap := base + time.Second; cap < minCap {
		cap = minCap
	}
	return Policy{
		MaxDuration: time.Duration(maxRetrySeconds) * time.Second,
		Base:        base,
		Cap:         cap,
		Jitter:      DefaultJitter,
	}
}

// DDLPolicy is the retry policy for DDL operations: a short fixed cap
// of 2 minutes, per §4.7 ("2 minutes for some ops").
func DDLPolicy() Policy {
	return Policy{
		MaxDuration: 2 * time.Minute,
		Base:        10 * time.Second,
		Cap:         90 * time.Second,
		Jitter:      DefaultJitter,
	}
}
