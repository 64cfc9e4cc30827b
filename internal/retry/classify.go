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

package retry

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// Classification is the taxonomy from spec §7.
type Classification int

// The three classifications a failed attempt can receive.
const (
	// Transient errors are retried with backoff.
	Transient Classification = iota
	// Conflict errors are swallowed outright (idempotency-tolerant).
	Conflict
	// Fatal errors stop the pipeline.
	Fatal
)

// ReasonedError is implemented by warehouse/blob-store errors that
// carry a machine-readable reason string, e.g. a BigQuery API error.
type ReasonedError interface {
	error
	Reason() string
}

// retriableReasons are BigQuery/GCS error reasons that are always
// safe to retry, supplementing the standard retriable set per §7
// ("Rate-limit and billing-tier errors with specific reasons are
// explicitly retriable").
var retriableReasons = map[string]bool{
	"rateLimitExceeded":       true,
	"quotaExceeded":           true,
	"backendError":            true,
	"internalError":           true,
	"billingTierLimitExceeded": true,
}

// conflictReasons cause the operation to be treated as a no-op.
var conflictReasons = map[string]bool{
	"duplicate":     true,
	"alreadyExists": true,
}

// fatalReasons never succeed no matter how many times they are
// retried.
var fatalReasons = map[string]bool{
	"invalid":  true,
	"notFound": true,
}

// Classify determines how a failed attempt should be treated.
func Classify(err error) Classification {
	if err == nil {
		return Transient // never called with a nil error in practice
	}
	if _, ok := types.IsFatal(err); ok {
		return Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var reasoned ReasonedError
	if errors.As(err, &reasoned) {
		reason := reasoned.Reason()
		switch {
		case conflictReasons[reason]:
			return Conflict
		case fatalReasons[reason]:
			return Fatal
		case retriableReasons[reason]:
			return Transient
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"), strings.Contains(msg, "conflict"):
		return Conflict
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "not found"):
		return Fatal
	default:
		return Transient
	}
}
