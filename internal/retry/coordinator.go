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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// Coordinator runs operations under a Policy, honoring a process-wide
// shouldStop flag and recording per-table error state.
//
// The cenkalti/backoff/v4 ExponentialBackOff supplies the jittered
// delay schedule; Coordinator supplies everything backoff itself does
// not know about: the abort predicates, fatal/transient
// classification, and deterministic-job-id idempotency (handled by
// the caller, not here -- see internal/load).
type Coordinator struct {
	shouldStop func() bool
	errors     types.TableErrorSink
}

// New builds a Coordinator. shouldStop is consulted before every
// attempt, including each one that follows a backoff sleep; it is not
// consulted during a sleep. errors may be nil if per-table
// error recording is not needed (e.g. operations with no associated
// table).
func New(shouldStop func() bool, errors types.TableErrorSink) *Coordinator {
	if shouldStop == nil {
		shouldStop = func() bool { return false }
	}
	return &Coordinator{shouldStop: shouldStop, errors: errors}
}

// ErrShouldStop is returned when an operation aborts because the
// process-wide should-stop flag was observed.
var ErrShouldStop = errors.New("retry coordinator: should-stop observed")

// Do executes fn under the given policy and operation/table context.
// A Conflict classification of any attempt's error causes Do to
// return nil (swallowed); a Fatal classification wraps the error as
// a *types.DeltaFailure and returns immediately. Transient errors are
// retried with backoff until the policy's attempt/duration bounds are
// exhausted, at which point the last error is returned as a
// DeltaFailure with retry context.
func (c *Coordinator) Do(ctx context.Context, policy Policy, op string, table ident.Table, fn func(ctx context.Context, attempt int) error) error {
	b := c.backoffFor(policy)
	start := time.Now()
	attempt := 0

	for {
		if c.shouldStop() {
			return ErrShouldStop
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// attempt is 0-based, matching §4.5's job-id convention
		// ("<batchId>_<attempt>", scanned from attempt-1 down to 0 on
		// retry).
		err := fn(ctx, attempt)
		attempt++
		if err == nil {
			return nil
		}

		class := Classify(err)
		switch class {
		case Conflict:
			log.WithFields(log.Fields{"op": op, "table": table}).Trace("retry coordinator: swallowing conflict")
			return nil
		case Fatal:
			if c.errors != nil {
				c.errors.RecordError(ctx, table, err)
			}
			return types.WrapFatal(err, op, table.String())
		}

		// Transient: record the failed attempt (best-effort, never
		// fatal, per §7) and decide whether to keep retrying.
		if c.errors != nil {
			c.errors.RecordError(ctx, table, err)
		}

		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return types.WrapFatal(errors.Wrapf(err, "exhausted %d attempts", attempt), op, table.String())
		}
		if policy.MaxDuration > 0 && time.Since(start) >= policy.MaxDuration {
			return types.WrapFatal(errors.Wrapf(err, "exhausted retry duration %s", policy.MaxDuration), op, table.String())
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return types.WrapFatal(errors.Wrap(err, "backoff schedule exhausted"), op, table.String())
		}

		log.WithFields(log.Fields{
			"op":      op,
			"table":   table,
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Debug("retrying after transient error")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// backoffFor builds a cenkalti/backoff/v4 ExponentialBackOff matching
// the policy's base/cap/jitter. MaxElapsedTime is left at zero (no
// library-enforced stop) since Coordinator.Do enforces MaxDuration
// itself, alongside the MaxAttempts bound backoff has no concept of.
func (c *Coordinator) backoffFor(policy Policy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.Base
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = policy.Cap
	if b.MaxInterval <= 0 {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.RandomizationFactor = policy.Jitter
	if b.RandomizationFactor <= 0 {
		b.RandomizationFactor = DefaultJitter
	}
	b.Reset()
	return b
}
