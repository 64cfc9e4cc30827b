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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

type recordingErrorSink struct {
	errs []error
}

func (s *recordingErrorSink) RecordError(_ context.Context, _ ident.Table, err error) {
	s.errs = append(s.errs, err)
}
func (s *recordingErrorSink) ClearError(context.Context, ident.Table) {}

var _ types.TableErrorSink = (*recordingErrorSink)(nil)

// noDelayPolicy keeps backoff delays at a single millisecond so retry
// tests run fast; Coordinator forces a 1 second floor whenever Base
// is left at zero, which would otherwise make these tests slow.
func noDelayPolicy() Policy {
	return Policy{MaxAttempts: 3, Base: time.Millisecond, Cap: time.Millisecond, Jitter: 0.0000001}
}

func TestCoordinatorSucceedsOnFirstAttempt(t *testing.T) {
	c := New(nil, nil)
	calls := 0
	err := c.Do(context.Background(), noDelayPolicy(), "Op", ident.Table{}, func(context.Context, int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt, got %d", calls)
	}
}

func TestCoordinatorSwallowsConflictWithoutRecordingError(t *testing.T) {
	sink := &recordingErrorSink{}
	c := New(nil, sink)
	calls := 0
	err := c.Do(context.Background(), noDelayPolicy(), "Op", ident.Table{}, func(context.Context, int) error {
		calls++
		return errors.New("table already exists")
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil (conflict swallowed)", err)
	}
	if calls != 1 {
		t.Errorf("a conflict must not be retried, got %d attempts", calls)
	}
	if len(sink.errs) != 0 {
		t.Errorf("a swallowed conflict should not be recorded as a table error, got %d", len(sink.errs))
	}
}

func TestCoordinatorReturnsFatalImmediately(t *testing.T) {
	sink := &recordingErrorSink{}
	c := New(nil, sink)
	calls := 0
	err := c.Do(context.Background(), noDelayPolicy(), "Op", ident.Table{}, func(context.Context, int) error {
		calls++
		return types.NewFatal("boom")
	})
	if _, ok := types.IsFatal(err); !ok {
		t.Fatalf("expected a fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("a fatal classification must not be retried, got %d attempts", calls)
	}
	if len(sink.errs) != 1 {
		t.Errorf("expected the fatal error to be recorded once, got %d", len(sink.errs))
	}
}

func TestCoordinatorExhaustsMaxAttemptsAsFatal(t *testing.T) {
	c := New(nil, nil)
	calls := 0
	err := c.Do(context.Background(), noDelayPolicy(), "Op", ident.Table{}, func(context.Context, int) error {
		calls++
		return errors.New("connection reset") // transient by message sniffing
	})
	if _, ok := types.IsFatal(err); !ok {
		t.Fatalf("expected exhausted attempts to surface as fatal, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly MaxAttempts=3 attempts, got %d", calls)
	}
}

func TestCoordinatorHonorsShouldStop(t *testing.T) {
	c := New(func() bool { return true }, nil)
	calls := 0
	err := c.Do(context.Background(), noDelayPolicy(), "Op", ident.Table{}, func(context.Context, int) error {
		calls++
		return nil
	})
	if err != ErrShouldStop {
		t.Fatalf("Do() = %v, want ErrShouldStop", err)
	}
	if calls != 0 {
		t.Errorf("shouldStop must be checked before the first attempt, got %d calls", calls)
	}
}
