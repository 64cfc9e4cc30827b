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

	"github.com/pkg/errors"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

type fakeReasonedError struct {
	reason string
}

func (e fakeReasonedError) Error() string  { return "reasoned: " + e.reason }
func (e fakeReasonedError) Reason() string { return e.reason }

func TestClassifyFatalErrorType(t *testing.T) {
	if got := Classify(types.NewFatal("boom")); got != Fatal {
		t.Errorf("Classify(*DeltaFailure) = %v, want Fatal", got)
	}
}

func TestClassifyContextErrorsAreTransient(t *testing.T) {
	if got := Classify(context.Canceled); got != Transient {
		t.Errorf("Classify(context.Canceled) = %v, want Transient", got)
	}
	if got := Classify(context.DeadlineExceeded); got != Transient {
		t.Errorf("Classify(context.DeadlineExceeded) = %v, want Transient", got)
	}
}

func TestClassifyReasonedErrors(t *testing.T) {
	cases := []struct {
		reason string
		want   Classification
	}{
		{"rateLimitExceeded", Transient},
		{"quotaExceeded", Transient},
		{"internalError", Transient},
		{"alreadyExists", Conflict},
		{"duplicate", Conflict},
		{"notFound", Fatal},
		{"invalid", Fatal},
	}
	for _, c := range cases {
		if got := Classify(fakeReasonedError{reason: c.reason}); got != c.want {
			t.Errorf("Classify(reason=%q) = %v, want %v", c.reason, got, c.want)
		}
	}
}

func TestClassifyFallsBackToMessageSniffing(t *testing.T) {
	if got := Classify(errors.New("table already exists")); got != Conflict {
		t.Errorf("Classify(%q) = %v, want Conflict", "table already exists", got)
	}
	if got := Classify(errors.New("resource not found")); got != Fatal {
		t.Errorf("Classify(%q) = %v, want Fatal", "resource not found", got)
	}
	if got := Classify(errors.New("connection reset")); got != Transient {
		t.Errorf("Classify(%q) = %v, want Transient", "connection reset", got)
	}
}

func TestClassifyWrappedFatalStillFatal(t *testing.T) {
	wrapped := errors.Wrap(types.NewFatal("boom"), "while doing X")
	if got := Classify(wrapped); got != Fatal {
		t.Errorf("Classify(wrapped fatal) = %v, want Fatal", got)
	}
}
