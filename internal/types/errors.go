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

package types

import "github.com/pkg/errors"

// DeltaFailure is a fatal, non-retriable error. Once raised, it is
// latched by the consumer orchestrator and re-thrown from every
// subsequent public entry point until the process is restarted.
type DeltaFailure struct {
	Op    string // the operation that failed, e.g. "AlterTable"
	Table string // the table involved, may be empty
	cause error
}

// NewFatal builds a DeltaFailure with no operation/table context yet;
// callers typically use WithContext to annotate it once the failing
// operation is known.
func NewFatal(msg string) *DeltaFailure {
	return &DeltaFailure{cause: errors.New(msg)}
}

// WrapFatal wraps an existing error as a DeltaFailure.
func WrapFatal(err error, op, table string) *DeltaFailure {
	return &DeltaFailure{Op: op, Table: table, cause: err}
}

// WithContext returns a copy of the failure annotated with the
// operation and table that were in flight.
func (f *DeltaFailure) WithContext(op, table string) *DeltaFailure {
	return &DeltaFailure{Op: op, Table: table, cause: f.cause}
}

func (f *DeltaFailure) Error() string {
	switch {
	case f.Op != "" && f.Table != "":
		return "fatal error during " + f.Op + " on " + f.Table + ": " + f.cause.Error()
	case f.Op != "":
		return "fatal error during " + f.Op + ": " + f.cause.Error()
	default:
		return "fatal error: " + f.cause.Error()
	}
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (f *DeltaFailure) Unwrap() error { return f.cause }

// IsFatal reports whether err is, or wraps, a DeltaFailure.
func IsFatal(err error) (*DeltaFailure, bool) {
	var f *DeltaFailure
	ok := errors.As(err, &f)
	return f, ok
}
