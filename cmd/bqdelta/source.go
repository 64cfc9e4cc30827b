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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/consumer"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// envelope is the newline-delimited-JSON wire shape this binary reads
// its change events from. The upstream event producer is an external
// collaborator out of scope for the core (spec §1); a flat NDJSON file
// is the simplest stand-in source for driving the pipeline end to end
// outside of a full plugin-host deployment.
type envelope struct {
	Kind string          `json:"kind"` // "ddl" or "dml"
	DDL  *types.DDLEvent `json:"ddl,omitempty"`
	DML  *types.DMLEvent `json:"dml,omitempty"`
}

// replayEvents decodes one envelope per line from r and applies each
// to orch in order, stopping at the first error or at EOF.
func replayEvents(ctx context.Context, orch *consumer.Orchestrator, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(text, &env); err != nil {
			return errors.Wrapf(err, "decoding event at line %d", line)
		}

		var err error
		switch env.Kind {
		case "ddl":
			if env.DDL == nil {
				err = errors.Errorf("line %d: kind=ddl with no ddl payload", line)
			} else {
				err = orch.ApplyDDL(ctx, *env.DDL)
			}
		case "dml":
			if env.DML == nil {
				err = errors.Errorf("line %d: kind=dml with no dml payload", line)
			} else {
				err = orch.ApplyDML(ctx, *env.DML)
			}
		default:
			err = errors.Errorf("line %d: unrecognized kind %q", line, env.Kind)
		}
		if err != nil {
			return errors.Wrapf(err, "applying event at line %d", line)
		}
	}
	return scanner.Err()
}
