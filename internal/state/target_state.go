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

package state

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// record is the JSON-on-the-wire shape of a TargetTableState. Kept
// separate from types.TargetTableState so that the wire format can
// evolve independently of the in-memory struct.
type record struct {
	PrimaryKeys          []string           `json:"primaryKeys"`
	SortKeyTypes         []types.ColumnType `json:"sortKeyTypes,omitempty"`
	SortKeyAddedToTarget bool               `json:"sortKeyAddedToTarget"`
}

// LoadTargetTableState reads and deserializes the TargetTableState
// for table from store, if present.
func LoadTargetTableState(ctx context.Context, store types.StateStore, table ident.Table) (*types.TargetTableState, bool, error) {
	raw, ok, err := store.Get(ctx, table.StateKey())
	if err != nil {
		return nil, false, errors.Wrapf(err, "loading table state for %s", table)
	}
	if !ok || len(raw) == 0 {
		// A zero-length value is the tombstone DeleteTargetTableState
		// writes for a dropped table; treat it the same as absent.
		return nil, false, nil
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, errors.Wrapf(err, "corrupt table state for %s", table)
	}
	return &types.TargetTableState{
		PrimaryKeys:          r.PrimaryKeys,
		SortKeyTypes:         r.SortKeyTypes,
		SortKeyAddedToTarget: r.SortKeyAddedToTarget,
	}, true, nil
}

// SaveTargetTableState serializes and persists state for table.
func SaveTargetTableState(ctx context.Context, store types.StateStore, table ident.Table, state *types.TargetTableState) error {
	r := record{
		PrimaryKeys:          state.PrimaryKeys,
		SortKeyTypes:         state.SortKeyTypes,
		SortKeyAddedToTarget: state.SortKeyAddedToTarget,
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return errors.Wrapf(err, "serializing table state for %s", table)
	}
	return store.Put(ctx, table.StateKey(), raw)
}

// DeleteTargetTableState removes the cached state for table, used by
// DropTable.
func DeleteTargetTableState(ctx context.Context, store types.StateStore, table ident.Table) error {
	// StateStore has no Delete; an empty record is an adequate tombstone
	// since the DDL applier always re-validates PK non-emptiness before
	// trusting a cached state (see internal/ddl).
	return store.Put(ctx, table.StateKey(), nil)
}

// SetDirectLoadInProgress records or clears the direct-load-in-
// progress flag for table, per §4.2's "single byte boolean" key.
func SetDirectLoadInProgress(ctx context.Context, store types.StateStore, table ident.Table, inProgress bool) error {
	var b byte
	if inProgress {
		b = 1
	}
	return store.Put(ctx, table.DirectLoadKey(), []byte{b})
}

// IsDirectLoadInProgress reports whether a stale direct-load flag is
// set for table.
func IsDirectLoadInProgress(ctx context.Context, store types.StateStore, table ident.Table) (bool, error) {
	raw, ok, err := store.Get(ctx, table.DirectLoadKey())
	if err != nil {
		return false, err
	}
	return ok && len(raw) == 1 && raw[0] == 1, nil
}
