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
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// hostKeyPrefix namespaces the host's own GetState/PutState keys away
// from the ones internal/state writes under types.StateStore, since
// both boundaries happen to share a backing table in standalone mode.
const hostKeyPrefix = "host-"

// localHost is the types.Host this binary supplies on its own behalf.
// spec §1 treats "plugin/host lifecycle" as an external collaborator
// outside this core's scope; standalone operation still needs
// something behind that boundary, so this is a minimal host backed by
// the same state store the core already opened, not a full plugin
// runtime.
type localHost struct {
	store   types.StateStore
	app     string
	props   types.SourceProperties
	maxRetry int
	runtime map[string]string

	mu     sync.Mutex
	tables map[ident.Table]struct{}
	counts map[types.DMLOperation]int64
}

var _ types.Host = (*localHost)(nil)

func newLocalHost(store types.StateStore, app string, props types.SourceProperties, maxRetrySeconds int, runtimeArgs map[string]string) *localHost {
	return &localHost{
		store:    store,
		app:      app,
		props:    props,
		maxRetry: maxRetrySeconds,
		runtime:  runtimeArgs,
		tables:   make(map[ident.Table]struct{}),
		counts:   make(map[types.DMLOperation]int64),
	}
}

func (h *localHost) CommitOffset(_ context.Context, offset []byte, sequenceNumber int64) error {
	log.WithField("sequenceNumber", sequenceNumber).Debug("host observed offset commit")
	return nil
}

func (h *localHost) InitializeSequenceNumber(_ context.Context, n int64) error {
	log.WithField("sequenceNumber", n).Info("resuming from committed sequence number")
	return nil
}

func (h *localHost) IncrementCount(_ context.Context, op types.DMLOperation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[op]++
}

func (h *localHost) SetTableSnapshotting(_ context.Context, table ident.Table) {
	h.mu.Lock()
	h.tables[table] = struct{}{}
	h.mu.Unlock()
	log.WithField("table", table).Info("table snapshotting")
}

func (h *localHost) SetTableReplicating(_ context.Context, table ident.Table) {
	h.mu.Lock()
	h.tables[table] = struct{}{}
	h.mu.Unlock()
	log.WithField("table", table).Info("table replicating")
}

func (h *localHost) SetTableError(_ context.Context, table ident.Table, err error) {
	log.WithField("table", table).WithError(err).Error("table entered error state")
}

func (h *localHost) GetState(ctx context.Context, key string) ([]byte, error) {
	raw, _, err := h.store.Get(ctx, hostKeyPrefix+key)
	return raw, err
}

func (h *localHost) PutState(ctx context.Context, key string, value []byte) error {
	return h.store.Put(ctx, hostKeyPrefix+key, value)
}

func (h *localHost) GetAllTables(_ context.Context) ([]ident.Table, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tables := make([]ident.Table, 0, len(h.tables))
	for t := range h.tables {
		tables = append(tables, t)
	}
	return tables, nil
}

func (h *localHost) GetRuntimeArguments(_ context.Context) (map[string]string, error) {
	return h.runtime, nil
}

func (h *localHost) GetSourceProperties(_ context.Context) (types.SourceProperties, error) {
	return h.props, nil
}

func (h *localHost) GetMaxRetrySeconds(_ context.Context) int {
	return h.maxRetry
}

func (h *localHost) GetApplicationName(_ context.Context) string {
	return h.app
}
