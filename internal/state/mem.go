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

// Package state implements the C1 State Store adapter: a thin
// key-to-bytes mapping plus an atomic offset commit, per spec §4.2.
package state

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemStore is an in-memory types.StateStore used by
// internal/consumertest fixtures. It has no durability, matching the
// teacher's pattern of swapping a fake in for the real backing store
// in tests (internal/sinktest).
type MemStore struct {
	mu struct {
		sync.Mutex
		values         map[string][]byte
		offset         []byte
		sequenceNumber int64
	}
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	s := &MemStore{}
	s.mu.values = make(map[string][]byte)
	return s
}

// Get implements types.StateStore.
func (s *MemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.mu.values[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Put implements types.StateStore.
func (s *MemStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.values[key] = cp
	return nil
}

// CommitOffset implements types.StateStore.
func (s *MemStore) CommitOffset(_ context.Context, offset []byte, sequenceNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sequenceNumber <= s.mu.sequenceNumber && s.mu.sequenceNumber != 0 {
		return errors.Errorf("offset commit would regress sequence from %d to %d",
			s.mu.sequenceNumber, sequenceNumber)
	}
	cp := make([]byte, len(offset))
	copy(cp, offset)
	s.mu.offset = cp
	s.mu.sequenceNumber = sequenceNumber
	return nil
}

// GetOffset implements types.StateStore.
func (s *MemStore) GetOffset(_ context.Context) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.offset == nil {
		return nil, 0, nil
	}
	cp := make([]byte, len(s.mu.offset))
	copy(cp, s.mu.offset)
	return cp, s.mu.sequenceNumber, nil
}
