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
	"math/rand"

	"github.com/pkg/errors"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/ident"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// ErrChaos is the error injected by WithChaos wrappers.
var ErrChaos = errors.New("chaos")

func doChaos(msg string) error {
	return errors.WithMessage(ErrChaos, msg)
}

// WithChaosWarehouse wraps a types.Warehouse so that every method has
// a prob chance of failing with ErrChaos. Used to exercise the
// Coordinator's retry and abort logic in tests without a live
// BigQuery project, mirroring the teacher's WithChaos(Dialect, prob)
// wrapper.
func WithChaosWarehouse(delegate types.Warehouse, prob float32) types.Warehouse {
	if prob <= 0 {
		return delegate
	}
	return &chaosWarehouse{delegate: delegate, prob: prob}
}

type chaosWarehouse struct {
	delegate types.Warehouse
	prob     float32
}

var _ types.Warehouse = (*chaosWarehouse)(nil)

func (w *chaosWarehouse) maybeChaos(op string) error {
	if rand.Float32() < w.prob {
		return doChaos(op)
	}
	return nil
}

func (w *chaosWarehouse) CreateDataset(ctx context.Context, project, dataset, location string) error {
	if err := w.maybeChaos("CreateDataset"); err != nil {
		return err
	}
	return w.delegate.CreateDataset(ctx, project, dataset, location)
}

func (w *chaosWarehouse) DropDataset(ctx context.Context, project, dataset string) error {
	if err := w.maybeChaos("DropDataset"); err != nil {
		return err
	}
	return w.delegate.DropDataset(ctx, project, dataset)
}

func (w *chaosWarehouse) CreateTable(ctx context.Context, info types.TableInfo) error {
	if err := w.maybeChaos("CreateTable"); err != nil {
		return err
	}
	return w.delegate.CreateTable(ctx, info)
}

func (w *chaosWarehouse) UpdateTable(ctx context.Context, info types.TableInfo) error {
	if err := w.maybeChaos("UpdateTable"); err != nil {
		return err
	}
	return w.delegate.UpdateTable(ctx, info)
}

func (w *chaosWarehouse) DeleteTable(ctx context.Context, table ident.Table) error {
	if err := w.maybeChaos("DeleteTable"); err != nil {
		return err
	}
	return w.delegate.DeleteTable(ctx, table)
}

func (w *chaosWarehouse) GetTable(ctx context.Context, table ident.Table) (*types.TableInfo, bool, error) {
	if err := w.maybeChaos("GetTable"); err != nil {
		return nil, false, err
	}
	return w.delegate.GetTable(ctx, table)
}

func (w *chaosWarehouse) MaxSequence(ctx context.Context, table ident.Table) (int64, error) {
	if err := w.maybeChaos("MaxSequence"); err != nil {
		return 0, err
	}
	return w.delegate.MaxSequence(ctx, table)
}

func (w *chaosWarehouse) SubmitLoadJob(ctx context.Context, spec types.LoadJobSpec) error {
	if err := w.maybeChaos("SubmitLoadJob"); err != nil {
		return err
	}
	return w.delegate.SubmitLoadJob(ctx, spec)
}

func (w *chaosWarehouse) SubmitQueryJob(ctx context.Context, spec types.QueryJobSpec) error {
	if err := w.maybeChaos("SubmitQueryJob"); err != nil {
		return err
	}
	return w.delegate.SubmitQueryJob(ctx, spec)
}

func (w *chaosWarehouse) WaitForJob(ctx context.Context, jobID string) (types.JobStatus, error) {
	if err := w.maybeChaos("WaitForJob"); err != nil {
		return types.JobStatus{}, err
	}
	return w.delegate.WaitForJob(ctx, jobID)
}

func (w *chaosWarehouse) FindJob(ctx context.Context, jobID string) (bool, bool, error) {
	if err := w.maybeChaos("FindJob"); err != nil {
		return false, false, err
	}
	return w.delegate.FindJob(ctx, jobID)
}
