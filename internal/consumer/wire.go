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

//go:build wireinject
// +build wireinject

package consumer

import (
	"context"

	"github.com/google/wire"
	"github.com/sumitjnn/bigquery-delta-plugins/internal/types"
)

// ProviderSet wires a production Orchestrator from a ProductionConfig
// and a caller-supplied Host, the way
// internal/source/logical/provider.go wires a production Conn from a
// *Config.
var ProviderSet = wire.NewSet(
	ProvideClients,
	ProvideWarehouse,
	ProvideBlobStore,
	ProvideBigQueryStore,
	ProvideErrorSink,
	ProvideRetryCoordinator,
	ProvideBucket,
	ProvideBlobWriter,
	ProvideStager,
	ProvideMerger,
	ProvideDDLConfig,
	ProvideOrchestrator,
)

// InitializeOrchestrator is the wire injector; wire_gen.go holds its
// hand-expanded body since no `go generate` is run in this exercise.
func InitializeOrchestrator(ctx context.Context, cfg ProductionConfig, host types.Host) (*Orchestrator, func(), error) {
	panic(wire.Build(ProviderSet))
}
