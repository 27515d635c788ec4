/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package pipeline pkg/pipeline/interfaces.go

package pipeline

import (
	"context"
	"net/http"

	"github.com/sensorgrid/pipeline/pkg/models"
)

//go:generate mockgen -destination=mock_pipeline.go -package=pipeline github.com/sensorgrid/pipeline/pkg/pipeline Component,TriggerSink

// Component is the lifecycle surface shared by the three composed
// ingestion/egress components.
type Component interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan models.Event
	GetHealth() models.ComponentHealth
}

// TriggerSink accepts contract invocations; the ledger connector
// implements it alongside Component.
type TriggerSink interface {
	QueueContractCall(ctx context.Context, trigger *models.ContractTrigger) error
	QueueFromRequest(ctx context.Context, req models.TriggerRequest) error
	PendingTriggers() []models.ContractTrigger
}

// LedgerComponent is the orchestrator's view of the ledger connector.
type LedgerComponent interface {
	Component
	TriggerSink
}

// HTTPDoer abstracts the webhook delivery client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
