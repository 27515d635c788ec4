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

// Package sensor pkg/sensor/interfaces.go

package sensor

import "context"

//go:generate mockgen -destination=mock_sensor.go -package=sensor github.com/sensorgrid/pipeline/pkg/sensor PubSubClient,SocketDialer,SocketConn

// MessageHandler receives one inbound transport message.
type MessageHandler func(topic string, payload []byte)

// PubSubClient is the persistent pub/sub ingestion transport. The
// production implementation wraps an MQTT client; reconnection is the
// client's own concern and only surfaces as status callbacks.
type PubSubClient interface {
	// Connect establishes the broker session.
	Connect(ctx context.Context) error
	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, handler MessageHandler) error
	// Unsubscribe removes topic subscriptions.
	Unsubscribe(topics ...string) error
	// Disconnect tears the session down.
	Disconnect()
	// IsConnected reports current broker connectivity.
	IsConnected() bool
}

// SocketConn is one established duplex socket connection.
type SocketConn interface {
	// ReadMessage blocks for the next inbound frame.
	ReadMessage() ([]byte, error)
	// Close closes the connection.
	Close() error
}

// SocketDialer establishes duplex socket connections; the gateway owns
// the reconnect policy around it.
type SocketDialer interface {
	Dial(ctx context.Context, url string) (SocketConn, error)
}
