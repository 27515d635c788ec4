package sensor

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sensorgrid/pipeline/pkg/config"
)

const mqttConnectTimeout = 10 * time.Second

// mqttClient adapts the paho MQTT client to PubSubClient. Reconnection
// is delegated to paho's auto-reconnect; connectivity state changes are
// logged via the lost/restore handlers.
type mqttClient struct {
	client mqtt.Client
	qos    byte
}

// NewMQTTClient builds the pub/sub transport from configuration.
func NewMQTTClient(cfg config.MQTTConfig) PubSubClient {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("MQTT connection lost: %v", err)
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.Printf("MQTT connected to %s", cfg.BrokerURL)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	return &mqttClient{
		client: mqtt.NewClient(opts),
		qos:    cfg.QoS,
	}
}

func (m *mqttClient) Connect(ctx context.Context) error {
	token := m.client.Connect()

	if !waitToken(ctx, token) {
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	return nil
}

func (m *mqttClient) Subscribe(topic string, handler MessageHandler) error {
	token := m.client.Subscribe(topic, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})

	token.Wait()

	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}

	return nil
}

func (m *mqttClient) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return nil
	}

	token := m.client.Unsubscribe(topics...)
	token.Wait()

	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt unsubscribe: %w", err)
	}

	return nil
}

func (m *mqttClient) Disconnect() {
	// Quiesce period in milliseconds for in-flight messages.
	m.client.Disconnect(250)
}

func (m *mqttClient) IsConnected() bool {
	return m.client.IsConnected()
}

func waitToken(ctx context.Context, token mqtt.Token) bool {
	done := make(chan struct{})

	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
