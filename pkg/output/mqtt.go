// Copyright 2025 UMH Systems GmbH
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

package output

import (
	"context"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
)

const mqttTimeout = 10 * time.Second

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	BrokerURL string
	Topic     string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

// MQTTConfigFromEnv reads MQTT_* variables. The client id defaults to the
// plugin name plus a random suffix so parallel runs do not kick each other.
func MQTTConfigFromEnv(plugin string) (MQTTConfig, error) {
	topic, err := env.GetAsString("MQTT_TOPIC", true, "")
	if err != nil {
		return MQTTConfig{}, err
	}

	qos, err := env.GetAsInt("MQTT_QOS", false, 1)
	if err != nil {
		return MQTTConfig{}, err
	}

	if qos < 0 || qos > 2 {
		return MQTTConfig{}, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", qos)
	}

	return MQTTConfig{
		BrokerURL: env.GetFirst("tcp://localhost:1883", "MQTT_BROKER_URL"),
		Topic:     topic,
		ClientID:  env.GetFirst(plugin+"-"+uuid.NewString(), "MQTT_CLIENT_ID"),
		Username:  env.GetFirst("", "MQTT_USERNAME"),
		Password:  env.GetFirst("", "MQTT_PASSWORD"),
		QoS:       byte(qos),
	}, nil
}

// Publisher is the part of MQTT.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes one message per line.
type MQTTSink struct {
	client Publisher
	topic  string
	qos    byte
}

// NewMQTTSink wraps an already connected client.
func NewMQTTSink(client Publisher, topic string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, qos: qos}
}

// DialMQTT connects to the broker in cfg.
func DialMQTT(cfg MQTTConfig, log *zap.SugaredLogger) (*MQTTSink, error) {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(mqttTimeout)
	opts.SetAutoReconnect(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}

	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := MQTT.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("connecting to %s: timed out after %s", cfg.BrokerURL, mqttTimeout)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.BrokerURL, err)
	}

	log.Debugf("Connected to MQTT broker %s as %s", cfg.BrokerURL, cfg.ClientID)

	return NewMQTTSink(client, cfg.Topic, cfg.QoS), nil
}

func (s *MQTTSink) Write(ctx context.Context, batch []byte) error {
	for _, line := range splitLines(batch) {
		if err := ctx.Err(); err != nil {
			return err
		}

		token := s.client.Publish(s.topic, s.qos, false, line)
		if !token.WaitTimeout(mqttTimeout) {
			return fmt.Errorf("publishing to %s: timed out after %s", s.topic, mqttTimeout)
		}

		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing to %s: %w", s.topic, err)
		}
	}

	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)

	return nil
}
