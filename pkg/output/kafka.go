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

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaConfigFromEnv reads KAFKA_BROKERS and KAFKA_TOPIC.
func KafkaConfigFromEnv(plugin string) (KafkaConfig, error) {
	brokers, err := env.GetAsList("KAFKA_BROKERS", true)
	if err != nil {
		return KafkaConfig{}, err
	}

	topic, err := env.GetAsString("KAFKA_TOPIC", true, "")
	if err != nil {
		return KafkaConfig{}, err
	}

	return KafkaConfig{Brokers: brokers, Topic: topic, ClientID: plugin}, nil
}

// KafkaSink sends one message per line, keyed by measurement so all points
// of a series land in the same partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink wraps an existing producer.
func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// DialKafka creates a synchronous producer for cfg.
func DialKafka(cfg KafkaConfig, log *zap.SugaredLogger) (*KafkaSink, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Net.DialTimeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to Kafka %v: %w", cfg.Brokers, err)
	}

	log.Debugf("Connected to Kafka %v", cfg.Brokers)

	return NewKafkaSink(producer, cfg.Topic), nil
}

func (s *KafkaSink) Write(_ context.Context, batch []byte) error {
	lines := splitLines(batch)
	if len(lines) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(lines))

	for _, line := range lines {
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(measurementOf(line)),
			Value: sarama.ByteEncoder(line),
		})
	}

	if err := s.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("producing to %s: %w", s.topic, err)
	}

	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
