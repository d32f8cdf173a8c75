// Package messaging publishes share events and stats snapshots to Kafka.
package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/gompminer/internal/reporting"
	"github.com/bardlex/gompminer/pkg/errors"
	"github.com/bardlex/gompminer/pkg/log"
)

// messageWriter is the part of *kafka.Writer the client uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaClient wraps kafka-go producers, one per topic
type KafkaClient struct {
	brokers   []string
	topic     string
	logger    *log.Logger
	writers   map[string]messageWriter
	writersMu sync.RWMutex

	newWriter func(topic string) messageWriter
}

// NewKafkaClient creates a client publishing share events to topic and
// stats snapshots to StatsTopic(topic). An empty topic means TopicShares.
func NewKafkaClient(brokers []string, topic string, logger *log.Logger) *KafkaClient {
	if topic == "" {
		topic = TopicShares
	}
	k := &KafkaClient{
		brokers: brokers,
		topic:   topic,
		logger:  logger.WithComponent("kafka"),
		writers: make(map[string]messageWriter),
	}
	k.newWriter = k.kafkaWriter
	return k
}

func (k *KafkaClient) kafkaWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}
}

// GetProducer gets or creates the producer for a topic
func (k *KafkaClient) GetProducer(topic string) messageWriter {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	// Double-check after acquiring write lock
	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	writer := k.newWriter(topic)
	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// Name implements reporting.Sink.
func (k *KafkaClient) Name() string {
	return "kafka"
}

// RecordShare publishes a share event as a JSON ShareMessage keyed by job id.
func (k *KafkaClient) RecordShare(ctx context.Context, ev reporting.ShareEvent) error {
	data, err := json.Marshal(NewShareMessage(ev))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal",
			"failed to marshal share event").
			WithContext("job_id", ev.JobID)
	}
	return k.PublishJSON(ctx, k.topic, ev.JobID, data)
}

// RecordStats publishes a stats snapshot as a protobuf Struct keyed by user.
func (k *KafkaClient) RecordStats(ctx context.Context, snap reporting.StatsSnapshot) error {
	msg, err := StatsStruct(snap)
	if err != nil {
		return err
	}
	return k.PublishProto(ctx, StatsTopic(k.topic), snap.User, msg)
}

// StatsStruct converts a snapshot to a protobuf Struct.
func StatsStruct(snap reporting.StatsSnapshot) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(map[string]any{
		"pool":             snap.Pool,
		"user":             snap.User,
		"phase":            snap.Phase,
		"difficulty":       snap.Difficulty,
		"shares_submitted": snap.SharesSubmitted,
		"shares_accepted":  snap.SharesAccepted,
		"shares_rejected":  snap.SharesRejected,
		"shares_stale":     snap.SharesStale,
		"hashes":           snap.Hashes,
		"hashrate":         snap.Hashrate,
		"uptime_seconds":   snap.Uptime.Seconds(),
		"at":               snap.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_struct",
			"failed to build stats message")
	}
	return msg, nil
}

// PublishProto publishes a protobuf message to Kafka
func (k *KafkaClient) PublishProto(ctx context.Context, topic, key string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_marshal",
			"failed to marshal protobuf message").
			WithContext("topic", topic).
			WithContext("key", key)
	}
	return k.publish(ctx, "publish_message", topic, key, data)
}

// PublishJSON publishes a JSON message to Kafka
func (k *KafkaClient) PublishJSON(ctx context.Context, topic, key string, data []byte) error {
	return k.publish(ctx, "publish_json", topic, key, data)
}

func (k *KafkaClient) publish(ctx context.Context, op, topic, key string, data []byte) error {
	writer := k.GetProducer(topic)
	kafkaMsg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	if err := writer.WriteMessages(ctx, kafkaMsg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeKafka, op,
			"failed to publish message to Kafka").
			WithContext("topic", topic).
			WithContext("key", key).
			WithContext("message_size", len(data))
	}

	k.logger.Debug("published message", "topic", topic, "key", key, "size", len(data))
	return nil
}

// Close closes all producers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	var lastErr error
	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.Error("failed to close producer", "topic", topic, "error", err)
			lastErr = err
		}
	}

	k.writers = make(map[string]messageWriter)
	return lastErr
}
