package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Producer publishes messages through a shared kafka-go writer.
type Producer struct {
	writer      *kafka.Writer
	compression string
}

// Message is a single key/value pair for PublishBatch. Value may be
// []byte, string, or anything JSON-marshalable.
type Message struct {
	Key   []byte
	Value interface{}
}

// NewProducer builds a producer from options. Brokers are mandatory;
// everything else has working defaults (acks=all, gzip, 3 attempts).
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "gzip",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1048576,
		BatchTimeout: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}

	producerMetricsInit.Do(registerProducerMetrics)

	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     balancer,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  parseCompression(cfg.Compression),
			MaxAttempts:  cfg.MaxAttempts,
			WriteTimeout: cfg.WriteTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			BatchSize:    cfg.BatchSize,
			BatchBytes:   int64(cfg.BatchBytes),
			BatchTimeout: cfg.BatchTimeout,
			Async:        cfg.Async,
		},
		compression: cfg.Compression,
	}, nil
}

// Publish sends one message to topic. The key selects the partition
// when the producer was built with WithHashByKey.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	payload, err := encodePayload(value)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: payload,
		Time:  start,
	})
	observeProduce(topic, p.compression, int64(len(payload)), 1, time.Since(start), err)
	return err
}

// PublishBatch sends all messages to topic in a single writer call.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(messages))
	var totalBytes int64
	now := time.Now()
	for _, m := range messages {
		payload, err := encodePayload(m.Value)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   m.Key,
			Value: payload,
			Time:  now,
		})
		totalBytes += int64(len(payload))
	}

	start := time.Now()
	err := p.writer.WriteMessages(ctx, msgs...)
	observeProduce(topic, p.compression, totalBytes, len(msgs), time.Since(start), err)
	return err
}

// Close flushes pending batches and releases the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodePayload(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return b, nil
	}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

var (
	producerMetricsInit sync.Once

	producedTotal  *prometheus.CounterVec
	produceErrors  *prometheus.CounterVec
	producedBytes  *prometheus.CounterVec
	produceLatency *prometheus.HistogramVec
)

func registerProducerMetrics() {
	producedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geovar_kafka_producer_messages_total",
			Help: "Total messages published to Kafka",
		},
		[]string{"topic", "compression", "result"},
	)
	produceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geovar_kafka_producer_errors_total",
			Help: "Total producer errors",
		},
		[]string{"topic"},
	)
	producedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geovar_kafka_producer_bytes_total",
			Help: "Total payload bytes published",
		},
		[]string{"topic", "compression"},
	)
	produceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geovar_kafka_producer_publish_seconds",
			Help:    "Publish latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
}

func observeProduce(topic, compression string, bytes int64, count int, dur time.Duration, err error) {
	if producedTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		produceErrors.WithLabelValues(topic).Inc()
	}
	producedTotal.WithLabelValues(topic, compression, result).Add(float64(count))
	producedBytes.WithLabelValues(topic, compression).Add(float64(bytes))
	produceLatency.WithLabelValues(topic).Observe(dur.Seconds())
}
