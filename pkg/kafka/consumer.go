package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// MessageHandler consumes messages from a single topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	StartOffset string
	WorkerCount int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
}

// WithConsumerBrokers sets Kafka brokers.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

// WithConsumerGroupID sets the consumer group ID.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) { c.GroupID = groupID }
}

// WithConsumerStartOffset picks where a new group starts reading:
// "earliest" or "latest".
func WithConsumerStartOffset(offset string) ConsumerOption {
	return func(c *ConsumerConfig) { c.StartOffset = offset }
}

// WithConsumerWorkers sets the number of worker goroutines.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) { c.WorkerCount = count }
}

// WithConsumerRetry configures handler retry attempts and backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ sets the dead-letter topic for messages that exhaust
// their retries.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

// WithConsumerFetch sets fetch min/max bytes.
func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithConsumerBufferSize sets the internal queue capacity.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// Consumer reads registered topics through a bounded queue and a
// worker pool. Handler failures are retried with jittered backoff and
// finally routed to the DLQ topic when one is configured.
type Consumer struct {
	cfg      *ConsumerConfig
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	queue    chan *inbound
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	dlq      *kafka.Writer
	hook     ConsumerHook

	lockMu    sync.Mutex
	partLocks map[string]map[int]*sync.Mutex
}

type inbound struct {
	topic string
	data  []byte
	km    kafka.Message
}

// NewConsumer builds a consumer from options. Brokers are mandatory.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "default",
		StartOffset: "earliest",
		WorkerCount: 1,
		BufferSize:  10,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:       cfg,
		readers:   make(map[string]*kafka.Reader),
		handlers:  make(map[string]MessageHandler),
		queue:     make(chan *inbound, cfg.BufferSize),
		done:      make(chan struct{}),
		partLocks: make(map[string]map[int]*sync.Mutex),
		hook:      NoopHook{},
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}

	consumerMetricsInit.Do(registerConsumerMetrics)
	return c, nil
}

// WithConsumerHook installs a lifecycle hook. Must be called before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler binds a handler to its topic. The first registration
// for a topic wins.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		log.Warn().Str("topic", topic).Msg("kafka consumer: handler already registered")
		return
	}
	c.handlers[topic] = handler
}

// Start creates one reader per registered topic and launches the
// worker pool.
func (c *Consumer) Start() error {
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			StartOffset: parseStartOffset(c.cfg.StartOffset),
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
		})
		log.Info().Str("topic", topic).Msg("kafka consumer: topic registered")
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	for topic, reader := range c.readers {
		c.wg.Add(1)
		go c.readLoop(topic, reader)
	}

	log.Info().Int("workers", c.cfg.WorkerCount).Int("topics", len(c.readers)).
		Msg("kafka consumer: started")
	return nil
}

// Stop drains the consumer. It waits for in-flight work until ctx
// expires, then closes readers regardless.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		close(c.done)
		close(c.queue)
		stopErr = c.waitStopped(ctx)

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("kafka consumer: close reader")
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				log.Error().Err(err).Msg("kafka consumer: close dlq writer")
			}
		}
		if stopErr == nil {
			log.Info().Msg("kafka consumer: stopped")
		}
	})
	return stopErr
}

func (c *Consumer) waitStopped(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for consumer to stop: %w", ctx.Err())
	case <-drained:
		return nil
	}
}

func (c *Consumer) readLoop(topic string, reader *kafka.Reader) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		msg, err := reader.ReadMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				log.Error().Err(err).Str("topic", topic).Msg("kafka consumer: read")
			}
			continue
		}

		if !c.enqueue(&inbound{topic: topic, data: msg.Value, km: msg}) {
			return
		}
	}
}

// enqueue blocks until the message is queued or the consumer is
// stopping. When the queue runs hot it yields or sleeps instead of
// spinning, so a slow handler slows the reader rather than dropping
// messages.
func (c *Consumer) enqueue(m *inbound) bool {
	for {
		select {
		case c.queue <- m:
			consumerQueueDepth.WithLabelValues(m.topic).Set(float64(len(c.queue)))
			consumerQueueFullness.WithLabelValues(m.topic).Set(float64(len(c.queue)) / float64(cap(c.queue)))
			return true
		case <-c.done:
			return false
		default:
			fullness := float64(len(c.queue)) / float64(cap(c.queue))
			consumerQueueFullness.WithLabelValues(m.topic).Set(fullness)
			if fullness > 0.8 {
				time.Sleep(10 * time.Millisecond)
			} else {
				runtime.Gosched()
			}
		}
	}
}

func (c *Consumer) worker() {
	defer c.wg.Done()
	for m := range c.queue {
		handler, ok := c.handlers[m.topic]
		if !ok {
			continue
		}
		c.process(handler, m)
	}
}

// process runs the handler with retries under the partition lock, so
// at most one message per (topic, partition) is in flight and order is
// preserved.
func (c *Consumer) process(handler MessageHandler, m *inbound) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("topic", m.topic).Interface("panic", r).
				Msg("kafka consumer: handler panicked")
		}
		consumerHandleLatency.WithLabelValues(m.topic).Observe(time.Since(start).Seconds())
	}()

	pl := c.partitionLock(m.topic, m.km.Partition)
	pl.Lock()
	defer pl.Unlock()

	var err error
	attempts := 0
	for {
		attempts++
		hctx, hmsg, hdata, berr := c.hook.BeforeHandle(context.Background(), m.topic, m.km, m.data)
		if berr != nil {
			err = berr
			break
		}
		err = handler.Handle(hctx, hdata)
		c.hook.AfterHandle(hctx, m.topic, hmsg, hdata, err)
		if err == nil || attempts > c.cfg.RetryMax {
			break
		}
		c.hook.OnError(hctx, m.topic, hmsg, hdata, err)
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)):
		case <-c.done:
			return
		}
	}

	if err != nil {
		c.hook.OnError(context.Background(), m.topic, m.km, m.data, err)
		log.Error().Err(err).Str("topic", m.topic).Int("attempts", attempts).
			Msg("kafka consumer: handler failed")
		c.deadLetter(m)
	}

	// Commit on success, and after DLQ routing so a poison message
	// cannot block the partition forever.
	if err == nil || c.dlq != nil {
		if reader := c.readers[m.topic]; reader != nil {
			_ = c.commitWithRetry(reader, m.km, 3)
		}
	}
}

func (c *Consumer) deadLetter(m *inbound) {
	if c.dlq == nil {
		return
	}
	err := c.dlq.WriteMessages(context.Background(), kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Value:   m.data,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(m.topic)}},
	})
	if err != nil {
		log.Error().Err(err).Str("dlq", c.cfg.DLQTopic).Msg("kafka consumer: dlq write")
	}
}

func (c *Consumer) commitWithRetry(reader *kafka.Reader, km kafka.Message, max int) error {
	if max <= 0 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	log.Error().Err(err).Int("attempts", max).Msg("kafka consumer: commit failed")
	return err
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	byPart, ok := c.partLocks[topic]
	if !ok {
		byPart = make(map[int]*sync.Mutex)
		c.partLocks[topic] = byPart
	}
	l, ok := byPart[partition]
	if !ok {
		l = &sync.Mutex{}
		byPart[partition] = l
	}
	return l
}

func parseStartOffset(s string) int64 {
	if s == "latest" {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

// backoffWithJitter grows min exponentially with the attempt number,
// caps at max, and subtracts up to half as jitter.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max {
		exp = max
	}
	jitter := time.Duration(rand.Int63n(int64(exp) / 2))
	return exp - jitter
}

var (
	consumerMetricsInit sync.Once

	consumerQueueDepth    *prometheus.GaugeVec
	consumerQueueFullness *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
)

func registerConsumerMetrics() {
	consumerQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "geovar_kafka_consumer_queue_depth", Help: "Number of messages waiting in consumer queue"},
		[]string{"topic"},
	)
	consumerQueueFullness = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "geovar_kafka_consumer_queue_fullness", Help: "Queue utilization ratio (len/cap)"},
		[]string{"topic"},
	)
	consumerHandleLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Name: "geovar_kafka_consumer_handle_seconds", Help: "Handling time per message"},
		[]string{"topic"},
	)
}
