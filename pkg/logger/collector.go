package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Publisher ships aggregated log batches downstream, typically to a Kafka
// topic the observability side consumes. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// CollectionConfig bounds the aggregation window: a batch flushes when either
// the interval elapses or the number of distinct entries hits the threshold.
type CollectionConfig struct {
	TimeInterval   time.Duration
	CountThreshold int
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry is one deduplicated log line with its repeat count.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector deduplicates identical log lines within a window so a hot
// error path does not flood the downstream topic.
type LogCollector struct {
	cfg     *CollectionConfig
	pending map[string]*AggregatedLogEntry
	mutex   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	ctx, cancel := context.WithCancel(context.Background())
	c := &LogCollector{
		cfg:     cfg,
		pending: make(map[string]*AggregatedLogEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.wg.Add(1)
	go c.flushLoop()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := dedupKey(level, message, fields, caller)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if e, ok := c.pending[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.pending[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(c.pending) >= c.cfg.CountThreshold {
		c.flushLocked()
	}
}

func dedupKey(level, message string, fields map[string]interface{}, caller string) string {
	payload, _ := json.Marshal(struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
		Caller  string                 `json:"caller"`
	}{level, message, fields, caller})
	return fmt.Sprintf("%x", sha256.Sum256(payload))
}

func (c *LogCollector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.flushLocked()
			c.mutex.Unlock()
		case <-c.ctx.Done():
			c.mutex.Lock()
			c.flushLocked()
			c.mutex.Unlock()
			return
		}
	}
}

// flushLocked hands the pending batch to the publisher; callers hold c.mutex.
func (c *LogCollector) flushLocked() {
	if len(c.pending) == 0 {
		return
	}

	batch := make([]AggregatedLogEntry, 0, len(c.pending))
	for _, e := range c.pending {
		batch = append(batch, *e)
	}
	c.pending = make(map[string]*AggregatedLogEntry)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.cfg.Publisher.Publish(ctx, c.cfg.Topic, nil, batch); err != nil {
			fmt.Fprintf(os.Stderr, "log collector flush failed: %v\n", err)
		}
	}()
}

func (c *LogCollector) Close() {
	c.cancel()
	c.wg.Wait()
}
