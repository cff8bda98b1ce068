package repository

import (
	"context"

	"geovar/internal/domain/models"
	"geovar/internal/domain/repository"
	pkgkafka "geovar/pkg/kafka"
)

// KafkaResultPublisher implements Publisher for Kafka. The payload is the
// reporting-side contract: the VaR series plus the backtest comparison,
// keyed by symbol so one instrument's runs stay in order.
type KafkaResultPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaResultPublisher creates a Kafka result publisher.
func NewKafkaResultPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaResultPublisher{producer: producer, topic: topic}
}

func (p *KafkaResultPublisher) Publish(ctx context.Context, result *models.AnalysisResult) error {
	payload := map[string]interface{}{
		"symbol": result.Symbol,
		"run_at": result.RunAt,
	}
	if result.VaR != nil {
		payload["confidence"] = result.VaR.Confidence
		payload["estimates"] = result.VaR.Estimates
	}
	if result.Comparison != nil {
		payload["comparison"] = result.Comparison
	}
	if len(result.Warnings) > 0 {
		payload["warnings"] = result.Warnings
	}
	return p.producer.Publish(ctx, p.topic, []byte(result.Symbol), payload)
}

func (p *KafkaResultPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
