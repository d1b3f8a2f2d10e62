package messaging

import (
	"context"
	"time"

	"github.com/iyyanarr/spp/internal/domain"
	"github.com/iyyanarr/spp/pkg/cloudevents"
	"github.com/iyyanarr/spp/pkg/kafka"
	"github.com/iyyanarr/spp/pkg/logging"
)

// MetricsRecorder receives publish metrics
type MetricsRecorder interface {
	RecordKafkaPublish(topic, eventType string, success bool, duration time.Duration)
}

// EventPublisher emits run lifecycle events to Kafka as CloudEvents. It
// implements domain.EventPublisher. Publishing is best effort; a broker
// failure is logged and never fails the run.
type EventPublisher struct {
	producer *kafka.Producer
	logger   *logging.Logger
	metrics  MetricsRecorder
}

// NewEventPublisher creates a Kafka backed event publisher
func NewEventPublisher(producer *kafka.Producer, logger *logging.Logger, metrics MetricsRecorder) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		logger:   logger.WithComponent("event-publisher"),
		metrics:  metrics,
	}
}

// PublishRunCompleted emits the terminal event for a submit attempt
func (p *EventPublisher) PublishRunCompleted(ctx context.Context, run *domain.Run, outcome *domain.RunOutcome) {
	eventType := cloudevents.RunCompleted
	if outcome.Kind != domain.OutcomeCompleted {
		eventType = cloudevents.RunFailed
	}

	succeeded, failed := 0, 0
	for _, result := range outcome.Results {
		if result.Success {
			succeeded++
		} else {
			failed++
		}
	}

	data := &cloudevents.RunCompletedData{
		RunID:       run.ID,
		LotNumber:   run.LotNumber,
		Outcome:     string(outcome.Kind),
		Message:     outcome.Message,
		DocumentID:  outcome.DocumentID,
		Succeeded:   succeeded,
		Failed:      failed,
		CompletedAt: outcome.CompletedAt,
	}
	if run.Batch != nil {
		data.BatchNo = run.Batch.BatchNo
	}

	event := cloudevents.NewEvent(eventType, run.LotNumber, data)
	event.CorrelationID = logging.CorrelationIDFromContext(ctx)
	event.RunID = run.ID
	event.LotNumber = run.LotNumber
	event.BatchNo = data.BatchNo

	p.publish(ctx, kafka.Topics.LotEvents, event)
}

func (p *EventPublisher) publish(ctx context.Context, topic string, event *cloudevents.LotCloudEvent) {
	start := time.Now()
	err := p.producer.PublishEvent(ctx, topic, event)
	duration := time.Since(start)

	if p.metrics != nil {
		p.metrics.RecordKafkaPublish(topic, event.Type, err == nil, duration)
	}
	p.logger.KafkaPublish(ctx, topic, event.Type, err == nil, duration)

	if err != nil {
		p.logger.WithError(err).Error("Failed to publish event",
			"topic", topic,
			"event_type", event.Type,
			"event_id", event.ID,
		)
	}
}
