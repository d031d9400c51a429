package events

import (
	"context"

	"github.com/pkgtravel/service-booking/pkg/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LocalInvalidator drops an in-process cache without touching shared state.
type LocalInvalidator interface {
	InvalidateLocal()
}

// MarkupEventConsumer listens to markup events and drops the local active-rule
// cache when another instance changes the rules.
type MarkupEventConsumer struct {
	consumer   *kafka.Consumer
	cache      LocalInvalidator
	instanceID string
	logger     *zap.Logger
}

// NewMarkupEventConsumer creates a new MarkupEventConsumer. Every instance
// needs its own groupID so that each one sees every event.
func NewMarkupEventConsumer(
	brokers []string,
	groupID string,
	instanceID string,
	cache LocalInvalidator,
	logger *zap.Logger,
) *MarkupEventConsumer {
	return &MarkupEventConsumer{
		consumer:   kafka.NewConsumer(brokers, groupID, TopicMarkupEvents, logger),
		cache:      cache,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Start begins consuming markup events. This blocks until the context is cancelled.
func (c *MarkupEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *MarkupEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *MarkupEventConsumer) handleMessage(_ context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from markup topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil // Don't retry malformed messages
	}

	switch cloudEvent.Type {
	case MarkupRulesChanged:
		return c.handleRulesChanged(cloudEvent)
	default:
		c.logger.Debug("ignoring unhandled markup event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}
}

func (c *MarkupEventConsumer) handleRulesChanged(cloudEvent kafka.CloudEvent) error {
	var evt RulesChangedEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse RulesChangedEvent data", zap.Error(err))
		// Unreadable payloads still invalidate.
		c.cache.InvalidateLocal()
		return nil
	}

	if evt.InstanceID != "" && evt.InstanceID == c.instanceID {
		return nil
	}

	c.cache.InvalidateLocal()
	c.logger.Info("markup rule cache invalidated by remote change",
		zap.String("rule_id", evt.RuleID.String()),
		zap.String("action", evt.Action),
		zap.String("origin", evt.InstanceID),
	)
	return nil
}
