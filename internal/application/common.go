package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/internal/events"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/pkgtravel/service-booking/pkg/kafka"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// ClientInfo describes the caller's connection for audit columns.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// eventPublisher publishes CloudEvents after a commit. Failures are logged,
// never returned: the write they describe has already happened.
type eventPublisher struct {
	producer kafka.Publisher
	logger   *zap.Logger
}

func (p eventPublisher) publishEvent(ctx context.Context, topic, eventType, key string, data interface{}) {
	if p.producer == nil {
		return
	}
	cloudEvent, err := kafka.NewCloudEvent(events.Source, eventType, data)
	if err != nil {
		p.logger.Error("failed to create cloud event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return
	}
	cloudEvent.Subject = key

	if err := p.producer.PublishEvent(ctx, topic, cloudEvent); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("topic", topic),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// validateBasePrice accepts non-negative amounts in whole cents.
func validateBasePrice(d decimal.Decimal) error {
	if d.IsNegative() {
		return domain.NewValidationError("base price must not be negative")
	}
	if !markup.HasCents(d) {
		return domain.NewValidationError("base price must have at most two decimal places")
	}
	return nil
}

// parseDate parses a YYYY-MM-DD field as midnight UTC.
func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, domain.NewValidationError(fmt.Sprintf("%s must be a date in YYYY-MM-DD format", field))
	}
	return t.UTC(), nil
}

func parseOptionalDate(field string, value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	t, err := parseDate(field, *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(dateLayout)
	return &s
}

// normalizePage applies the same bounds the repositories use.
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
