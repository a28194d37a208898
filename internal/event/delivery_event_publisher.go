package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"advisory-service/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeliveryEventPublisher broadcasts delivery log status changes on a topic exchange.
// Routing keys are "delivery.<status>", e.g. delivery.delivery_failed.
type DeliveryEventPublisher struct {
	conn     *RabbitMQConnection
	log      *zap.Logger
	declared atomic.Bool
}

func NewDeliveryEventPublisher(conn *RabbitMQConnection, log *zap.Logger) *DeliveryEventPublisher {
	return &DeliveryEventPublisher{conn: conn, log: log}
}

func (p *DeliveryEventPublisher) PublishDeliveryEvent(ctx context.Context, evt models.DeliveryLogEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery event: %w", err)
	}

	routingKey := DeliveryRoutingKey(evt.ToStatus)
	err = p.conn.withChannel(func(ch *amqp.Channel) error {
		if !p.declared.Load() {
			if err := ch.ExchangeDeclare(DeliveryEventsExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
				return fmt.Errorf("failed to declare exchange: %w", err)
			}
			p.declared.Store(true)
		}
		return ch.PublishWithContext(ctx, DeliveryEventsExchange, routingKey, false, false, amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    evt.LogID.String(),
			Timestamp:    time.Now(),
			Body:         body,
		})
	})
	if err != nil {
		p.declared.Store(false)
		return fmt.Errorf("failed to publish delivery event: %w", err)
	}

	p.log.Debug("delivery event published",
		zap.String("log_id", evt.LogID.String()),
		zap.String("routing_key", routingKey))
	return nil
}

func DeliveryRoutingKey(status models.DeliveryStatus) string {
	return "delivery." + strings.ToLower(string(status))
}
