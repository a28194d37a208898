package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"advisory-service/internal/metrics"
	"advisory-service/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type ReceiptHandler interface {
	HandleReceipt(ctx context.Context, receipt models.DeliveryReceipt) error
}

// ReceiptConsumer applies delivery receipts from the transport and the farmer app.
type ReceiptConsumer struct {
	conn              *RabbitMQConnection
	handler           ReceiptHandler
	log               *zap.Logger
	reconnectDelay    time.Duration
	messagesProcessed atomic.Int64
	messagesFailed    atomic.Int64
	isRunning         atomic.Bool
}

func NewReceiptConsumer(conn *RabbitMQConnection, handler ReceiptHandler, log *zap.Logger) *ReceiptConsumer {
	return &ReceiptConsumer{
		conn:           conn,
		handler:        handler,
		log:            log,
		reconnectDelay: 5 * time.Second,
	}
}

func (c *ReceiptConsumer) Start(ctx context.Context) error {
	c.log.Info("starting receipt consumer with auto-reconnect")
	c.isRunning.Store(true)

	go func() {
		defer c.isRunning.Store(false)

		for {
			select {
			case <-ctx.Done():
				c.log.Info("receipt consumer stopped")
				return
			default:
			}

			err := c.startConsumerLoop(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				c.log.Error("receipt consumer loop failed, reconnecting",
					zap.Duration("delay", c.reconnectDelay),
					zap.Error(err))

				select {
				case <-ctx.Done():
					return
				case <-time.After(c.reconnectDelay):
				}

				if chErr := c.conn.recreateChannel(); chErr != nil {
					c.log.Error("failed to recreate RabbitMQ channel", zap.Error(chErr))
				} else {
					c.log.Info("RabbitMQ channel recreated")
				}
			}
		}
	}()

	return nil
}

func (c *ReceiptConsumer) startConsumerLoop(ctx context.Context) error {
	var msgs <-chan amqp.Delivery
	err := c.conn.withChannel(func(ch *amqp.Channel) error {
		if err := ch.Qos(10, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
		if _, err := ch.QueueDeclare(ReceiptQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue: %w", err)
		}
		var err error
		msgs, err = ch.Consume(ReceiptQueue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to start consuming: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.log.Info("receipt consumer started", zap.String("queue", ReceiptQueue), zap.Int("prefetch_count", 10))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.processMessage(ctx, msg)
		}
	}
}

func (c *ReceiptConsumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	processCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var receipt models.DeliveryReceipt
	if err := json.Unmarshal(msg.Body, &receipt); err != nil {
		c.log.Error("failed to unmarshal delivery receipt", zap.Error(err))
		c.messagesFailed.Add(1)
		metrics.RecordReceipt("unknown", "malformed")
		msg.Nack(false, false)
		return
	}

	err := c.handler.HandleReceipt(processCtx, receipt)
	switch {
	case err == nil:
		c.messagesProcessed.Add(1)
		metrics.RecordReceipt(receipt.Event, "applied")
		msg.Ack(false)
	case isPermanentReceiptError(err):
		// Retrying cannot succeed; the handler already logged the integrity warning.
		c.messagesFailed.Add(1)
		metrics.RecordReceipt(receipt.Event, "rejected")
		msg.Ack(false)
	default:
		c.log.Error("failed to handle delivery receipt",
			zap.String("log_id", receipt.LogID.String()),
			zap.String("event", receipt.Event),
			zap.Error(err))
		c.messagesFailed.Add(1)
		metrics.RecordReceipt(receipt.Event, "error")
		msg.Nack(false, true)
	}
}

func isPermanentReceiptError(err error) bool {
	return errors.Is(err, models.ErrInvalidTransition) ||
		errors.Is(err, models.ErrDeliveryLogNotFound) ||
		errors.Is(err, models.ErrInvalidReceipt)
}

func (c *ReceiptConsumer) GetMetrics() map[string]any {
	return map[string]any{
		"messages_processed": c.messagesProcessed.Load(),
		"messages_failed":    c.messagesFailed.Load(),
		"is_running":         c.isRunning.Load(),
		"queue":              ReceiptQueue,
	}
}
