package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"advisory-service/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// NotificationPublisher hands advisory messages to the notification service over RabbitMQ.
type NotificationPublisher struct {
	conn              *RabbitMQConnection
	log               *zap.Logger
	declared          atomic.Bool
	messagesPublished atomic.Int64
	messagesFailed    atomic.Int64
}

func NewNotificationPublisher(conn *RabbitMQConnection, log *zap.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// Send publishes one message. A nil error means the broker accepted it.
func (p *NotificationPublisher) Send(ctx context.Context, msg models.MessageRequest) error {
	queue, publishing, err := encodeMessage(msg, time.Now())
	if err != nil {
		p.messagesFailed.Add(1)
		return err
	}

	err = p.conn.withChannel(func(ch *amqp.Channel) error {
		if !p.declared.Load() {
			for _, q := range []string{NotificationQueue, PushNotiQueue} {
				if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
					return fmt.Errorf("failed to declare queue %s: %w", q, err)
				}
			}
			p.declared.Store(true)
		}
		return ch.PublishWithContext(ctx, "", queue, false, false, publishing)
	})
	if err != nil {
		p.messagesFailed.Add(1)
		p.declared.Store(false)
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.messagesPublished.Add(1)
	p.log.Debug("notification published",
		zap.String("queue", queue),
		zap.String("channel", string(msg.Type)),
		zap.String("priority", string(msg.Priority)))
	return nil
}

func (p *NotificationPublisher) GetMetrics() map[string]any {
	return map[string]any{
		"messages_published": p.messagesPublished.Load(),
		"messages_failed":    p.messagesFailed.Load(),
	}
}

// encodeMessage picks the queue for the channel and builds the AMQP message.
// PUSH goes out in the notification service's push format; SMS and EMAIL as MessageRequest.
func encodeMessage(msg models.MessageRequest, now time.Time) (string, amqp.Publishing, error) {
	if !models.IsValidChannel(msg.Type) {
		return "", amqp.Publishing{}, fmt.Errorf("unsupported channel %q", msg.Type)
	}
	if msg.Recipient == "" {
		return "", amqp.Publishing{}, fmt.Errorf("message has no recipient")
	}

	queue := NotificationQueue
	var payload any = msg
	if msg.Type == models.ChannelPush {
		queue = PushNotiQueue
		data := make(map[string]string, len(msg.Metadata)+2)
		for k, v := range msg.Metadata {
			data[k] = v
		}
		data["push_token"] = msg.Recipient
		data["priority"] = string(msg.Priority)

		var users []string
		if farmerID := msg.Metadata["farmer_id"]; farmerID != "" {
			users = []string{farmerID}
		}
		payload = NotificationEventPushModel{
			LstUserIds: users,
			Title:      msg.Subject,
			Body:       msg.Content,
			Data:       data,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", amqp.Publishing{}, fmt.Errorf("failed to marshal notification: %w", err)
	}

	return queue, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Priority:     amqpPriority(msg.Priority),
		MessageId:    msg.Metadata["log_id"],
		Timestamp:    now,
		Body:         body,
	}, nil
}

func amqpPriority(p models.TransportPriority) uint8 {
	switch p {
	case models.TransportUrgent:
		return 9
	case models.TransportHigh:
		return 6
	case models.TransportNormal:
		return 3
	default:
		return 0
	}
}
