package event

import (
	"fmt"
	"sync"

	"advisory-service/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConnection holds the RabbitMQ connection and channel
type RabbitMQConnection struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
	mu         sync.Mutex
	log        *zap.Logger
}

// ConnectRabbitMQ establishes a connection to RabbitMQ
func ConnectRabbitMQ(cfg config.RabbitMQConfig, log *zap.Logger) (*RabbitMQConnection, error) {
	connStr := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
	)

	conn, err := amqp.Dial(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	log.Info("connected to RabbitMQ", zap.String("host", cfg.Host), zap.String("port", cfg.Port))

	return &RabbitMQConnection{
		Connection: conn,
		Channel:    ch,
		log:        log,
	}, nil
}

// withChannel serializes use of the shared channel across goroutines.
func (r *RabbitMQConnection) withChannel(fn func(ch *amqp.Channel) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Channel == nil || r.Channel.IsClosed() {
		return fmt.Errorf("rabbitmq channel is not open")
	}
	return fn(r.Channel)
}

// recreateChannel opens a fresh channel when the connection is still alive.
func (r *RabbitMQConnection) recreateChannel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Connection == nil || r.Connection.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	ch, err := r.Connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to recreate channel: %w", err)
	}
	if r.Channel != nil {
		r.Channel.Close()
	}
	r.Channel = ch
	return nil
}

func (r *RabbitMQConnection) IsHealthy() bool {
	return r != nil && r.Connection != nil && !r.Connection.IsClosed()
}

// Close closes the RabbitMQ connection and channel
func (r *RabbitMQConnection) Close() error {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			r.log.Error("failed to close RabbitMQ channel", zap.Error(err))
		}
	}
	if r.Connection != nil {
		if err := r.Connection.Close(); err != nil {
			r.log.Error("failed to close RabbitMQ connection", zap.Error(err))
			return err
		}
	}
	r.log.Info("RabbitMQ connection closed")
	return nil
}
