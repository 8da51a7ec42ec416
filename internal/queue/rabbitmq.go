package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrPublisherClosed is returned after Close
var ErrPublisherClosed = errors.New("publisher closed")

// AMQPConfig configures the RabbitMQ publisher
type AMQPConfig struct {
	URL            string
	Exchange       string
	PublishTimeout time.Duration
}

// channel is the subset of *amqp.Channel the publisher needs
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a durable topic exchange over one
// long-lived connection, redialing lazily after a failure.
type AMQPPublisher struct {
	config AMQPConfig
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     channel
	closed bool

	// dial is replaced in tests
	dial func() (channel, error)
}

// NewAMQPPublisher connects and declares the exchange. The broker being
// unreachable at start-up is an error; later outages are retried per publish.
func NewAMQPPublisher(config AMQPConfig, logger zerolog.Logger) (*AMQPPublisher, error) {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	p := &AMQPPublisher{
		config: config,
		logger: logger.With().Str("component", "amqp-publisher").Logger(),
	}
	p.dial = p.dialBroker

	ch, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return p, nil
}

func (p *AMQPPublisher) dialBroker() (channel, error) {
	conn, err := amqp.Dial(p.config.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.config.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare failed: %w", err)
	}

	p.conn = conn
	return ch, nil
}

// Publish sends event as a persistent JSON message routed by its type
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if p.ch == nil {
		ch, err := p.dial()
		if err != nil {
			return err
		}
		p.ch = ch
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.config.Exchange, string(event.Type), false, false, msg); err != nil {
		// drop the channel so the next publish redials
		_ = p.ch.Close()
		p.ch = nil
		p.closeConn()
		return fmt.Errorf("rabbitmq publish failed: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) closeConn() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the channel and connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	p.closeConn()
	return nil
}
