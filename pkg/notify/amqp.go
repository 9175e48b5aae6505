package notify

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPSink publishes every call update to a topic exchange so downstream
// consumers (CDR pipelines, dashboards) can follow session changes without a
// websocket. Routing key is "call.<agent_dnis>".
type AMQPSink struct {
	logger   *logrus.Logger
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPSink creates an unconnected sink.
func NewAMQPSink(logger *logrus.Logger, url, exchange string) *AMQPSink {
	return &AMQPSink{
		logger:   logger,
		url:      url,
		exchange: exchange,
	}
}

// Connect dials the broker and declares the exchange.
func (s *AMQPSink) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *AMQPSink) connectLocked() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("failed to dial AMQP broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := channel.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP exchange %q: %w", s.exchange, err)
	}

	s.conn = conn
	s.channel = channel
	s.logger.WithField("exchange", s.exchange).Info("Connected to AMQP broker")
	return nil
}

// Publish sends the event JSON to the exchange. A failed publish tears the
// connection down; the next publish redials.
func (s *AMQPSink) Publish(agentDNIS string, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event for AMQP: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil {
		if err := s.connectLocked(); err != nil {
			return err
		}
	}

	routingKey := "call." + agentDNIS
	err = s.channel.Publish(s.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		s.closeLocked()
		return fmt.Errorf("failed to publish to AMQP exchange: %w", err)
	}
	return nil
}

// Close shuts the connection down.
func (s *AMQPSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *AMQPSink) closeLocked() {
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
