package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/streadway/amqp"

	"github.com/screa/vanity-miner/internal/logger"
	"github.com/screa/vanity-miner/pkg/types"
)

const (
	// DefaultQueue receives FoundMessage notifications
	DefaultQueue      = "vanity.found"
	DefaultMaxRetries = 5
)

// Publisher is the subset of *amqp.Channel used by Notifier
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// FoundMessage announces a persisted address. It never carries key material.
type FoundMessage struct {
	RunID   string    `json:"runId"`
	Address string    `json:"address"`
	Scheme  string    `json:"scheme"`
	Pattern string    `json:"pattern"`
	FoundAt time.Time `json:"foundAt"`
}

// Notifier wraps a Sink and publishes a FoundMessage after each successful
// persist. Publish failures are logged and do not fail the persist.
type Notifier struct {
	sink   Sink
	pub    Publisher
	queue  string
	meta   Meta
	logger *logger.Logger
}

// NewNotifier creates a notifying sink
func NewNotifier(sink Sink, pub Publisher, queue string, meta Meta, log *logger.Logger) *Notifier {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Notifier{sink: sink, pub: pub, queue: queue, meta: meta, logger: log}
}

func (n *Notifier) Persist(ctx context.Context, kp types.Keypair) error {
	if err := n.sink.Persist(ctx, kp); err != nil {
		return err
	}

	body, err := json.Marshal(FoundMessage{
		RunID:   n.meta.RunID,
		Address: kp.Address,
		Scheme:  n.meta.Scheme,
		Pattern: n.meta.Pattern,
		FoundAt: time.Now().UTC(),
	})
	if err == nil {
		err = n.pub.Publish("", n.queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
	}
	if err != nil {
		n.logger.Warnf("Notifier", "Error publishing %s to %s: %v", kp.Address, n.queue, err)
	}
	return nil
}

// DialQueue connects to RabbitMQ and declares a durable queue, retrying
// maxRetries times with delay between attempts.
func DialQueue(url, queue string, maxRetries int, delay time.Duration, log *logger.Logger) (*amqp.Connection, *amqp.Channel, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			var ch *amqp.Channel
			ch, err = conn.Channel()
			if err == nil {
				_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
				if err == nil {
					return conn, ch, nil
				}
				ch.Close()
			}
			conn.Close()
		}
		log.Warnf("AMQP", "Connect attempt %d/%d failed: %v", attempt, maxRetries, err)
		if attempt < maxRetries {
			time.Sleep(delay)
		}
	}
	return nil, nil, err
}
