// Package broker wraps the AMQP connection used by all meetscribe workers.
// It declares the exchange/queue topology, publishes JSON messages with
// deterministic ids where idempotency matters, and exposes a late-ack
// consume loop with delayed retry via per-queue wait queues.
package broker

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/meetscribe/meetscribe/schemas"
)

const (
	// Exchange carries all pipeline traffic, routed by the keys in
	// schemas/messages.go.
	Exchange = "meetscribe.audio"

	// RetryExchange feeds the wait queues. A retried message is published
	// here under its original routing key; after its per-message TTL it
	// dead-letters back to Exchange and lands on the main queue again.
	RetryExchange = "meetscribe.audio.retry"
)

// queueBindings lists every queue and the routing keys bound to it. Both
// worker binaries declare the full topology so startup order does not
// matter.
var queueBindings = map[string][]string{
	schemas.QueueTranscribe: {
		schemas.KeyTranscribeStart,
		schemas.KeyTranscribeChunk,
		schemas.KeyTranscribeMerge,
	},
	schemas.QueueSummarize: {
		schemas.KeySummarizeGenerate,
		schemas.KeyExtractKeyNotes,
		schemas.KeyGenerateTasks,
	},
}

// RetryQueueName returns the wait queue paired with a main queue.
func RetryQueueName(queue string) string {
	return queue + ".retry"
}

// Config carries broker connection settings.
type Config struct {
	URL    string
	Logger schemas.Logger
}

// Client is a connected AMQP client. Publishing goes through a single
// channel guarded by a mutex; each Consume call opens its own channel.
type Client struct {
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	pubMu  sync.Mutex
	logger schemas.Logger
}

// Connect dials the broker and declares the full topology idempotently.
func Connect(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker channel: %w", err)
	}
	c := &Client{conn: conn, pubCh: ch, logger: cfg.Logger}
	if err := c.declareTopology(ch); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	if err := ch.ExchangeDeclare(RetryExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", RetryExchange, err)
	}
	for queue, keys := range queueBindings {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		// The wait queue has no consumers. Expired messages dead-letter
		// back to the main exchange keeping their original routing key.
		// Per-message TTL expires at the queue head only, so a long
		// backoff can briefly delay a shorter one behind it.
		retryQueue := RetryQueueName(queue)
		if _, err := ch.QueueDeclare(retryQueue, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": Exchange,
		}); err != nil {
			return fmt.Errorf("declare queue %s: %w", retryQueue, err)
		}
		for _, key := range keys {
			if err := ch.QueueBind(queue, key, Exchange, false, nil); err != nil {
				return fmt.Errorf("bind %s to %s: %w", queue, key, err)
			}
			if err := ch.QueueBind(retryQueue, key, RetryExchange, false, nil); err != nil {
				return fmt.Errorf("bind %s to %s: %w", retryQueue, key, err)
			}
		}
	}
	return nil
}

// Close shuts the publish channel and the connection. Unacked deliveries on
// consumer channels are requeued by the broker.
func (c *Client) Close() error {
	if c.pubCh != nil {
		c.pubCh.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
