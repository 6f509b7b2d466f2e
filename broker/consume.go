package broker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery is one inbound message handed to a worker. Acks are manual and
// late: the engine acks only after the handler (or its retry re-publish)
// finished, so a lost worker causes broker-side requeue.
type Delivery struct {
	RoutingKey  string
	MessageID   string
	Body        []byte
	Attempt     int
	Redelivered bool
	Dedup       bool

	acker amqp.Acknowledger
	tag   uint64
}

// Ack marks the delivery as done. The broker drops it.
func (d Delivery) Ack() error {
	return d.acker.Ack(d.tag, false)
}

// NackRequeue returns the delivery to the queue for immediate redelivery.
// Used only when a retry re-publish itself failed.
func (d Delivery) NackRequeue() error {
	return d.acker.Nack(d.tag, false, true)
}

func retryCount(headers amqp.Table) int {
	v, ok := headers[headerRetryCount]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func dedupFlag(headers amqp.Table) bool {
	v, ok := headers[headerDedup]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Consume opens a dedicated channel on queue with the given prefetch and
// streams deliveries until ctx is canceled or the connection drops. The
// returned channel closes once the broker has flushed in-flight deliveries
// after cancellation.
func (c *Client) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("consumer channel for %s: %w", queue, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("qos for %s: %w", queue, err)
	}
	tag := "meetscribe-" + uuid.NewString()[:8]
	msgs, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		<-ctx.Done()
		// Stops new deliveries; buffered ones still drain through msgs.
		if err := ch.Cancel(tag, false); err != nil {
			c.logger.Warn("cancel consumer %s: %v", tag, err)
		}
	}()
	go func() {
		defer close(out)
		for m := range msgs {
			out <- Delivery{
				RoutingKey:  m.RoutingKey,
				MessageID:   m.MessageId,
				Body:        m.Body,
				Attempt:     retryCount(m.Headers),
				Redelivered: m.Redelivered,
				Dedup:       dedupFlag(m.Headers),
				acker:       m.Acknowledger,
				tag:         m.DeliveryTag,
			}
		}
	}()
	return out, nil
}
