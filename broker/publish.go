package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/meetscribe/meetscribe/schemas"
)

// Header keys carried on every published message.
const (
	headerRetryCount = "x-retry-count"
	headerDedup      = "x-dedup"
)

// Message is one outbound publication. Body is marshaled to JSON. A zero
// MessageID gets a random UUID; deterministic ids (chunk_<m>_<i>,
// merge_<m>) are supplied by the caller together with Dedup so consumers
// can suppress duplicate deliveries.
type Message struct {
	RoutingKey string
	MessageID  string
	Body       any
	Dedup      bool
}

// Publisher is the narrow interface pipeline services use to enqueue work.
// *Client implements it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Publish sends msg to the main exchange as a persistent JSON message.
func (c *Client) Publish(ctx context.Context, msg Message) error {
	body, err := schemas.Marshal(msg.Body)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", msg.RoutingKey, err)
	}
	id := msg.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
		Headers: amqp.Table{
			headerRetryCount: int32(0),
			headerDedup:      msg.Dedup,
		},
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if err := c.pubCh.PublishWithContext(ctx, Exchange, msg.RoutingKey, false, false, pub); err != nil {
		return fmt.Errorf("publish %s (id %s): %w", msg.RoutingKey, id, err)
	}
	return nil
}

// Requeue re-publishes a consumed delivery to the retry exchange with the
// given delay and an incremented retry counter. The caller acks the
// original delivery after this returns.
func (c *Client) Requeue(ctx context.Context, d Delivery, delay time.Duration) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageID,
		Timestamp:    time.Now().UTC(),
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Body:         d.Body,
		Headers: amqp.Table{
			headerRetryCount: int32(d.Attempt + 1),
			headerDedup:      d.Dedup,
		},
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if err := c.pubCh.PublishWithContext(ctx, RetryExchange, d.RoutingKey, false, false, pub); err != nil {
		return fmt.Errorf("requeue %s (id %s): %w", d.RoutingKey, d.MessageID, err)
	}
	return nil
}
