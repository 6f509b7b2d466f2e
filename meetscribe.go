package meetscribe

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meetscribe/meetscribe/broker"
	"github.com/meetscribe/meetscribe/schemas"
)

// HandlerFunc processes one delivery. A nil return acks the message. A
// non-nil return is retried according to the handler's RetryPolicy unless
// the error is permanent (schemas.IsPermanent).
type HandlerFunc func(ctx context.Context, d broker.Delivery) error

// RetryPolicy bounds broker-level retries for one routing key. Backoff is a
// fixed delay between attempts, matching the task semantics of the pipeline
// (60 s for dispatch/merge, 30 s for chunks).
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Deduper suppresses duplicate first deliveries of messages with
// deterministic ids. FirstDelivery returns false when the id has been seen
// before. Best-effort: dedup failures never block processing.
type Deduper interface {
	FirstDelivery(ctx context.Context, messageID string) (bool, error)
}

type registration struct {
	handler HandlerFunc
	retry   RetryPolicy
}

// EngineConfig configures one worker process.
type EngineConfig struct {
	// Queue is the broker queue this engine consumes.
	Queue string
	// Concurrency is the number of task goroutines.
	Concurrency int
	// PrefetchMultiplier scales the per-consumer prefetch window. The
	// effective prefetch is Concurrency * PrefetchMultiplier, keeping one
	// unstarted message per goroutine at the default of 1 to avoid
	// head-of-line blocking.
	PrefetchMultiplier int
	// MaxTasks stops the engine cleanly after handling this many messages
	// (0 = unlimited). The process supervisor restarts the worker, which
	// bounds leaks from long-lived native resources.
	MaxTasks int64
	// Deduper is optional; nil disables consumer-side dedup.
	Deduper Deduper
	Logger  schemas.Logger
}

// Engine is the shared worker runtime: it consumes one queue, dispatches
// deliveries to handlers by routing key, applies retry policies by
// re-publishing with a delay, and acks late.
type Engine struct {
	client   *broker.Client
	cfg      EngineConfig
	handlers map[string]registration
	handled  atomic.Int64
}

// NewEngine creates an engine bound to a connected broker client.
func NewEngine(client *broker.Client, cfg EngineConfig) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PrefetchMultiplier <= 0 {
		cfg.PrefetchMultiplier = 1
	}
	return &Engine{
		client:   client,
		cfg:      cfg,
		handlers: make(map[string]registration),
	}
}

// Handle registers a handler for a routing key. Must be called before Run.
func (e *Engine) Handle(routingKey string, policy RetryPolicy, h HandlerFunc) {
	e.handlers[routingKey] = registration{handler: h, retry: policy}
}

// Run consumes the queue until ctx is canceled, the connection drops, or
// MaxTasks is reached. In-flight handlers finish before Run returns;
// unstarted prefetched deliveries are requeued by the broker when the
// connection closes.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	prefetch := e.cfg.Concurrency * e.cfg.PrefetchMultiplier
	deliveries, err := e.client.Consume(runCtx, e.cfg.Queue, prefetch)
	if err != nil {
		return err
	}
	e.cfg.Logger.Info("worker consuming queue %s (concurrency %d, prefetch %d)",
		e.cfg.Queue, e.cfg.Concurrency, prefetch)

	// Handlers run against a context that survives shutdown so a task in
	// flight is not aborted halfway through its commits.
	taskCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	for i := 0; i < e.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case d, ok := <-deliveries:
					if !ok {
						return nil
					}
					e.process(taskCtx, d)
					if e.cfg.MaxTasks > 0 && e.handled.Add(1) >= e.cfg.MaxTasks {
						e.cfg.Logger.Info("worker handled %d tasks; stopping for recycle", e.cfg.MaxTasks)
						stop()
						return nil
					}
				case <-runCtx.Done():
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.cfg.Logger.Info("worker for queue %s exiting", e.cfg.Queue)
	return nil
}

func (e *Engine) process(ctx context.Context, d broker.Delivery) {
	reg, ok := e.handlers[d.RoutingKey]
	if !ok {
		e.cfg.Logger.Warn("no handler for routing key %s; dropping message %s", d.RoutingKey, d.MessageID)
		e.ack(d)
		return
	}

	if e.cfg.Deduper != nil && d.Dedup && d.Attempt == 0 && !d.Redelivered {
		first, err := e.cfg.Deduper.FirstDelivery(ctx, d.MessageID)
		if err != nil {
			e.cfg.Logger.Warn("dedup check for %s failed: %v", d.MessageID, err)
		} else if !first {
			e.cfg.Logger.Info("suppressing duplicate delivery %s (%s)", d.MessageID, d.RoutingKey)
			e.ack(d)
			return
		}
	}

	e.cfg.Logger.Debug("handling %s (id %s, attempt %d)", d.RoutingKey, d.MessageID, d.Attempt)
	err := e.invoke(ctx, reg.handler, d)
	if err == nil {
		e.cfg.Logger.Debug("completed %s (id %s)", d.RoutingKey, d.MessageID)
		e.ack(d)
		return
	}

	switch {
	case schemas.IsPermanent(err):
		e.cfg.Logger.Error("dropping %s (id %s): %v", d.RoutingKey, d.MessageID, err)
		e.ack(d)
	case d.Attempt >= reg.retry.MaxRetries:
		e.cfg.Logger.Error("dropping %s (id %s) after %d attempts: %v",
			d.RoutingKey, d.MessageID, d.Attempt+1, err)
		e.ack(d)
	default:
		e.cfg.Logger.Warn("retrying %s (id %s, attempt %d/%d) in %s: %v",
			d.RoutingKey, d.MessageID, d.Attempt+1, reg.retry.MaxRetries, reg.retry.Backoff, err)
		if rqErr := e.client.Requeue(ctx, d, reg.retry.Backoff); rqErr != nil {
			e.cfg.Logger.Error("requeue of %s failed: %v", d.MessageID, rqErr)
			if nackErr := d.NackRequeue(); nackErr != nil {
				e.cfg.Logger.Error("nack of %s failed: %v", d.MessageID, nackErr)
			}
			return
		}
		e.ack(d)
	}
}

// invoke isolates handler panics so one bad message cannot take down the
// worker goroutine.
func (e *Engine) invoke(ctx context.Context, h HandlerFunc, d broker.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, d)
}

func (e *Engine) ack(d broker.Delivery) {
	if err := d.Ack(); err != nil {
		e.cfg.Logger.Error("ack of %s failed: %v", d.MessageID, err)
	}
}

// JSONHandler adapts a typed handler to HandlerFunc, decoding the delivery
// body first. Malformed bodies are permanent failures: retrying cannot fix
// them.
func JSONHandler[T any](fn func(ctx context.Context, msg T) error) HandlerFunc {
	return func(ctx context.Context, d broker.Delivery) error {
		var msg T
		if err := schemas.Unmarshal(d.Body, &msg); err != nil {
			return schemas.Permanent(fmt.Errorf("decode %s message: %w", d.RoutingKey, err))
		}
		return fn(ctx, msg)
	}
}
