package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const reconnectDelay = 10 * time.Second

// Sentinel errors from Dial so mains can map them to distinct exit codes.
var (
	ErrDial    = errors.New("broker unavailable")
	ErrChannel = errors.New("channel open failed")
)

// Disposition is what a consume handler decides about a delivery. Every
// terminal state acknowledges: losing a message is preferred to infinite
// redelivery, because the scheduler's due-URL query replays lost work.
type Disposition int

const (
	// Ack marks the message done.
	Ack Disposition = iota
	// Requeue puts the message back on the queue for redelivery.
	Requeue
	// Drop acknowledges the message after the handler logged why it was
	// unusable.
	Drop
)

// Handler processes one message body and decides its fate.
type Handler func(ctx context.Context, body []byte) Disposition

// Client is a durable publish/consume surface over one RabbitMQ connection.
// The named queues are declared durable on every (re)connect; declares with
// matching parameters are broker no-ops, so reconnects are idempotent.
type Client struct {
	url    string
	queues []string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// Dial opens the connection, channel and queue declarations. A failure here
// is a first-start failure: callers exit instead of looping (ErrDial for the
// connection, ErrChannel for the channel).
func Dial(url string, queues []string, logger *slog.Logger) (*Client, error) {
	c := &Client{url: url, queues: queues, logger: logger}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrDial, url, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}

	c.conn = conn
	c.channel = ch
	if err := c.setup(ch); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}

	return c, nil
}

// setup applies the per-channel contract: durable queue declarations and
// prefetch 1 for fair dispatch.
func (c *Client) setup(ch *amqp.Channel) error {
	for _, q := range c.queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring queue %s: %w", q, err)
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}
	return nil
}

// Publish sends one persistent message to a queue through the default
// exchange. Callers decide whether a failure breaks their send loop.
func (c *Client) Publish(ctx context.Context, queue string, body []byte, contentType string) error {
	c.mu.Lock()
	ch := c.channel
	closed := c.closed
	c.mu.Unlock()

	if closed || ch == nil {
		return fmt.Errorf("publish on closed client")
	}

	err := ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", queue, err)
	}
	return nil
}

// Consume delivers messages from a queue to the handler one at a time
// (prefetch 1) until ctx is cancelled or the client is closed. Any transport
// fault mid-flight triggers the 10 s reconnect loop; the one un-acked message
// in flight at disconnect is redelivered by the broker.
func (c *Client) Consume(ctx context.Context, queue string, handler Handler) error {
	for {
		deliveries, err := c.beginConsume(queue)
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return nil
			}
			c.logger.Error("consume setup failed", "queue", queue, "error", err)
			if !c.reconnect(ctx) {
				return nil
			}
			continue
		}

		if done := c.consumeLoop(ctx, queue, deliveries, handler); done {
			return nil
		}
		if !c.reconnect(ctx) {
			return nil
		}
	}
}

func (c *Client) beginConsume(queue string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.channel == nil {
		return nil, fmt.Errorf("consume on closed client")
	}
	deliveries, err := c.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("starting consumer on %s: %w", queue, err)
	}
	return deliveries, nil
}

// consumeLoop returns true when consumption should stop for good, false when
// the transport dropped and a reconnect is needed.
func (c *Client) consumeLoop(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler Handler) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-deliveries:
			if !ok {
				if c.isClosed() || ctx.Err() != nil {
					return true
				}
				c.logger.Warn("delivery channel closed by broker", "queue", queue)
				return false
			}
			c.dispatch(ctx, queue, d, handler)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	switch handler(ctx, d.Body) {
	case Ack:
		if err := d.Ack(false); err != nil {
			c.logger.Error("ack failed", "queue", queue, "error", err)
		}
	case Requeue:
		if err := d.Nack(false, true); err != nil {
			c.logger.Error("requeue failed", "queue", queue, "error", err)
		}
	case Drop:
		c.logger.Warn("dropping message", "queue", queue)
		if err := d.Ack(false); err != nil {
			c.logger.Error("ack failed", "queue", queue, "error", err)
		}
	}
}

// reconnect sleeps the fixed backoff and rebuilds connection, channel and
// queue declarations, retrying until success. Returns false when the client
// was closed or ctx cancelled while waiting.
func (c *Client) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(reconnectDelay):
		}
		if c.isClosed() {
			return false
		}

		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Error("reconnect dial failed", "error", err)
			continue
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			c.logger.Error("reconnect channel failed", "error", err)
			continue
		}
		if err := c.setup(ch); err != nil {
			ch.Close()
			conn.Close()
			c.logger.Error("reconnect setup failed", "error", err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ch.Close()
			conn.Close()
			return false
		}
		oldChannel, oldConn := c.channel, c.conn
		c.conn = conn
		c.channel = ch
		c.mu.Unlock()

		// The broken pair still holds sockets and heartbeat goroutines until
		// released; errors are expected since the transport already failed.
		if oldChannel != nil {
			oldChannel.Close()
		}
		if oldConn != nil {
			oldConn.Close()
		}

		c.logger.Info("reconnected to broker")
		return true
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close shuts the channel and connection. Idempotent and safe to call from a
// signal handler; no other method may be used afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
