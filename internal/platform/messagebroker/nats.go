package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Message is the broker-neutral view of a received message.
type Message interface {
	Subject() string
	Data() []byte
}

// Subscription allows consumers to stop receiving messages.
type Subscription interface {
	Drain() error
	Unsubscribe() error
}

// Client is the broker interface the services depend on. Keeping it narrow
// lets tests substitute a mock without a running broker.
type Client interface {
	Publish(ctx context.Context, subject string, data []byte) error
	SubscribeToSubjectWithQueue(ctx context.Context, subject, queueGroup string, handler func(msg Message)) (Subscription, error)
	Close()
}

// NATSClient wraps a core NATS connection.
type NATSClient struct {
	conn   *nats.Conn
	logger *slog.Logger
}

var _ Client = (*NATSClient)(nil)

// NewNATSClient connects to NATS with reconnect handling.
// natsURL example: "nats://localhost:4222"
func NewNATSClient(natsURL, appName string, logger *slog.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}

	return &NATSClient{conn: nc, logger: logger}, nil
}

// Publish sends data to a subject. The context is accepted for interface
// symmetry; core NATS publishes are fire-and-forget buffered writes.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to subject %q: %w", subject, err)
	}
	return nil
}

// SubscribeToSubjectWithQueue creates a queue-group subscription so that each
// message is delivered to exactly one member of the group.
func (c *NATSClient) SubscribeToSubjectWithQueue(ctx context.Context, subject, queueGroup string, handler func(msg Message)) (Subscription, error) {
	sub, err := c.conn.QueueSubscribe(subject, queueGroup, func(m *nats.Msg) {
		handler(natsMessage{m})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject %q (queue %q): %w", subject, queueGroup, err)
	}

	// Tear the subscription down when the caller's context ends.
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			c.logger.Warn("error draining NATS subscription", "subject", subject, "error", err)
		}
	}()

	return sub, nil
}

// Close drains buffered messages before closing the connection.
func (c *NATSClient) Close() {
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Drain(); err != nil {
			c.logger.Warn("error draining NATS connection", "error", err)
		}
		c.conn.Close()
	}
}

type natsMessage struct {
	msg *nats.Msg
}

func (m natsMessage) Subject() string { return m.msg.Subject }
func (m natsMessage) Data() []byte    { return m.msg.Data }
