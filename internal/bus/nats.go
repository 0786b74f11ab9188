package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type Client struct{ nc *nats.Conn }

// Connect dials NATS and keeps reconnecting forever; name shows up in the
// server's connection list.
func Connect(url, name string) (*Client, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
	}
	if name != "" {
		opts = append(opts, nats.Name(name))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return c.nc.Publish(subject, b)
}

// Flush waits until everything published so far reached the server.
func (c *Client) Flush(timeout time.Duration) error {
	return c.nc.FlushTimeout(timeout)
}

// Handler processes one message; the context expires after the timeout
// passed to the subscribe call.
type Handler func(ctx context.Context, data []byte)

// QueueSubscribeJSON delivers each message on subject to exactly one member
// of queue. Each delivery gets its own timeout context derived from parent.
func (c *Client) QueueSubscribeJSON(parent context.Context, subject, queue string, timeout time.Duration, handler Handler) (*nats.Subscription, error) {
	return c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		handler(ctx, msg.Data)
	})
}
