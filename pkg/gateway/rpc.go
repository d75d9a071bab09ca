// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const directReplyTo = "amq.rabbitmq.reply-to"

// ErrQueryTimeout is returned when the gateway does not answer a query in
// time.
var ErrQueryTimeout = errors.New("gateway query timed out")

// rpcState holds the channel consuming direct replies. Publishes for a
// query must go through the same channel that consumes its reply.
type rpcState struct {
	mu      sync.Mutex
	ch      *amqp.Channel
	pending map[string]chan []byte
}

func (r *rpcState) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		_ = safeClose(r.ch)
		r.ch = nil
	}
}

// channel returns the reply channel, opening it on first use. Callers hold
// r.mu.
func (r *rpcState) channel(conn *amqp.Connection) (*amqp.Channel, error) {
	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}
	if conn == nil || conn.IsClosed() {
		return nil, errConnClosed
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	replies, err := ch.Consume(directReplyTo, "", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if r.pending == nil {
		r.pending = make(map[string]chan []byte)
	}
	r.ch = ch
	go r.dispatch(replies)
	return ch, nil
}

func (r *rpcState) dispatch(replies <-chan amqp.Delivery) {
	for d := range replies {
		r.mu.Lock()
		waiter, ok := r.pending[d.CorrelationId]
		delete(r.pending, d.CorrelationId)
		r.mu.Unlock()
		if ok {
			waiter <- d.Body
		}
	}
}

func (r *rpcState) forget(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Call publishes env as a request and waits for the gateway's reply body,
// correlated by the envelope id, for at most Config.QueryTimeout.
func (c *Client) Call(ctx context.Context, exchange, routingKey string, env Envelope) ([]byte, error) {
	msg, err := c.publishing(env)
	if err != nil {
		return nil, err
	}
	msg.ReplyTo = directReplyTo
	msg.DeliveryMode = amqp.Transient
	id := msg.CorrelationId
	waiter := make(chan []byte, 1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	conn, _ := c.current()
	c.rpc.mu.Lock()
	ch, err := c.rpc.channel(conn)
	if err != nil {
		c.rpc.mu.Unlock()
		return nil, fmt.Errorf("failed to open reply channel: %w", err)
	}
	c.rpc.pending[id] = waiter
	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	c.rpc.mu.Unlock()
	if err != nil {
		c.rpc.forget(id)
		return nil, fmt.Errorf("failed to publish %s: %w", env.Meta.Type, err)
	}

	select {
	case body := <-waiter:
		return body, nil
	case <-ctx.Done():
		c.rpc.forget(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrQueryTimeout, env.Meta.Type)
		}
		return nil, ctx.Err()
	}
}
