// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Client owns the broker connection, the publisher channel pool and the
// supervised consumers.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
	pool *channelPool

	consumerWG     sync.WaitGroup
	consumerClosed chan string
	consumerSpecs  map[string]ConsumerSpec

	rpc rpcState
}

// NewClient dials the broker and declares the shared exchanges.
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp URL is required")
	}
	cfg.setDefaults()
	c := &Client{
		cfg: cfg,
		log: log.With().Str("component", "gateway").Logger(),
	}
	if u, err := url.Parse(cfg.URL); err == nil {
		c.log.Info().Str("host", u.Host).Msg("Connecting to RabbitMQ")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()
	if err := c.connect(dialCtx); err != nil {
		return nil, err
	}
	c.log.Info().Msg("RabbitMQ client ready")
	return c, nil
}

// Config returns the effective configuration after defaults.
func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) dial(ctx context.Context) (*amqp.Connection, error) {
	if c.cfg.Dialer != nil {
		return c.cfg.Dialer(ctx, c.cfg.URL)
	}
	return amqp.DialConfig(c.cfg.URL, amqp.Config{
		Dial: amqp.DefaultDial(c.cfg.ConnTimeout),
	})
}

// connect replaces the connection and pool and re-declares exchanges.
func (c *Client) connect(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", ctx.Err())
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	tempCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err = c.setupExchanges(tempCh); err != nil {
		_ = tempCh.Close()
		_ = conn.Close()
		return err
	}
	_ = tempCh.Close()

	c.mu.Lock()
	oldPool, oldConn := c.pool, c.conn
	c.conn = conn
	c.pool = newChannelPool(conn, c.cfg.PublishPoolSize)
	c.mu.Unlock()

	if oldPool != nil {
		oldPool.close()
	}
	if oldConn != nil && !oldConn.IsClosed() {
		_ = oldConn.Close()
	}
	c.rpc.reset()
	return nil
}

// setupExchanges declares only exchanges. Queues and bindings are
// per-consumer so they can carry DLX and TTL arguments.
func (c *Client) setupExchanges(ch *amqp.Channel) error {
	for _, ex := range []string{c.cfg.EventsExchange, c.cfg.CommandsExchange} {
		if ex == "" {
			continue
		}
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", ex, err)
		}
	}
	return nil
}

func (c *Client) current() (*amqp.Connection, *channelPool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn, c.pool
}

// Healthy reports an error while the broker connection is down.
func (c *Client) Healthy(context.Context) error {
	conn, _ := c.current()
	if conn == nil || conn.IsClosed() {
		return errConnClosed
	}
	return nil
}

// Close stops consumers and closes the pool and the connection.
func (c *Client) Close() {
	done := make(chan struct{})
	go func() {
		c.consumerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	conn, pool := c.current()
	if pool != nil {
		pool.close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}
