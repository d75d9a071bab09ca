// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetrySpec configures the DLX-based retry pipeline.
type RetrySpec struct {
	Enabled     bool
	TTL         time.Duration
	MaxAttempts int

	DeadExchange  string
	DeadQueue     string
	FinalExchange string
	FinalQueue    string
}

// ConsumerSpec defines a single supervised consumer.
type ConsumerSpec struct {
	Name         string
	Exchange     string
	ExchangeKind string // default: topic
	Queue        string
	BindingKey   string
	Prefetch     int // 0 uses Config.ConsumerPrefetch
	Retry        *RetrySpec

	// PoisonToFinal keeps a copy of poison messages in the final queue
	// before acking them.
	PoisonToFinal bool

	Consume func(ctx context.Context, d amqp.Delivery) error
}

// ErrPoison marks content that can never be processed, e.g. a body that is
// not valid JSON. Poison deliveries are acked and never retried.
var ErrPoison = errors.New("poison message")

// JSONHandler wraps a typed handler and turns decode failures into ErrPoison.
func JSONHandler[T any](h func(context.Context, T) error) func(context.Context, amqp.Delivery) error {
	return func(ctx context.Context, d amqp.Delivery) error {
		var v T
		if err := json.Unmarshal(d.Body, &v); err != nil {
			return fmt.Errorf("%w: %w", ErrPoison, err)
		}
		return h(ctx, v)
	}
}

// RunWithConsumers starts every consumer and supervises them until ctx is
// done, restarting closed consumers and reconnecting after connection loss.
func (c *Client) RunWithConsumers(ctx context.Context, specs ...ConsumerSpec) error {
	c.consumerClosed = make(chan string, len(specs)*2)
	c.consumerSpecs = make(map[string]ConsumerSpec, len(specs))

	for _, s := range specs {
		c.consumerSpecs[s.Name] = s
		if err := c.startConsumer(ctx, s); err != nil {
			return fmt.Errorf("failed to start consumer %s: %w", s.Name, err)
		}
	}

	conn, _ := c.current()
	errCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case name := <-c.consumerClosed:
			if s, ok := c.consumerSpecs[name]; ok {
				if err := c.startConsumer(ctx, s); err != nil {
					c.log.Err(err).Str("consumer", name).Msg("Failed to restart consumer")
				}
			}

		case err, ok := <-errCh:
			if !ok || err == nil {
				err = &amqp.Error{Reason: "connection closed"}
			}
			c.log.Err(err).Msg("AMQP connection closed, reconnecting")
			if rerr := c.reconnectLoop(ctx); rerr != nil {
				return rerr
			}
			conn, _ = c.current()
			errCh = conn.NotifyClose(make(chan *amqp.Error, 1))
		}
	}
}

func (c *Client) reconnectLoop(ctx context.Context) error {
	backoff := c.cfg.ReconnectBackoffBase
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.connect(ctx); err != nil {
			wait := jitteredDelay(backoff, c.cfg.ReconnectBackoffCap, c.cfg.ReconnectJitterPercent)
			c.log.Err(err).Dur("retry_in", wait).Msg("Reconnect failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			if backoff*2 < c.cfg.ReconnectBackoffCap {
				backoff *= 2
			}
			continue
		}
		c.log.Info().Msg("Reconnected to RabbitMQ")
		for _, s := range c.consumerSpecs {
			if err := c.startConsumer(ctx, s); err != nil {
				c.log.Err(err).Str("consumer", s.Name).Msg("Failed to restart consumer after reconnect")
			}
		}
		return nil
	}
}

// startConsumer declares the per-consumer topology and runs the loop.
func (c *Client) startConsumer(ctx context.Context, spec ConsumerSpec) error {
	conn, _ := c.current()
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	pf := spec.Prefetch
	if pf <= 0 {
		pf = c.cfg.ConsumerPrefetch
	}
	if err = ch.Qos(pf, 0, false); err != nil {
		_ = ch.Close()
		return err
	}
	if err = declareConsumerTopology(ch, spec); err != nil {
		_ = ch.Close()
		return err
	}
	msgs, err := ch.Consume(spec.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}
	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.consumerWG.Add(1)
	go func() {
		defer c.consumerWG.Done()
		c.consumeLoop(ctx, ch, closeCh, msgs, spec)
	}()

	c.log.Info().
		Str("consumer", spec.Name).
		Str("queue", spec.Queue).
		Int("prefetch", pf).
		Msg("Consumer started")
	return nil
}

func (c *Client) consumeLoop(ctx context.Context, ch *amqp.Channel, closeCh chan *amqp.Error, msgs <-chan amqp.Delivery, spec ConsumerSpec) {
	for {
		select {
		case <-ctx.Done():
			_ = ch.Close()
			return

		case <-closeCh:
			drainRequeue(msgs)
			select {
			case c.consumerClosed <- spec.Name:
			default:
			}
			_ = ch.Close()
			return

		case d, ok := <-msgs:
			if !ok {
				_ = ch.Close()
				return
			}
			c.handleDelivery(ctx, ch, spec, d)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, ch *amqp.Channel, spec ConsumerSpec, d amqp.Delivery) {
	retry := spec.Retry != nil && spec.Retry.Enabled
	if retry && spec.Retry.MaxAttempts > 0 && deathCount(d, spec.Queue) >= spec.Retry.MaxAttempts {
		c.log.Warn().
			Str("consumer", spec.Name).
			Str("message_id", d.MessageId).
			Msg("Delivery exceeded max attempts, moving to final queue")
		_ = publishFinal(ch, finalExchange(spec), d)
		_ = d.Ack(false)
		return
	}

	err := spec.Consume(ctx, d)
	switch {
	case errors.Is(err, ErrPoison):
		c.log.Warn().Err(err).
			Str("consumer", spec.Name).
			Str("message_id", d.MessageId).
			Str("type", d.Type).
			Msg("Dropping poison message")
		if spec.PoisonToFinal {
			_ = publishFinal(ch, finalExchange(spec), d)
		}
		_ = d.Ack(false)
	case err != nil:
		c.log.Err(err).Str("consumer", spec.Name).Str("message_id", d.MessageId).Msg("Delivery failed")
		// Dead-lettering goes through the retry stage when enabled.
		_ = d.Nack(false, !retry)
	default:
		_ = d.Ack(false)
	}
}

func drainRequeue(msgs <-chan amqp.Delivery) {
	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				return
			}
			_ = d.Nack(false, true)
		default:
			return
		}
	}
}

// declareConsumerTopology declares the main queue and binding, the DLX/TTL
// retry stage and the final queue.
func declareConsumerTopology(ch *amqp.Channel, s ConsumerSpec) error {
	exKind := firstNonEmpty(s.ExchangeKind, "topic")
	if err := ch.ExchangeDeclare(s.Exchange, exKind, true, false, false, false, nil); err != nil {
		return err
	}
	retry := s.Retry != nil && s.Retry.Enabled
	mainArgs := amqp.Table{}
	if retry {
		mainArgs["x-dead-letter-exchange"] = firstNonEmpty(s.Retry.DeadExchange, s.Queue+".dead")
	}
	if _, err := ch.QueueDeclare(s.Queue, true, false, false, false, mainArgs); err != nil {
		return err
	}
	if err := ch.QueueBind(s.Queue, s.BindingKey, s.Exchange, false, nil); err != nil {
		return err
	}

	if retry {
		deadEx := firstNonEmpty(s.Retry.DeadExchange, s.Queue+".dead")
		deadQ := firstNonEmpty(s.Retry.DeadQueue, s.Queue+".dead")
		if err := ch.ExchangeDeclare(deadEx, "fanout", true, false, false, false, nil); err != nil {
			return err
		}
		ttl := s.Retry.TTL
		if ttl <= 0 {
			ttl = 5 * time.Second
		}
		dArgs := amqp.Table{
			"x-message-ttl":             int32(ttl / time.Millisecond),
			"x-dead-letter-exchange":    s.Exchange,
			"x-dead-letter-routing-key": s.BindingKey,
		}
		if _, err := ch.QueueDeclare(deadQ, true, false, false, false, dArgs); err != nil {
			return err
		}
		if err := ch.QueueBind(deadQ, "", deadEx, false, nil); err != nil {
			return err
		}
	}

	if retry || s.PoisonToFinal {
		finalEx, finalQ := finalExchange(s), finalQueue(s)
		if err := ch.ExchangeDeclare(finalEx, "fanout", true, false, false, false, nil); err != nil {
			return err
		}
		if _, err := ch.QueueDeclare(finalQ, true, false, false, false, nil); err != nil {
			return err
		}
		if err := ch.QueueBind(finalQ, "", finalEx, false, nil); err != nil {
			return err
		}
	}
	return nil
}
