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

// PublishJSON publishes an envelope as JSON with the matching AMQP
// properties.
func (c *Client) PublishJSON(ctx context.Context, exchange, routingKey string, env Envelope) error {
	msg, err := c.publishing(env)
	if err != nil {
		return err
	}
	_, pool := c.current()
	if pool == nil {
		return errors.New("gateway client is not connected")
	}
	ch, err := pool.borrow(ctx, c.cfg.PoolRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to borrow channel: %w", err)
	}
	defer pool.giveBack(ch)

	if err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", env.Meta.Type, err)
	}
	return nil
}

func (c *Client) publishing(env Envelope) (amqp.Publishing, error) {
	if env.Meta.ID == "" {
		return amqp.Publishing{}, errors.New("envelope meta id is required")
	}
	if env.Meta.CorrelationID == "" {
		env.Meta.CorrelationID = env.Meta.ID
	}
	if env.Meta.Time.IsZero() {
		env.Meta.Time = time.Now().UTC()
	}
	if env.Meta.Producer == "" {
		env.Meta.Producer = c.cfg.Producer
	}
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         c.cfg.Producer,
	}, nil
}
