// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config defines the broker connection and the topology shared with the
// WhatsApp gateway.
type Config struct {
	URL string

	// EventsExchange carries normalized events published by the gateway.
	EventsExchange   string
	EventsQueue      string
	EventsBindingKey string
	// CommandsExchange receives sends, read receipts, presence and queries.
	CommandsExchange string
	// Producer is stamped on every envelope and AMQP AppId.
	Producer string

	PublishPoolSize        int
	ConsumerPrefetch       int
	ConnTimeout            time.Duration
	QueryTimeout           time.Duration
	PoolRetryDelay         time.Duration
	ReconnectBackoffBase   time.Duration
	ReconnectBackoffCap    time.Duration
	ReconnectJitterPercent int

	Retry RetrySpec

	Dialer func(ctx context.Context, url string) (*amqp.Connection, error)
}

func (c *Config) setDefaults() {
	if c.EventsExchange == "" {
		c.EventsExchange = "wa.events"
	}
	if c.EventsQueue == "" {
		c.EventsQueue = "wa-relay.events"
	}
	if c.EventsBindingKey == "" {
		c.EventsBindingKey = "wa.#"
	}
	if c.CommandsExchange == "" {
		c.CommandsExchange = "wa.commands"
	}
	if c.Producer == "" {
		c.Producer = "wa-mattermost-relay"
	}
	if c.PublishPoolSize <= 0 {
		c.PublishPoolSize = 16
	}
	if c.ConsumerPrefetch <= 0 {
		c.ConsumerPrefetch = 32
	}
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = 30 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.PoolRetryDelay <= 0 {
		c.PoolRetryDelay = 50 * time.Millisecond
	}
	if c.ReconnectBackoffBase <= 0 {
		c.ReconnectBackoffBase = time.Second
	}
	if c.ReconnectBackoffCap <= 0 {
		c.ReconnectBackoffCap = 30 * time.Second
	}
}
