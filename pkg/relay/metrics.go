// Copyright 2024-2026 Aiku AI

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

var (
	messagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_relay_messages_relayed_total",
		Help: "Messages relayed, by direction and message kind.",
	}, []string{"direction", "kind"})

	relayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_relay_failures_total",
		Help: "Messages that could not be relayed, by direction and reason.",
	}, []string{"direction", "reason"})

	callsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_relay_calls_suppressed_total",
		Help: "Duplicate call offers dropped inside the suppression window.",
	})
)
