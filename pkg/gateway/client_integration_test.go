// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/internal/testutil/testrabbit"
	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

// fakeGateway answers wa.query.v1 requests on the commands exchange the
// way the WhatsApp gateway does.
func fakeGateway(t *testing.T, url string, cfg Config) {
	t.Helper()
	conn, err := amqp.Dial(url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if err = ch.QueueBind(q.Name, TypeQuery, cfg.CommandsExchange, false, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	go func() {
		for d := range msgs {
			body, _ := json.Marshal(Envelope{
				Meta: Meta{ID: "reply", CorrelationID: d.CorrelationId, Type: TypeQuery},
				Data: QueryResponse{Name: "Hikers", ParticipantCount: 3},
			})
			_ = ch.PublishWithContext(context.Background(), "", d.ReplyTo, false, false, amqp.Publishing{
				ContentType:   "application/json",
				CorrelationId: d.CorrelationId,
				Body:          body,
			})
		}
	}()
}

func TestClientRoundTrip(t *testing.T) {
	url := testrabbit.StartRabbitMQ(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewClient(ctx, Config{URL: url, EventsQueue: "it.events"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()
	fakeGateway(t, url, client.Config())

	src := NewSource(client, zerolog.Nop())
	sink := &recordingSink{}
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- src.Run(runCtx, sink) }()

	// The events queue is declared by Run; publish until it is bound.
	env := Envelope{
		Meta: Meta{ID: "evt-1", Type: TypeGroup},
		Data: GroupPayload{Conversation: "9@g.us", Subject: "Hikers"},
	}
	for len(sink.Events()) == 0 {
		if err = client.PublishJSON(ctx, client.Config().EventsExchange, TypeGroup, env); err != nil {
			t.Fatalf("PublishJSON: %v", err)
		}
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		case <-time.After(200 * time.Millisecond):
		}
	}
	renamed, ok := sink.Events()[0].(*bridge.ConversationRenamed)
	if !ok || renamed.Name != "Hikers" {
		t.Errorf("event = %+v", sink.Events()[0])
	}

	info, err := src.GetConversationInfo(ctx, "9@g.us")
	if err != nil {
		t.Fatalf("GetConversationInfo: %v", err)
	}
	if info.Name != "Hikers" || info.ParticipantCount != 3 {
		t.Errorf("info = %+v", info)
	}

	stop()
	if err = <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
