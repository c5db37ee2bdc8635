package bus

import (
	"context"
	"testing"
	"time"
)

func TestMessageBus_InboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishInbound(InboundMessage{Channel: "webex", ChatID: "room-1", Content: "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message before timeout")
	}
	if msg.Channel != "webex" || msg.ChatID != "room-1" || msg.Content != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestMessageBus_OutboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishOutbound(OutboundMessage{Channel: "webex", ChatID: "room-1", Content: "reply"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected a message before timeout")
	}
	if msg.Content != "reply" {
		t.Errorf("unexpected content: %q", msg.Content)
	}
}

func TestMessageBus_ConsumeReturnsFalseOnCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("expected ok=false after context cancellation")
	}
	if _, ok := b.SubscribeOutbound(ctx); ok {
		t.Error("expected ok=false after context cancellation")
	}
}

func TestMessageBus_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	b := New()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize+10; i++ {
			b.PublishInbound(InboundMessage{Channel: "webex"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishInbound blocked on a full queue")
	}
}
