package bus

import (
	"context"
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "telegram", ChatID: "12345"}
	if got := msg.SessionKey(); got != "telegram:12345" {
		t.Errorf("SessionKey = %q, want telegram:12345", got)
	}
}

func TestDispatchOutboundRoutesByChannel(t *testing.T) {
	b := NewMessageBus(10)

	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"}

	select {
	case msg := <-got:
		if msg.Content != "hi" || msg.ChatID != "1" {
			t.Errorf("delivered message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound message not delivered")
	}
}

func TestDispatchOutboundDropsUnknownChannel(t *testing.T) {
	b := NewMessageBus(10)

	delivered := make(chan OutboundMessage, 2)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		delivered <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	// no subscriber; must be dropped without blocking the dispatcher
	b.Outbound <- OutboundMessage{Channel: "carrier-pigeon", Content: "lost"}
	b.Outbound <- OutboundMessage{Channel: "telegram", Content: "after"}

	select {
	case msg := <-delivered:
		if msg.Content != "after" {
			t.Errorf("delivered = %+v, want the telegram message", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher stalled on unroutable message")
	}
}

func TestDispatchOutboundStopsOnCancel(t *testing.T) {
	b := NewMessageBus(1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		b.DispatchOutbound(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DispatchOutbound did not stop after cancel")
	}
}
