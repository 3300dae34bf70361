package events

import "testing"

func TestDispatcherDeliversInSubscriptionOrder(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.Subscribe("trade.open", func(topic string, payload map[string]any) {
		got = append(got, "first:"+topic)
	})
	d.Subscribe("trade.open", func(topic string, payload map[string]any) {
		got = append(got, "second:"+topic)
	})
	d.Publish("trade.open", map[string]any{"symbol": "BTCUSDT"})

	if len(got) != 2 || got[0] != "first:trade.open" || got[1] != "second:trade.open" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
}

func TestDispatcherSurvivesPanickingSubscriber(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Subscribe("trade.closed", func(topic string, payload map[string]any) {
		panic("boom")
	})
	d.Subscribe("trade.closed", func(topic string, payload map[string]any) {
		called = true
	})

	d.Publish("trade.closed", nil)
	if !called {
		t.Fatal("second subscriber should still run after the first panics")
	}
}

func TestNotifierIgnoresUnknownTopics(t *testing.T) {
	n := NewNotifier(&TelegramSink{})
	// disabled sink; this must not panic even for a known topic.
	n.HandleEvent("trade.open", map[string]any{"symbol": "ETHUSDT", "direction": "LONG"})
	n.HandleEvent("some.unhandled.topic", map[string]any{"x": 1})
}
