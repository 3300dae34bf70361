// Package events carries decision/trade lifecycle notifications from the
// runtime loop out to whatever is listening, grounded on
// trade_ai/infrastructure/events/event_dispatcher.py: an in-process
// pub/sub that never lets a subscriber panic take down the publisher.
// The Telegram sink (telegram.go) follows
// trade_ai/infrastructure/notify/{tele_notifier,telegram_client}.py,
// using github.com/go-telegram-bot-api/telegram-bot-api/v5
// (yohannesjx-sniperterminal) instead of a hand-rolled HTTP client.
package events

import "sync"

// Handler receives one published event. It must not block for long;
// the dispatcher calls handlers synchronously, in subscription order.
type Handler func(topic string, payload map[string]any)

// Dispatcher is a minimal topic-keyed pub/sub. In production this could
// be swapped for Kafka/NATS without changing Publish's call sites.
type Dispatcher struct {
	mu   sync.Mutex
	subs map[string][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[string][]Handler)}
}

func (d *Dispatcher) Subscribe(topic string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[topic] = append(d.subs[topic], h)
}

// Publish calls every handler subscribed to topic. A handler that
// panics is recovered and skipped so one bad subscriber never breaks
// the rest or the caller's trading loop.
func (d *Dispatcher) Publish(topic string, payload map[string]any) {
	d.mu.Lock()
	handlers := append([]Handler(nil), d.subs[topic]...)
	d.mu.Unlock()

	for _, h := range handlers {
		callSafe(h, topic, payload)
	}
}

func callSafe(h Handler, topic string, payload map[string]any) {
	defer func() { _ = recover() }()
	h(topic, payload)
}
