package events

import (
	"sync"
	"testing"
	"time"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10, EventCallTimeout)

	hub.EmitCall(EventCallTimeout, "dp_add", 7, 5*time.Second)

	select {
	case e := <-ch:
		if e.Type != EventCallTimeout {
			t.Errorf("expected EventCallTimeout, got %s", e.Type)
		}
		data, ok := e.Data.(CallData)
		if !ok {
			t.Fatal("expected CallData")
		}
		if data.Sequence != 7 || data.Command != "dp_add" {
			t.Errorf("unexpected payload %+v", data)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp should be filled in")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestHub_GlobalSubscription(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10)

	hub.Publish(Event{Type: EventInbound, Source: "test"})
	hub.Publish(Event{Type: EventStaleReply, Source: "test"})
	hub.EmitDiagnostic("net/vlan", "config", false)

	received := 0
	for i := 0; i < 3; i++ {
		select {
		case <-ch:
			received++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if received != 3 {
		t.Errorf("expected 3 events, got %d", received)
	}
}

func TestHub_TypeFiltering(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10, EventCallDone, EventCallTimeout)

	hub.Publish(Event{Type: EventInbound, Source: "test"})
	hub.Publish(Event{Type: EventCallDone, Source: "test"})
	hub.Publish(Event{Type: EventStaleReply, Source: "test"})
	hub.Publish(Event{Type: EventCallTimeout, Source: "test"})

	received := 0
	for {
		select {
		case <-ch:
			received++
		case <-time.After(50 * time.Millisecond):
			goto done
		}
	}
done:

	if received != 2 {
		t.Errorf("expected 2 call events, got %d", received)
	}
}

func TestHub_NonBlocking(t *testing.T) {
	hub := NewHub()

	_ = hub.Subscribe(1, EventInbound)

	delivered := 0
	for i := 0; i < 10; i++ {
		if hub.Publish(Event{Type: EventInbound, Source: "test"}) {
			delivered++
		}
	}

	published, dropped := hub.Stats()
	if published != 10 {
		t.Errorf("expected 10 published, got %d", published)
	}
	if dropped != 9 || delivered != 1 {
		t.Errorf("expected 9 dropped and 1 delivered, got %d dropped, %d delivered", dropped, delivered)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10, EventInbound)
	hub.Unsubscribe(ch)

	hub.Publish(Event{Type: EventInbound})

	select {
	case <-ch:
		t.Error("unsubscribed channel received an event")
	default:
	}
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1000, EventInbound)

	var wg sync.WaitGroup
	const numPublishers = 10
	const eventsPerPublisher = 100

	for i := 0; i < numPublishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerPublisher; j++ {
				hub.Publish(Event{Type: EventInbound, Source: "test"})
			}
		}()
	}

	wg.Wait()

	received := len(ch)
	if received != numPublishers*eventsPerPublisher {
		t.Errorf("expected %d events, got %d", numPublishers*eventsPerPublisher, received)
	}
	if published, _ := hub.Stats(); published != numPublishers*eventsPerPublisher {
		t.Errorf("expected %d published, got %d", numPublishers*eventsPerPublisher, published)
	}
}
