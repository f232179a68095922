package events

import (
	"testing"
	"time"
)

func TestPublishFanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Notify(LevelSuccess, "Bridge image uploaded!", "ready")

	for i, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Type != TypeNotice || ev.Notice == nil {
				t.Fatalf("subscriber %d: unexpected event %+v", i, ev)
			}
			if ev.Notice.Title != "Bridge image uploaded!" {
				t.Errorf("subscriber %d: unexpected title %q", i, ev.Notice.Title)
			}
			if ev.Time.IsZero() {
				t.Errorf("subscriber %d: expected timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event received", i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Type: TypeState, State: "validating"})
	bus.Publish(Event{Type: TypeState, State: "submitting"})

	ev := <-ch
	if ev.State != "validating" {
		t.Errorf("Expected first event to be kept, got %q", ev.State)
	}
	select {
	case ev := <-ch:
		t.Errorf("Expected second event to be dropped, got %+v", ev)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed")
	}

	// Publishing after unsubscribe must not panic
	bus.Publish(Event{Type: TypeState, State: "idle"})
}

func TestCloseEndsSubscriptions(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	bus.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed after bus close")
	}

	late, _ := bus.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("Expected subscription on closed bus to be closed")
	}
}
