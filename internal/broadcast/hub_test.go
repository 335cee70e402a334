package broadcast

import (
	"testing"
	"time"
)

func TestNotifyWakesEverySubscriber(t *testing.T) {
	h := NewHub()
	a, unsubA := h.Subscribe()
	b, unsubB := h.Subscribe()
	defer unsubA()
	defer unsubB()

	h.Notify()

	for i, ch := range []<-chan struct{}{a, b} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d not signalled", i)
		}
	}
}

func TestNotifyCoalesces(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	for i := 0; i < 5; i++ {
		h.Notify()
	}

	<-ch
	select {
	case <-ch:
		t.Fatal("expected a single pending signal")
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()

	unsub()
	unsub()

	// Notify with nobody listening must not block.
	h.Notify()
	select {
	case <-ch:
		t.Fatal("unsubscribed channel was signalled")
	default:
	}
}
