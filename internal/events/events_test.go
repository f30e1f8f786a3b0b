package events

import (
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	defer cancelA()
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Publish(Event{Type: TicketEnqueued, Ticket: &models.Ticket{ID: 1}})

	for name, ch := range map[string]<-chan Event{"a": a, "c": c} {
		select {
		case ev := <-ch:
			if ev.Type != TicketEnqueued || ev.Ticket.ID != 1 {
				t.Errorf("%s got %+v", name, ev)
			}
			if ev.At.IsZero() {
				t.Errorf("%s: At not stamped", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no event delivered", name)
		}
	}
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: MessagePosted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := b.Dropped(); got != 9 {
		t.Errorf("Dropped = %d, want 9", got)
	}
}

func TestBus_CancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	// Publishing after cancel must not panic on the closed channel.
	b.Publish(Event{Type: TicketClaimed})
}

func TestBus_NilPublish(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: TicketClaimed})
}
