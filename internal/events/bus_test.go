package events

import (
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("no event within 1s")
	}
	return Event{}
}

func TestBus_NilIsSilent(t *testing.T) {
	var b *Bus
	b.Emit(SourceTools, KindToolCall, nil)
	b.Publish(Event{Kind: KindStatusChange})
	if b.SubscriberCount() != 0 || b.Dropped() != 0 {
		t.Error("nil bus reports activity")
	}
}

func TestBus_EmitFansOut(t *testing.T) {
	b := New()
	a, c := b.Subscribe(2), b.Subscribe(2)
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)

	before := time.Now()
	b.Emit(SourceBridge, KindQueueDrained, map[string]any{"delivered": 3})

	for _, ch := range []<-chan Event{a, c} {
		e := receive(t, ch)
		if e.Source != SourceBridge || e.Kind != KindQueueDrained {
			t.Errorf("event = %s/%s", e.Source, e.Kind)
		}
		if e.Timestamp.Before(before) {
			t.Errorf("timestamp %v precedes emit", e.Timestamp)
		}
		if e.Data["delivered"] != 3 {
			t.Errorf("delivered = %v", e.Data["delivered"])
		}
	}
}

func TestBus_FullSubscriberMissesEvents(t *testing.T) {
	b := New()
	slow := b.Subscribe(1)
	fast := b.Subscribe(4)
	defer b.Unsubscribe(slow)
	defer b.Unsubscribe(fast)

	for _, kind := range []string{"one", "two", "three"} {
		b.Publish(Event{Kind: kind})
	}

	if e := receive(t, slow); e.Kind != "one" {
		t.Errorf("slow got %q, want one", e.Kind)
	}
	select {
	case e := <-slow:
		t.Errorf("slow subscriber got extra event %q", e.Kind)
	default:
	}
	if got := len(fast); got != 3 {
		t.Errorf("fast subscriber buffered %d events, want 3", got)
	}
	if got := b.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	keep := b.Subscribe(1)
	gone := b.Subscribe(1)
	if b.SubscriberCount() != 2 {
		t.Fatalf("count = %d, want 2", b.SubscriberCount())
	}

	b.Unsubscribe(gone)
	b.Unsubscribe(gone)
	if _, open := <-gone; open {
		t.Error("unsubscribed channel still open")
	}
	if b.SubscriberCount() != 1 {
		t.Errorf("count = %d, want 1", b.SubscriberCount())
	}

	b.Publish(Event{Kind: KindToolDone})
	if e := receive(t, keep); e.Kind != KindToolDone {
		t.Errorf("remaining subscriber got %q", e.Kind)
	}
	b.Unsubscribe(keep)
}

func TestBus_ConcurrentUse(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for p := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				b.Emit(SourceAgent, KindRequestStart, map[string]any{"p": p, "i": i})
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := b.Subscribe(16)
			time.Sleep(time.Millisecond)
			b.Unsubscribe(ch)
		}()
	}
	wg.Wait()
	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("count = %d after all unsubscribed", n)
	}
}
