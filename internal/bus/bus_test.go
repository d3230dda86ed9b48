package bus

import (
	"sync"
	"testing"
	"time"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestValueGetBeforeSet(t *testing.T) {
	v := NewValue[bool]()
	if _, ok := v.Get(); ok {
		t.Error("Get() on empty Value should report ok=false")
	}
}

func TestValueSubscriberSeesCurrentThenChanges(t *testing.T) {
	v := NewValue[int]()
	v.Set(1)

	ch, cancel := v.Subscribe()
	defer cancel()

	if got := recv(t, ch); got != 1 {
		t.Fatalf("first value = %d, want 1 (current value)", got)
	}

	v.Set(2)
	if got := recv(t, ch); got != 2 {
		t.Errorf("second value = %d, want 2", got)
	}
}

func TestValueSlowSubscriberSeesLatestOnly(t *testing.T) {
	v := NewValue[int]()
	ch, cancel := v.Subscribe()
	defer cancel()

	for i := 1; i <= 10; i++ {
		v.Set(i)
	}

	if got := recv(t, ch); got != 10 {
		t.Errorf("slow subscriber got %d, want 10 (last value wins)", got)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra value %d", extra)
	default:
	}
}

func TestValueMultipleSubscribers(t *testing.T) {
	v := NewValue[string]()
	a, cancelA := v.Subscribe()
	defer cancelA()
	b, cancelB := v.Subscribe()
	defer cancelB()

	v.Set("x")
	if got := recv(t, a); got != "x" {
		t.Errorf("subscriber a got %q, want %q", got, "x")
	}
	if got := recv(t, b); got != "x" {
		t.Errorf("subscriber b got %q, want %q", got, "x")
	}
}

func TestValueCancelClosesChannel(t *testing.T) {
	v := NewValue[int]()
	ch, cancel := v.Subscribe()
	cancel()
	cancel() // second cancel is a no-op

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	v.Set(5) // must not panic on a closed subscriber
}

func TestValueClose(t *testing.T) {
	v := NewValue[int]()
	ch, cancel := v.Subscribe()
	defer cancel()

	v.Close()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}

	v.Set(7)
	if _, ok := v.Get(); ok {
		t.Error("Set after Close should be ignored")
	}

	late, _ := v.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}

func TestValueConcurrentSet(t *testing.T) {
	v := NewValue[int]()
	ch, cancel := v.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v.Set(n*100 + j)
			}
		}(i)
	}
	wg.Wait()

	want, _ := v.Get()
	var got int
	for {
		select {
		case got = <-ch:
			continue
		default:
		}
		break
	}
	if got != want {
		t.Errorf("subscriber last value = %d, want %d", got, want)
	}
}

func TestBroadcasterDelivers(t *testing.T) {
	b := NewBroadcaster[string]()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish("a")
	b.Publish("b")

	if got := recv(t, ch); got != "a" {
		t.Errorf("first = %q, want %q", got, "a")
	}
	if got := recv(t, ch); got != "b" {
		t.Errorf("second = %q, want %q", got, "b")
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster[int]()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(1)
	b.Publish(2) // buffer full

	if got := recv(t, ch); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster[int]()
	ch, _ := b.Subscribe(1)
	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	b.Publish(1) // ignored, must not panic
}
