package discordrb

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusRaiseDeliversToMatchingHandler(t *testing.T) {
	b := NewBus(nil)
	var got Event
	var wg sync.WaitGroup
	wg.Add(1)
	b.On(EventMessage, nil, func(ev Event) {
		got = ev
		wg.Done()
	})

	b.Raise(Event{Kind: EventMessage, Attrs: map[string]any{"channel_id": uint64(5)}})

	waitOrTimeout(t, &wg)
	assert.Equal(t, EventMessage, got.Kind)
}

func TestBusPredicateFilters(t *testing.T) {
	b := NewBus(nil)
	var calls int32
	var mu sync.Mutex
	b.On(EventMessage, func(ev Event) bool {
		return ev.Attrs["channel_id"] == uint64(1)
	}, func(ev Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	b.Raise(Event{Kind: EventMessage, Attrs: map[string]any{"channel_id": uint64(2)}})
	b.Raise(Event{Kind: EventMessage, Attrs: map[string]any{"channel_id": uint64(1)}})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, calls)
}

func TestBusOffRemovesHandler(t *testing.T) {
	b := NewBus(nil)
	var calls int
	id := b.On(EventReady, nil, func(Event) { calls++ })
	b.Off(id)

	b.Raise(Event{Kind: EventReady})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, calls)
}

func TestBusAwaitFiresOnce(t *testing.T) {
	b := NewBus(nil)
	await := b.AddAwait("k1", EventGuildMemberAdd, map[string]any{"user_id": uint64(9)}, nil)

	b.Raise(Event{Kind: EventGuildMemberAdd, Attrs: map[string]any{"user_id": uint64(9)}, Payload: "first"})

	ev, ok := await.Wait(timeoutC(time.Second))
	require.True(t, ok)
	assert.Equal(t, "first", ev.Payload)

	// A second matching raise must not be delivered: the await already fired.
	b.Raise(Event{Kind: EventGuildMemberAdd, Attrs: map[string]any{"user_id": uint64(9)}, Payload: "second"})
	select {
	case ev2 := <-await.matchedC:
		t.Fatalf("unexpected second delivery: %+v", ev2)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusHandlerPanicIsRecovered(t *testing.T) {
	b := NewBus(nil)
	var wg sync.WaitGroup
	wg.Add(2)
	b.On(EventReady, nil, func(Event) {
		defer wg.Done()
		panic("boom")
	})
	b.On(EventReady, nil, func(Event) {
		wg.Done()
	})

	b.Raise(Event{Kind: EventReady})
	waitOrTimeout(t, &wg)
}

func timeoutC(d time.Duration) <-chan struct{} {
	c := make(chan struct{})
	go func() {
		time.Sleep(d)
		close(c)
	}()
	return c
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
