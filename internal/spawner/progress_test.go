package spawner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestStream_MultipleConsumers(t *testing.T) {
	s := NewStream()
	ctx := context.Background()

	early := s.Subscribe(ctx)
	s.Publish(Event{Progress: 10, Message: "a"})

	var wg sync.WaitGroup
	results := make([][]Event, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results[0] = drain(early) }()
	go func() { defer wg.Done(); results[1] = drain(s.Subscribe(ctx)) }()

	s.Publish(Event{Progress: 50, Message: "b"})
	s.Publish(Event{Progress: 100, Ready: true})
	s.Close()
	wg.Wait()

	for _, r := range results {
		require.Len(t, r, 3)
		require.True(t, r[2].Ready)
	}
	// replay completo para un suscriptor tardío
	require.Len(t, drain(s.Subscribe(ctx)), 3)
}

func TestStream_PublishNeverBlocks(t *testing.T) {
	s := NewStream()
	_ = s.Subscribe(context.Background()) // nadie lee

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Publish(Event{Progress: i % 100})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow consumer")
	}
	require.Len(t, s.History(), 1000)
}

func TestStream_SubscriberCancel(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()
	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on cancel")
	}
}

func TestValidTransition(t *testing.T) {
	require.True(t, ValidTransition("stopped", "spawning"))
	require.True(t, ValidTransition("running", "stopped"))
	require.False(t, ValidTransition("stopped", "running"))
	require.False(t, ValidTransition("spawning", "stopping"))
	require.ErrorIs(t, checkTransition("stopping", "running"), ErrInvalidTransition)
}
