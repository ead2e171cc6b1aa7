package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/subscription"
)

func collect(t *testing.T, s Source) []message.Message {
	t.Helper()
	var got []message.Message
	_, err := s.Drain(func(m message.Message) { got = append(got, m) })
	require.NoError(t, err)
	return got
}

func TestMemoryDrainFIFOAndFilter(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Enable(subscription.Key{Module: "Test"}, true))

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, m.Push(message.Message{Module: "Test", Category: "Information", Payload: message.Text(p)}))
	}
	require.NoError(t, m.Push(message.Message{Module: "Other", Category: "Information", Payload: message.Text("x")}))

	got := collect(t, m)
	require.Len(t, got, 3)
	for i, want := range []string{"a", "b", "c"} {
		text, _ := got[i].Text()
		assert.Equal(t, want, text)
	}

	// Drained (including filtered) messages are gone.
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, collect(t, m))
}

func TestMemoryWaitWakesOnPush(t *testing.T) {
	m := NewMemory()

	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()

	require.NoError(t, m.Push(message.Message{Module: "Test"}))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Push")
	}
}

func TestMemoryWaitCoalescesNotifications(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Push(message.Message{Module: "Test"}))
	}

	require.NoError(t, m.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)
}

func TestMemoryCloseWakesWait(t *testing.T) {
	m := NewMemory()

	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()

	require.NoError(t, m.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Close")
	}

	_, err := m.Drain(func(message.Message) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Push(message.Message{Module: "Test"}), ErrClosed)
	assert.ErrorIs(t, m.Enable(subscription.Key{Module: "Test"}, true), ErrClosed)
}

func TestMemoryWaitHonorsContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.Canceled)
}
