package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/sink"
	"github.com/mattjoyce/tracetap/internal/source"
	"github.com/mattjoyce/tracetap/internal/source/mocks"
	"github.com/mattjoyce/tracetap/internal/subscription"
	"github.com/mattjoyce/tracetap/internal/workspace"
)

// openMemory opens the singleton on an in-process channel rooted in a
// per-test workspace base.
func openMemory(t *testing.T) (*Client, *source.Memory, string) {
	t.Helper()
	require.Nil(t, Current(), "a previous test leaked the client")

	base := t.TempDir()
	mem := source.NewMemory()
	c, err := Open(Options{
		WorkspaceBase: base,
		NewSource:     func(string) (source.Source, error) { return mem, nil },
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if Current() == c {
			_ = c.Close()
		}
	})
	return c, mem, base
}

func workDirs(t *testing.T, base string) []string {
	t.Helper()
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), workspace.DirPrefix) {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

func push(t *testing.T, mem *source.Memory, module, category, text string) {
	t.Helper()
	require.NoError(t, mem.Push(message.Message{
		Module:    module,
		Category:  category,
		Timestamp: time.Now(),
		Payload:   message.Text(text),
	}))
}

type chanSink chan string

func (c chanSink) Output(msg message.Message) {
	text, _ := msg.Text()
	c <- text
}

func receive(t *testing.T, ch chanSink, n int) []string {
	t.Helper()
	got := make([]string, 0, n)
	for len(got) < n {
		select {
		case s := <-ch:
			got = append(got, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d messages", len(got), n)
		}
	}
	return got
}

func TestOpenIsIdempotentUnderConcurrency(t *testing.T) {
	require.Nil(t, Current())
	base := t.TempDir()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		clients []*Client
		sources int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := Open(Options{
				WorkspaceBase: base,
				NewSource: func(string) (source.Source, error) {
					mu.Lock()
					sources++
					mu.Unlock()
					return source.NewMemory(), nil
				},
			})
			assert.NoError(t, err)
			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, clients, 16)
	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}
	assert.Equal(t, 1, sources)
	assert.Len(t, workDirs(t, base), 1)
	assert.Same(t, clients[0], Current())

	require.NoError(t, clients[0].Close())
}

func TestLifecycleSymmetry(t *testing.T) {
	c, _, base := openMemory(t)

	first := c.WorkDir()
	assert.DirExists(t, first)
	assert.Equal(t, base, filepath.Dir(first))

	require.NoError(t, c.Close())
	assert.NoDirExists(t, first)
	assert.Nil(t, Current())
	assert.Empty(t, workDirs(t, base))

	again, err := Open(Options{
		WorkspaceBase: base,
		NewSource:     func(string) (source.Source, error) { return source.NewMemory(), nil },
	})
	require.NoError(t, err)
	assert.NotSame(t, c, again)
	assert.NotEqual(t, first, again.WorkDir())
	assert.DirExists(t, again.WorkDir())
	require.NoError(t, again.Close())
}

func TestClosedClientRejectsEverything(t *testing.T) {
	c, _, _ := openMemory(t)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Close(), ErrClosed)
	assert.ErrorIs(t, c.EnableMessage("Test", "", true), ErrClosed)
	assert.ErrorIs(t, c.RegisterSink(make(chanSink)), ErrClosed)
	assert.ErrorIs(t, c.UnregisterSink(), ErrClosed)
	_, err := c.Subscriptions()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestShutdownOrdering(t *testing.T) {
	c, mem, _ := openMemory(t)
	require.NoError(t, c.EnableMessage("Test", "", true))
	require.NoError(t, c.RegisterSink(sink.Func(func(message.Message) {
		time.Sleep(10 * time.Millisecond)
	})))
	for i := 0; i < 5; i++ {
		push(t, mem, "Test", "Information", "slow")
	}

	dir := c.WorkDir()
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	default:
		t.Fatal("Close returned while the dispatch goroutine was still running")
	}
	assert.NoDirExists(t, dir)
	assert.ErrorIs(t, mem.Push(message.Message{Module: "Test"}), source.ErrClosed)
}

func TestFIFODelivery(t *testing.T) {
	c, mem, _ := openMemory(t)
	require.NoError(t, c.EnableMessage("Test", "", true))

	out := make(chanSink, 128)
	require.NoError(t, c.RegisterSink(out))

	var want []string
	for i := 0; i < 100; i++ {
		text := fmt.Sprintf("msg-%03d", i)
		want = append(want, text)
		push(t, mem, "Test", "Information", text)
	}

	assert.Equal(t, want, receive(t, out, 100))
	assert.Equal(t, int64(100), c.Stats().Delivered)
}

func TestQueuedMessagesDeliveredOnOpen(t *testing.T) {
	require.Nil(t, Current())

	mem := source.NewMemory()
	require.NoError(t, mem.Enable(subscription.Key{Module: "Test"}, true))
	push(t, mem, "Test", "Information", "waiting")

	c, err := Open(Options{
		WorkspaceBase: t.TempDir(),
		NewSource:     func(string) (source.Source, error) { return mem, nil },
	})
	require.NoError(t, err)
	defer c.Close()

	// The initial drain ran before any sink existed.
	assert.Equal(t, 0, mem.Len())
	assert.Equal(t, int64(1), c.Stats().Dropped)
}

func TestSilentDropWithoutSink(t *testing.T) {
	c, mem, _ := openMemory(t)
	require.NoError(t, c.EnableMessage("Test", "", true))

	for i := 0; i < 3; i++ {
		push(t, mem, "Test", "Information", "lost")
	}
	require.Eventually(t, func() bool { return c.Stats().Dropped == 3 }, 2*time.Second, 5*time.Millisecond)

	out := make(chanSink, 8)
	require.NoError(t, c.RegisterSink(out))
	push(t, mem, "Test", "Information", "kept")

	assert.Equal(t, []string{"kept"}, receive(t, out, 1))
	select {
	case extra := <-out:
		t.Fatalf("dropped message was replayed: %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSinkToggleEnforcement(t *testing.T) {
	c, _, _ := openMemory(t)

	err := c.UnregisterSink()
	assert.ErrorIs(t, err, sink.ErrNotRegistered)
	assert.ErrorIs(t, err, sink.ErrContractViolation)
	assert.Equal(t, sink.Unregistered, c.SinkState())

	assert.ErrorIs(t, c.RegisterSink(nil), sink.ErrNilSink)

	first := make(chanSink)
	require.NoError(t, c.RegisterSink(first))
	err = c.RegisterSink(make(chanSink))
	assert.ErrorIs(t, err, sink.ErrAlreadyRegistered)
	assert.ErrorIs(t, err, sink.ErrContractViolation)
	assert.Equal(t, sink.Registered, c.SinkState())

	require.NoError(t, c.UnregisterSink())
	assert.ErrorIs(t, c.UnregisterSink(), sink.ErrNotRegistered)
}

func TestSubscriptionFiltering(t *testing.T) {
	c, mem, _ := openMemory(t)
	out := make(chanSink, 16)
	require.NoError(t, c.RegisterSink(out))

	require.NoError(t, c.EnableMessage("Net", "", true))
	require.NoError(t, c.EnableMessage("Net", "Debug", false))
	require.NoError(t, c.EnableMessage("Disk", "Error", true))

	push(t, mem, "Net", "Debug", "noisy")
	push(t, mem, "Net", "Info", "net-info")
	push(t, mem, "Disk", "Info", "disk-info")
	push(t, mem, "Disk", "Error", "disk-error")
	push(t, mem, "Gpu", "Error", "gpu-error")

	assert.Equal(t, []string{"net-info", "disk-error"}, receive(t, out, 2))

	keys, err := c.Subscriptions()
	require.NoError(t, err)
	assert.Equal(t, []subscription.Key{
		{Module: "Disk", Category: "Error"},
		{Module: "Net"},
	}, keys)
}

func TestEmptyModuleRejected(t *testing.T) {
	c, _, _ := openMemory(t)
	assert.Error(t, c.EnableMessage("", "Error", true))
}

func TestTextSinkRoundTrip(t *testing.T) {
	c, mem, _ := openMemory(t)
	require.NoError(t, c.EnableMessage("Test", "", true))

	var buf bytes.Buffer
	f := sink.Formatter{Mode: sink.ModeAbbreviated, Timestamp: sink.TimestampShort, Location: time.UTC}
	require.NoError(t, c.RegisterSink(sink.NewText(&buf, f)))

	ts := time.Date(2024, 3, 9, 14, 5, 6, 789_000_000, time.UTC)
	require.NoError(t, mem.Push(message.Message{
		Module: "Test", Category: "Information", Timestamp: ts, Payload: message.Text("hello"),
	}))
	require.Eventually(t, func() bool { return c.Stats().Delivered == 1 }, 2*time.Second, 5*time.Millisecond)

	// Close joins the dispatch goroutine, so buf is safe to read afterwards.
	require.NoError(t, c.Close())
	assert.Equal(t, "[14:05:06.789][Test][Information]: hello\n", buf.String())
}

func TestSinkMayCallBackIntoClient(t *testing.T) {
	c, mem, _ := openMemory(t)
	require.NoError(t, c.EnableMessage("Test", "", true))

	seen := make(chan []subscription.Key, 1)
	require.NoError(t, c.RegisterSink(sink.Func(func(message.Message) {
		keys, _ := c.Subscriptions()
		seen <- keys
	})))
	push(t, mem, "Test", "Information", "x")

	select {
	case keys := <-seen:
		assert.Equal(t, []subscription.Key{{Module: "Test"}}, keys)
	case <-time.After(2 * time.Second):
		t.Fatal("sink deadlocked calling back into the client")
	}
}

func TestSinkPanicIsContained(t *testing.T) {
	c, mem, _ := openMemory(t)
	require.NoError(t, c.EnableMessage("Test", "", true))

	out := make(chanSink, 4)
	require.NoError(t, c.RegisterSink(sink.Func(func(msg message.Message) {
		if text, _ := msg.Text(); text == "boom" {
			panic("sink failure")
		}
		out.Output(msg)
	})))

	push(t, mem, "Test", "Information", "boom")
	push(t, mem, "Test", "Information", "fine")

	assert.Equal(t, []string{"fine"}, receive(t, out, 1))
	assert.Equal(t, int64(1), c.Stats().Panics)
}

func TestEnableMessageForwardedInOrder(t *testing.T) {
	require.Nil(t, Current())
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)

	src.EXPECT().Drain(gomock.Any()).Return(0, nil).AnyTimes()
	src.EXPECT().Wait(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}).AnyTimes()
	gomock.InOrder(
		src.EXPECT().Enable(subscription.Key{Module: "A"}, true).Return(nil),
		src.EXPECT().Enable(subscription.Key{Module: "A", Category: "x"}, false).Return(nil),
		src.EXPECT().Enable(subscription.Key{Module: "B", Category: "y"}, true).Return(errors.New("rejected")),
		src.EXPECT().Close().Return(nil),
	)

	c, err := Open(Options{
		WorkspaceBase: t.TempDir(),
		NewSource:     func(string) (source.Source, error) { return src, nil },
	})
	require.NoError(t, err)

	require.NoError(t, c.EnableMessage("A", "", true))
	require.NoError(t, c.EnableMessage("A", "x", false))
	assert.Error(t, c.EnableMessage("B", "y", true))

	keys, err := c.Subscriptions()
	require.NoError(t, err)
	assert.Equal(t, []subscription.Key{{Module: "A"}}, keys)

	require.NoError(t, c.Close())
}

func TestOpenFailureUnwinds(t *testing.T) {
	require.Nil(t, Current())

	t.Run("source open fails", func(t *testing.T) {
		base := t.TempDir()
		_, err := Open(Options{
			WorkspaceBase: base,
			NewSource:     func(string) (source.Source, error) { return nil, errors.New("no channel") },
		})
		require.Error(t, err)
		assert.Nil(t, Current())
		assert.Empty(t, workDirs(t, base))
	})

	t.Run("initial drain hits a closed source", func(t *testing.T) {
		base := t.TempDir()
		ctrl := gomock.NewController(t)
		src := mocks.NewMockSource(ctrl)
		src.EXPECT().Drain(gomock.Any()).Return(0, source.ErrClosed)
		src.EXPECT().Close().Return(nil)

		_, err := Open(Options{
			WorkspaceBase: base,
			NewSource:     func(string) (source.Source, error) { return src, nil },
		})
		require.Error(t, err)
		assert.Nil(t, Current())
		assert.Empty(t, workDirs(t, base))
	})

	t.Run("workspace base unusable", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(file, nil, 0o644))

		_, err := Open(Options{
			WorkspaceBase: file,
			NewSource:     func(string) (source.Source, error) { return source.NewMemory(), nil },
		})
		require.Error(t, err)
		assert.Nil(t, Current())
	})
}

func TestDefaultSourceFromChannelOptions(t *testing.T) {
	require.Nil(t, Current())

	channelBase := t.TempDir()
	c, err := Open(Options{
		WorkspaceBase: t.TempDir(),
		Channel:       source.Options{Kind: source.KindSpool, Identifier: "unit", BasePath: channelBase},
	})
	require.NoError(t, err)
	defer c.Close()

	assert.DirExists(t, filepath.Join(channelBase, "unit"))
	assert.DirExists(t, filepath.Join(c.WorkDir(), "inflight"))
}

// idleSource counts how often the dispatch goroutine parks in Wait.
type idleSource struct {
	*source.Memory
	waits atomic.Int32
}

func (s *idleSource) Wait(ctx context.Context) error {
	s.waits.Add(1)
	return s.Memory.Wait(ctx)
}

func TestCloseWhileIdle(t *testing.T) {
	require.Nil(t, Current())

	src := &idleSource{Memory: source.NewMemory()}
	c, err := Open(Options{
		WorkspaceBase: t.TempDir(),
		NewSource:     func(string) (source.Source, error) { return src, nil },
	})
	require.NoError(t, err)
	require.NoError(t, c.EnableMessage("Test", "", true))

	out := make(chanSink, 1)
	require.NoError(t, c.RegisterSink(out))
	push(t, src.Memory, "Test", "Information", "only")
	assert.Equal(t, []string{"only"}, receive(t, out, 1))

	// The delivering drain followed the first Wait; the second means the
	// goroutine is parked again with nothing to do.
	require.Eventually(t, func() bool { return src.waits.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	dir := c.WorkDir()
	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on an idle client")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Close returned before the dispatch goroutine exited")
	}
	assert.NoDirExists(t, dir)
	assert.Nil(t, Current())
}

func TestCloseWhileSinkCallsCurrent(t *testing.T) {
	c, mem, _ := openMemory(t)
	require.NoError(t, c.EnableMessage("Test", "", true))

	entered := make(chan struct{})
	seen := make(chan *Client, 1)
	require.NoError(t, c.RegisterSink(sink.Func(func(message.Message) {
		close(entered)
		time.Sleep(50 * time.Millisecond)
		seen <- Current()
	})))
	push(t, mem, "Test", "Information", "x")

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never ran")
	}

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close deadlocked against a sink calling Current")
	}
	assert.Same(t, c, <-seen)
	assert.Nil(t, Current())
}

func TestOpenDuringCloseCreatesFreshClient(t *testing.T) {
	c, mem, base := openMemory(t)
	require.NoError(t, c.EnableMessage("Test", "", true))

	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, c.RegisterSink(sink.Func(func(message.Message) {
		close(entered)
		<-release
	})))
	push(t, mem, "Test", "Information", "x")
	<-entered

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	// Close has marked the client closed but is blocked on the sink.
	require.Eventually(t, func() bool { return c.isClosed() }, 2*time.Second, 5*time.Millisecond)

	fresh, err := Open(Options{
		WorkspaceBase: base,
		NewSource:     func(string) (source.Source, error) { return source.NewMemory(), nil },
	})
	require.NoError(t, err)
	assert.NotSame(t, c, fresh)

	close(release)
	require.NoError(t, <-closed)

	// The old client's teardown must not evict its replacement.
	assert.Same(t, fresh, Current())
	require.NoError(t, fresh.Close())
}

// flakySource fails the first few Wait calls with a transient error.
type flakySource struct {
	*source.Memory
	failures atomic.Int32
}

func (s *flakySource) Wait(ctx context.Context) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("watch event overflow")
	}
	return s.Memory.Wait(ctx)
}

func TestTransientWaitErrorKeepsDelivering(t *testing.T) {
	require.Nil(t, Current())

	src := &flakySource{Memory: source.NewMemory()}
	src.failures.Store(3)
	c, err := Open(Options{
		WorkspaceBase: t.TempDir(),
		NewSource:     func(string) (source.Source, error) { return src, nil },
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.EnableMessage("Test", "", true))
	out := make(chanSink, 2)
	require.NoError(t, c.RegisterSink(out))

	push(t, src.Memory, "Test", "Information", "first")
	assert.Equal(t, []string{"first"}, receive(t, out, 1))

	// By now every failure has been consumed and the loop is on the live path.
	require.Eventually(t, func() bool { return src.failures.Load() < 0 }, 2*time.Second, 5*time.Millisecond)
	push(t, src.Memory, "Test", "Information", "second")
	assert.Equal(t, []string{"second"}, receive(t, out, 1))

	_, err = c.Subscriptions()
	assert.NoError(t, err)
}

func TestStoppedDispatchIsReported(t *testing.T) {
	require.Nil(t, Current())
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)

	gomock.InOrder(
		src.EXPECT().Drain(gomock.Any()).Return(0, nil),
		src.EXPECT().Wait(gomock.Any()).Return(source.ErrClosed),
		src.EXPECT().Close().Return(nil),
	)

	base := t.TempDir()
	c, err := Open(Options{
		WorkspaceBase: base,
		NewSource:     func(string) (source.Source, error) { return src, nil },
	})
	require.NoError(t, err)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not stop after the source closed")
	}

	assert.ErrorIs(t, c.EnableMessage("Test", "", true), ErrDispatchStopped)
	assert.ErrorIs(t, c.RegisterSink(make(chanSink)), ErrDispatchStopped)
	assert.ErrorIs(t, c.UnregisterSink(), ErrDispatchStopped)
	_, err = c.Subscriptions()
	assert.ErrorIs(t, err, ErrDispatchStopped)

	// Close still tears down what Open built.
	dir := c.WorkDir()
	require.NoError(t, c.Close())
	assert.NoDirExists(t, dir)
	assert.Nil(t, Current())
	assert.Empty(t, workDirs(t, base))
}
