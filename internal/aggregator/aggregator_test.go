package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock fires timers only when the test advances time.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type sink struct {
	ch chan Merged
}

func newSink() *sink { return &sink{ch: make(chan Merged, 64)} }

func (s *sink) handle(_ context.Context, m Merged) { s.ch <- m }

func (s *sink) next(t *testing.T) Merged {
	t.Helper()
	select {
	case m := <-s.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no flush")
		return Merged{}
	}
}

func (s *sink) none(t *testing.T) {
	t.Helper()
	select {
	case m := <-s.ch:
		t.Fatalf("unexpected flush: %+v", m)
	case <-time.After(30 * time.Millisecond):
	}
}

func newTestAggregator(clock *fakeClock, s *sink) *Aggregator {
	return New(Config{Window: 2 * time.Second}, s.handle, WithAfterFunc(clock.AfterFunc), WithClock(clock.Now))
}

func text(sender, id, body string) Fragment {
	return Fragment{SenderID: sender, MessageID: id, Kind: KindText, Text: body}
}

func TestAggregator_SlidingWindowMergesBurst(t *testing.T) {
	clock, s := newFakeClock(), newSink()
	a := newTestAggregator(clock, s)

	require.NoError(t, a.Ingest(text("+91981", "m1", "Ramesh ko")))
	clock.Advance(time.Second)
	require.NoError(t, a.Ingest(text("+91981", "m2", "2 Vivo V29")))
	clock.Advance(900 * time.Millisecond)
	require.NoError(t, a.Ingest(text("+91981", "m3", "udhaar pe")))

	clock.Advance(1900 * time.Millisecond) // t=3.8s
	s.none(t)

	clock.Advance(100 * time.Millisecond) // t=3.9s
	m := s.next(t)
	assert.Equal(t, "Ramesh ko\n2 Vivo V29\nudhaar pe", m.Text)
	assert.Equal(t, "m1", m.MessageID)
	assert.Equal(t, []string{"m1", "m2", "m3"}, m.MessageIDs)
	assert.Equal(t, 3, m.Fragments)
	assert.NotEmpty(t, m.FlushID)
	assert.Equal(t, 1900*time.Millisecond, m.LastAt.Sub(m.FirstAt))

	clock.Advance(10 * time.Second)
	s.none(t)
	assert.Zero(t, a.Pending(), "state entry is removed after flush")
}

func TestAggregator_SendersAreIndependent(t *testing.T) {
	clock, s := newFakeClock(), newSink()
	a := newTestAggregator(clock, s)

	require.NoError(t, a.Ingest(text("a", "a1", "first")))
	clock.Advance(time.Second)
	require.NoError(t, a.Ingest(text("b", "b1", "second")))
	assert.Equal(t, 2, a.Pending())

	clock.Advance(time.Second)
	m := s.next(t)
	assert.Equal(t, "a", m.SenderID)
	s.none(t)

	clock.Advance(time.Second)
	assert.Equal(t, "b", s.next(t).SenderID)
}

func TestAggregator_MediaLastWinsAndTextOrder(t *testing.T) {
	clock, s := newFakeClock(), newSink()
	a := newTestAggregator(clock, s)

	require.NoError(t, a.Ingest(Fragment{SenderID: "a", MessageID: "1", Kind: KindMedia, MediaRef: "media/1"}))
	require.NoError(t, a.Ingest(text("a", "2", "bill dekho")))
	require.NoError(t, a.Ingest(Fragment{SenderID: "a", MessageID: "3", Kind: KindMedia, MediaRef: "media/2"}))
	clock.Advance(2 * time.Second)

	m := s.next(t)
	assert.Equal(t, "bill dekho", m.Text)
	assert.Equal(t, []string{"media/2"}, m.MediaRefs)
	assert.Equal(t, 3, m.Fragments)
}

func TestAggregator_FragmentAfterFlushOpensNewBuffer(t *testing.T) {
	clock, s := newFakeClock(), newSink()
	a := newTestAggregator(clock, s)

	require.NoError(t, a.Ingest(text("a", "1", "one")))
	clock.Advance(2 * time.Second)
	require.NoError(t, a.Ingest(text("a", "2", "two")))

	assert.Equal(t, "one", s.next(t).Text)
	clock.Advance(2 * time.Second)
	assert.Equal(t, "two", s.next(t).Text)
}

func TestAggregator_StaleTimerIsNoop(t *testing.T) {
	clock, s := newFakeClock(), newSink()
	a := newTestAggregator(clock, s)

	require.NoError(t, a.Ingest(text("a", "1", "one")))
	a.mu.Lock()
	st := a.senders["a"]
	oldEpoch, oldToken := st.epoch, st.token
	a.mu.Unlock()

	require.NoError(t, a.Ingest(text("a", "2", "two")))
	a.expire("a", oldEpoch, oldToken)
	s.none(t)
	assert.Equal(t, 1, a.Pending())

	clock.Advance(2 * time.Second)
	assert.Equal(t, "one\ntwo", s.next(t).Text)

	// A timer from the flushed epoch must not touch the next buffer.
	require.NoError(t, a.Ingest(text("a", "3", "three")))
	a.expire("a", oldEpoch, oldToken+1)
	s.none(t)
	assert.Equal(t, 1, a.Pending())
}

func TestAggregator_DuplicateAndEmptyFragments(t *testing.T) {
	clock, s := newFakeClock(), newSink()
	a := newTestAggregator(clock, s)

	require.NoError(t, a.Ingest(text("a", "1", "one")))
	assert.ErrorIs(t, a.Ingest(text("a", "1", "one")), ErrDuplicateFragment)
	assert.ErrorIs(t, a.Ingest(text("a", "", "   ")), ErrEmptyFragment)
	assert.ErrorIs(t, a.Ingest(text("", "9", "x")), ErrEmptyFragment)
	require.NoError(t, a.Ingest(text("b", "1", "same id, other sender")))

	clock.Advance(2 * time.Second)
	got := map[string]int{}
	for i := 0; i < 2; i++ {
		m := s.next(t)
		got[m.SenderID] = m.Fragments
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, got)

	clock.Advance(2 * time.Second)
	assert.ErrorIs(t, a.Ingest(text("a", "1", "one")), ErrDuplicateFragment, "ids are remembered after flush")
}

func TestAggregator_SeenSetIsBounded(t *testing.T) {
	s := newSeenSet(2)
	assert.True(t, s.add("a"))
	assert.True(t, s.add("b"))
	assert.False(t, s.add("a"))
	assert.True(t, s.add("c"))
	assert.True(t, s.add("a"), "oldest id is evicted")
	assert.Len(t, s.ids, 2)
}

func TestAggregator_FlushesForOneSenderNeverOverlap(t *testing.T) {
	clock := newFakeClock()
	var (
		mu      sync.Mutex
		active  int
		overlap bool
		order   []string
	)
	release := make(chan struct{})
	done := make(chan struct{}, 8)
	handler := func(_ context.Context, m Merged) {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		order = append(order, m.Text)
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		done <- struct{}{}
	}
	a := New(Config{Window: time.Second}, handler, WithAfterFunc(clock.AfterFunc), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Ingest(text("a", fmt.Sprint(i), fmt.Sprint("msg", i))))
		clock.Advance(time.Second)
	}
	close(release)
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("flush handler did not finish")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, overlap)
	assert.Equal(t, []string{"msg0", "msg1", "msg2"}, order)
}

func TestAggregator_DrainFlushesOpenBuffers(t *testing.T) {
	clock, s := newFakeClock(), newSink()
	a := newTestAggregator(clock, s)

	require.NoError(t, a.Ingest(text("a", "1", "one")))
	require.NoError(t, a.Ingest(text("b", "2", "two")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Drain(ctx))

	texts := []string{s.next(t).Text, s.next(t).Text}
	assert.ElementsMatch(t, []string{"one", "two"}, texts)
	assert.Zero(t, a.Pending())
	assert.ErrorIs(t, a.Ingest(text("a", "3", "late")), ErrClosed)

	clock.Advance(5 * time.Second)
	s.none(t)
}

func TestAggregator_CloseDiscards(t *testing.T) {
	clock, s := newFakeClock(), newSink()
	a := newTestAggregator(clock, s)

	require.NoError(t, a.Ingest(text("a", "1", "one")))
	a.Close()
	clock.Advance(5 * time.Second)
	s.none(t)
	assert.Zero(t, a.Pending())
	assert.ErrorIs(t, a.Ingest(text("a", "2", "two")), ErrClosed)
}

func TestAggregator_RealTimer(t *testing.T) {
	s := newSink()
	a := New(Config{Window: 20 * time.Millisecond}, s.handle)
	defer a.Close()

	require.NoError(t, a.Ingest(text("a", "1", "hello")))
	require.NoError(t, a.Ingest(text("a", "2", "world")))
	assert.Equal(t, "hello\nworld", s.next(t).Text)
}
