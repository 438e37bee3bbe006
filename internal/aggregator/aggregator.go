// Package aggregator merges bursts of message fragments from one sender into
// a single logical message using a sliding debounce window.
package aggregator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"biz-agent/internal/obs"
)

const (
	DefaultWindow       = 2 * time.Second
	DefaultSeenCapacity = 4096
)

var (
	ErrClosed            = errors.New("aggregator closed")
	ErrEmptyFragment     = errors.New("fragment has no sender or content")
	ErrDuplicateFragment = errors.New("fragment already received")
)

type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

// Fragment is one inbound transport message.
type Fragment struct {
	SenderID  string    `json:"sender_id"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text,omitempty"`
	MediaRef  string    `json:"media_ref,omitempty"`
}

// Merged is the flushed content of one sender's buffer.
type Merged struct {
	FlushID  string
	SenderID string
	// MessageID is the first fragment's id and keys idempotency downstream.
	MessageID  string
	MessageIDs []string
	Text       string
	MediaRefs  []string
	Fragments  int
	FirstAt    time.Time
	LastAt     time.Time
}

// Handler receives merged messages. Calls for one sender never overlap and
// arrive in flush order.
type Handler func(ctx context.Context, m Merged)

// Timer is the part of *time.Timer the aggregator uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

type Config struct {
	Window time.Duration
	// SeenCapacity bounds how many fragment ids are remembered for dedupe.
	SeenCapacity int
}

type Option func(*Aggregator)

func WithAfterFunc(fn AfterFunc) Option {
	return func(a *Aggregator) { a.afterFunc = fn }
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

type buffer struct {
	texts     []string
	media     string
	ids       []string
	fragments int
	firstAt   time.Time
	lastAt    time.Time
}

// senderState is one row of the per-sender state table. It exists only while
// the sender has an open buffer.
type senderState struct {
	epoch uint64
	token uint64
	buf   *buffer
	timer Timer
}

type Aggregator struct {
	window    time.Duration
	handler   Handler
	afterFunc AfterFunc
	now       func() time.Time
	log       zerolog.Logger

	mu      sync.Mutex
	seq     uint64
	senders map[string]*senderState
	// inflight holds the completion channel of each sender's latest flush.
	inflight map[string]chan struct{}
	seen     *seenSet
	closed   bool
	wg       sync.WaitGroup
}

func New(cfg Config, handler Handler, opts ...Option) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = DefaultSeenCapacity
	}
	a := &Aggregator{
		window:  cfg.Window,
		handler: handler,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		now:      time.Now,
		log:      zerolog.Nop(),
		senders:  make(map[string]*senderState),
		inflight: make(map[string]chan struct{}),
		seen:     newSeenSet(cfg.SeenCapacity),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ingest appends f to its sender's open buffer, creating it if needed, and
// restarts the sender's debounce timer.
func (a *Aggregator) Ingest(f Fragment) error {
	f.Text = strings.TrimSpace(f.Text)
	if f.SenderID == "" || (f.Text == "" && f.MediaRef == "") {
		obs.FragmentsTotal.WithLabelValues("rejected").Inc()
		return ErrEmptyFragment
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		obs.FragmentsTotal.WithLabelValues("rejected").Inc()
		return ErrClosed
	}
	if f.MessageID != "" && !a.seen.add(f.SenderID+"\x00"+f.MessageID) {
		obs.FragmentsTotal.WithLabelValues("duplicate").Inc()
		return ErrDuplicateFragment
	}

	at := f.Timestamp
	if at.IsZero() {
		at = a.now()
	}
	st, ok := a.senders[f.SenderID]
	if !ok {
		a.seq++
		st = &senderState{epoch: a.seq, buf: &buffer{firstAt: at}}
		a.senders[f.SenderID] = st
	}
	b := st.buf
	if f.Text != "" {
		b.texts = append(b.texts, f.Text)
	}
	if f.MediaRef != "" {
		b.media = f.MediaRef
	}
	if f.MessageID != "" {
		b.ids = append(b.ids, f.MessageID)
	}
	b.fragments++
	b.lastAt = at

	if st.timer != nil {
		st.timer.Stop()
	}
	a.seq++
	st.token = a.seq
	sender, epoch, token := f.SenderID, st.epoch, st.token
	st.timer = a.afterFunc(a.window, func() { a.expire(sender, epoch, token) })

	obs.FragmentsTotal.WithLabelValues("buffered").Inc()
	return nil
}

// expire flushes the sender's buffer if the timer that fired is still the
// current one for the current epoch.
func (a *Aggregator) expire(sender string, epoch, token uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.senders[sender]
	if !ok || st.epoch != epoch || st.token != token || a.closed {
		return
	}
	a.flushLocked(sender, st)
}

// flushLocked swaps out the buffer, removes the state entry and starts the
// handler behind any earlier flush of the same sender. Callers hold a.mu.
func (a *Aggregator) flushLocked(sender string, st *senderState) {
	delete(a.senders, sender)
	if st.timer != nil {
		st.timer.Stop()
	}
	m := st.buf.merge(sender)

	prev := a.inflight[sender]
	done := make(chan struct{})
	a.inflight[sender] = done
	a.wg.Add(1)

	go func() {
		defer a.wg.Done()
		defer func() {
			close(done)
			a.mu.Lock()
			if a.inflight[sender] == done {
				delete(a.inflight, sender)
			}
			a.mu.Unlock()
		}()
		if prev != nil {
			<-prev
		}
		obs.FlushesTotal.Inc()
		obs.FragmentsPerFlush.Observe(float64(m.Fragments))
		a.log.Debug().Str("sender", sender).Str("flush_id", m.FlushID).Int("fragments", m.Fragments).Msg("flushing merged message")
		a.handler(context.Background(), m)
	}()
}

func (b *buffer) merge(sender string) Merged {
	m := Merged{
		FlushID:    ulid.Make().String(),
		SenderID:   sender,
		MessageIDs: b.ids,
		Text:       strings.Join(b.texts, "\n"),
		Fragments:  b.fragments,
		FirstAt:    b.firstAt,
		LastAt:     b.lastAt,
	}
	if len(b.ids) > 0 {
		m.MessageID = b.ids[0]
	} else {
		m.MessageID = m.FlushID
	}
	if b.media != "" {
		m.MediaRefs = []string{b.media}
	}
	return m
}

// Pending returns the number of senders with an open buffer.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.senders)
}

// Drain stops accepting fragments, flushes every open buffer immediately and
// waits for all handlers to return or ctx to end.
func (a *Aggregator) Drain(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	for sender, st := range a.senders {
		a.flushLocked(sender, st)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops all timers and discards open buffers without flushing.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for sender, st := range a.senders {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(a.senders, sender)
	}
}

// seenSet remembers the most recent ids up to a fixed capacity.
type seenSet struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}, capacity), ring: make([]string, capacity)}
}

// add records id and reports whether it was new.
func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}
