package ai

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biz-agent/internal/core"
)

type catalog map[string]bool

func (c catalog) Has(name string) bool { return c[name] }

var known = catalog{"create_invoice": true, "record_payment": true}

func TestAdapter_PassesThroughAction(t *testing.T) {
	a := NewAdapter(ResolverFunc(func(ctx context.Context, req Request) (Resolution, error) {
		return ActionCall{Name: "record_payment", Args: map[string]any{"amount": 5000}}, nil
	}), known, time.Second, zerolog.Nop())

	res := a.Resolve(context.Background(), Request{Text: "suresh ne 5000 diye upi"})
	call, ok := res.(ActionCall)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, "record_payment", call.Name)
	assert.Equal(t, 5000, call.Args["amount"])
}

func TestAdapter_UnknownAction(t *testing.T) {
	a := NewAdapter(ResolverFunc(func(ctx context.Context, req Request) (Resolution, error) {
		return ActionCall{Name: "refund_everyone"}, nil
	}), known, time.Second, zerolog.Nop())

	res := a.Resolve(context.Background(), Request{Text: "x"})
	f, ok := res.(Failure)
	require.True(t, ok)
	assert.Equal(t, core.KindUnknownAction, f.Kind())
}

func TestAdapter_ClarificationDefaultsText(t *testing.T) {
	a := NewAdapter(ResolverFunc(func(ctx context.Context, req Request) (Resolution, error) {
		return Clarification{}, nil
	}), known, time.Second, zerolog.Nop())

	res := a.Resolve(context.Background(), Request{Text: "hmm"})
	c, ok := res.(Clarification)
	require.True(t, ok)
	assert.NotEmpty(t, c.Text)
}

func TestAdapter_TimeoutRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	slow := ResolverFunc(func(ctx context.Context, req Request) (Resolution, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	a := NewAdapter(slow, known, 20*time.Millisecond, zerolog.Nop())

	res := a.Resolve(context.Background(), Request{Text: "x"})
	f, ok := res.(Failure)
	require.True(t, ok)
	assert.Equal(t, core.KindResolverTimeout, f.Kind())
	assert.ErrorIs(t, f.Err, core.ErrResolverTimeout)
	assert.EqualValues(t, 2, calls.Load())
}

func TestAdapter_RetrySucceeds(t *testing.T) {
	var calls atomic.Int32
	r := ResolverFunc(func(ctx context.Context, req Request) (Resolution, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return Clarification{Text: "Which customer?"}, nil
	})
	a := NewAdapter(r, known, 20*time.Millisecond, zerolog.Nop())

	res := a.Resolve(context.Background(), Request{Text: "x"})
	assert.Equal(t, Clarification{Text: "Which customer?"}, res)
}

func TestAdapter_BoundsResolverThatIgnoresContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	a := NewAdapter(ResolverFunc(func(ctx context.Context, req Request) (Resolution, error) {
		<-block
		return Clarification{Text: "late"}, nil
	}), known, 10*time.Millisecond, zerolog.Nop())

	start := time.Now()
	res := a.Resolve(context.Background(), Request{Text: "x"})
	assert.Less(t, time.Since(start), time.Second)
	f, ok := res.(Failure)
	require.True(t, ok)
	assert.Equal(t, core.KindResolverTimeout, f.Kind())
}

func TestAdapter_ErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	a := NewAdapter(ResolverFunc(func(ctx context.Context, req Request) (Resolution, error) {
		calls.Add(1)
		return nil, errors.New("401 unauthorized")
	}), known, time.Second, zerolog.Nop())

	res := a.Resolve(context.Background(), Request{Text: "x"})
	f, ok := res.(Failure)
	require.True(t, ok)
	assert.Equal(t, core.KindInternal, f.Kind())
	assert.EqualValues(t, 1, calls.Load())
}

func TestAdapter_NilResolutionIsMalformed(t *testing.T) {
	a := NewAdapter(ResolverFunc(func(ctx context.Context, req Request) (Resolution, error) {
		return nil, nil
	}), known, time.Second, zerolog.Nop())

	f, ok := a.Resolve(context.Background(), Request{Text: "x"}).(Failure)
	require.True(t, ok)
	assert.ErrorIs(t, f.Err, ErrMalformedReply)
}
