package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"biz-agent/internal/core"
	"biz-agent/internal/obs"
)

const DefaultTimeout = 8 * time.Second

// Catalog reports whether an action name is registered.
type Catalog interface {
	Has(name string) bool
}

// Adapter bounds each resolver call, retries a timeout once and checks that
// a returned action exists. It never returns an error: every problem becomes
// a Failure.
type Adapter struct {
	resolver Resolver
	catalog  Catalog
	timeout  time.Duration
	log      zerolog.Logger
}

func NewAdapter(resolver Resolver, catalog Catalog, timeout time.Duration, log zerolog.Logger) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{resolver: resolver, catalog: catalog, timeout: timeout, log: log}
}

type attemptResult struct {
	res Resolution
	err error
}

var errAttemptTimeout = errors.New("resolver attempt timed out")

func (a *Adapter) Resolve(ctx context.Context, req Request) Resolution {
	start := time.Now()
	res := a.resolve(ctx, req)
	obs.ResolverLatency.Observe(time.Since(start).Seconds())
	obs.ResolverOutcomes.WithLabelValues(outcomeLabel(res)).Inc()
	return res
}

func (a *Adapter) resolve(ctx context.Context, req Request) Resolution {
	var (
		res Resolution
		err error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		res, err = a.attempt(ctx, req)
		if !errors.Is(err, errAttemptTimeout) {
			break
		}
		a.log.Warn().Str("sender", req.SenderID).Int("attempt", attempt).Dur("timeout", a.timeout).Msg("resolver timed out")
	}

	switch {
	case errors.Is(err, errAttemptTimeout):
		return Failure{Err: &core.ActionError{Op: "resolve", Err: core.ErrResolverTimeout, Detail: "I could not process that in time, please try again"}}
	case err != nil:
		a.log.Error().Err(err).Str("sender", req.SenderID).Msg("resolver failed")
		return Failure{Err: fmt.Errorf("resolve: %w", err)}
	}

	switch r := res.(type) {
	case ActionCall:
		if !a.catalog.Has(r.Name) {
			a.log.Warn().Str("action", r.Name).Msg("resolver returned unknown action")
			return Failure{Err: &core.ActionError{Op: "resolve", Err: core.ErrUnknownAction, Detail: fmt.Sprintf("unknown action %q", r.Name)}}
		}
		if r.Args == nil {
			r.Args = map[string]any{}
		}
		return r
	case Clarification:
		if r.Text == "" {
			r.Text = "Could you say that again with a little more detail?"
		}
		return r
	case Failure:
		return r
	default:
		return Failure{Err: fmt.Errorf("resolve: %w", ErrMalformedReply)}
	}
}

// attempt runs one bounded call. The wait ends at the deadline even if the
// resolver ignores its context.
func (a *Adapter) attempt(ctx context.Context, req Request) (Resolution, error) {
	actx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		res, err := a.resolver.Resolve(actx, req)
		done <- attemptResult{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, errAttemptTimeout
		}
		return out.res, out.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errAttemptTimeout
	}
}

func outcomeLabel(r Resolution) string {
	switch f := r.(type) {
	case ActionCall:
		return "action"
	case Clarification:
		return "clarification"
	case Failure:
		switch f.Kind() {
		case core.KindResolverTimeout:
			return "timeout"
		case core.KindUnknownAction:
			return "unknown_action"
		}
	}
	return "failure"
}
