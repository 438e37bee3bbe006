package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"biz-agent/internal/core"
	"biz-agent/internal/obs"
)

// ReceiptReader looks up the stored outcome of an applied message id.
type ReceiptReader interface {
	Receipt(ctx context.Context, messageID string) (*core.Receipt, error)
}

// ResultError is the error half of a Result.
type ResultError struct {
	Kind    core.Kind `json:"kind"`
	Message string    `json:"message"`
}

// Result is the outcome of one dispatched call. Data is the handler's result
// value; on a duplicate it is rebuilt from the stored receipt.
type Result struct {
	Action    string       `json:"action"`
	Success   bool         `json:"success"`
	Data      any          `json:"data,omitempty"`
	Error     *ResultError `json:"error,omitempty"`
	Duplicate bool         `json:"duplicate"`
	// Err is the underlying error, kept for logging.
	Err error `json:"-"`
}

func failure(action string, err error) Result {
	return Result{
		Action: action,
		Error:  &ResultError{Kind: core.KindOf(err), Message: core.UserMessage(err)},
		Err:    err,
	}
}

type Config struct {
	// LockTimeout bounds one attempt to acquire entity locks.
	LockTimeout time.Duration
	// Attempts is how often lock conflicts and infrastructure errors are tried.
	Attempts int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

func DefaultConfig() Config {
	return Config{LockTimeout: 2 * time.Second, Attempts: 3, Backoff: 50 * time.Millisecond}
}

type Dispatcher struct {
	registry *Registry
	locks    *KeyedMutex
	receipts ReceiptReader
	cfg      Config
	log      zerolog.Logger
}

func NewDispatcher(registry *Registry, receipts ReceiptReader, cfg Config, log zerolog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	return &Dispatcher{registry: registry, locks: NewKeyedMutex(), receipts: receipts, cfg: cfg, log: log}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Execute validates and runs one call. It never panics on bad input and
// always returns a Result; infrastructure failures are retried with backoff
// before they are reported.
func (d *Dispatcher) Execute(ctx context.Context, call Call) Result {
	res := d.execute(ctx, call)
	outcome := "ok"
	switch {
	case res.Duplicate:
		outcome = "duplicate"
	case !res.Success:
		outcome = string(res.Error.Kind)
	}
	obs.ActionsTotal.WithLabelValues(call.Action, outcome).Inc()

	level := zerolog.InfoLevel
	if !res.Success {
		level = zerolog.WarnLevel
	}
	d.log.WithLevel(level).Err(res.Err).Str("action", call.Action).Str("message_id", call.MessageID).Str("outcome", outcome).Msg("action dispatched")
	return res
}

func (d *Dispatcher) execute(ctx context.Context, call Call) Result {
	action, ok := d.registry.Lookup(call.Action)
	if !ok {
		return failure(call.Action, &core.ActionError{
			Op: "dispatch", Err: core.ErrUnknownAction, Detail: fmt.Sprintf("I don't know how to %q", call.Action),
		})
	}

	args, err := action.Schema.Coerce(call.Args)
	if err != nil {
		return failure(action.Name, &core.ActionError{Op: action.Name, Err: core.ErrValidation, Detail: err.Error()})
	}

	idempotent := action.Mutates && call.MessageID != ""
	if idempotent {
		if res, done := d.priorResult(ctx, call.MessageID); done {
			return res
		}
	}

	var keys []string
	if action.Keys != nil {
		keys = action.Keys(args)
	}
	if idempotent {
		keys = append(keys, "message:"+call.MessageID)
	}

	var lastErr error
	for attempt := 0; attempt < d.cfg.Attempts; attempt++ {
		if attempt > 0 {
			delay := d.cfg.Backoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return failure(action.Name, ctx.Err())
			}
		}

		data, err := d.runLocked(ctx, action, call, args, keys)
		if err == nil {
			return Result{Action: action.Name, Success: true, Data: data}
		}
		if errors.Is(err, core.ErrDuplicateMessage) {
			var dup *core.DuplicateError
			if errors.As(err, &dup) {
				return d.duplicate(dup.Receipt)
			}
			if res, done := d.priorResult(ctx, call.MessageID); done {
				return res
			}
		}
		if core.IsDomain(err) || ctx.Err() != nil {
			return failure(action.Name, err)
		}
		lastErr = err
		d.log.Warn().Err(err).Str("action", action.Name).Int("attempt", attempt+1).Msg("action attempt failed")
	}
	return failure(action.Name, lastErr)
}

func (d *Dispatcher) runLocked(ctx context.Context, action Action, call Call, args Values, keys []string) (any, error) {
	start := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, d.cfg.LockTimeout)
	release, err := d.locks.Acquire(lockCtx, keys...)
	cancel()
	obs.LockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &core.ActionError{Op: action.Name, Err: core.ErrConcurrencyConflict, Detail: "the records are busy, please try again"}
	}
	defer release()
	return action.Handle(ctx, call, args)
}

// priorResult returns the stored result when messageID was already applied.
func (d *Dispatcher) priorResult(ctx context.Context, messageID string) (Result, bool) {
	if d.receipts == nil || messageID == "" {
		return Result{}, false
	}
	r, err := d.receipts.Receipt(ctx, messageID)
	if err != nil {
		d.log.Warn().Err(err).Str("message_id", messageID).Msg("receipt lookup failed")
		return Result{}, false
	}
	if r == nil {
		return Result{}, false
	}
	return d.duplicate(*r), true
}

func (d *Dispatcher) duplicate(r core.Receipt) Result {
	res := Result{Action: r.Action, Success: true, Duplicate: true}
	if a, ok := d.registry.Lookup(r.Action); ok && a.Decode != nil {
		data, err := a.Decode(r.Payload)
		if err != nil {
			d.log.Warn().Err(err).Str("message_id", r.MessageID).Msg("failed to decode receipt payload")
			return res
		}
		res.Data = data
	}
	return res
}
