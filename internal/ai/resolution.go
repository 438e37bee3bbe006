package ai

import (
	"context"
	"errors"

	"biz-agent/internal/core"
)

// ErrMalformedReply means the resolver answered with nothing usable.
var ErrMalformedReply = errors.New("malformed resolver reply")

// Exchange is one earlier request/reply pair with the same sender.
type Exchange struct {
	User  string `json:"user"`
	Reply string `json:"reply"`
}

// Request is what the resolver sees for one merged message.
type Request struct {
	SenderID  string
	Text      string
	MediaRefs []string
	// Recent holds prior exchanges, oldest first.
	Recent []Exchange
}

// Resolution is one of ActionCall, Clarification or Failure.
type Resolution interface {
	resolution()
}

// ActionCall asks the dispatcher to run Name with raw Args.
type ActionCall struct {
	Name string
	Args map[string]any
}

// Clarification is a question to send back instead of acting.
type Clarification struct {
	Text string
}

// Failure means no usable resolution was produced.
type Failure struct {
	Err error
}

func (ActionCall) resolution()    {}
func (Clarification) resolution() {}
func (Failure) resolution()       {}

func (f Failure) Kind() core.Kind {
	return core.KindOf(f.Err)
}

// Resolver turns a merged message into an action call or a clarification.
// Implementations return an error for anything else.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (Resolution, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, req Request) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, req Request) (Resolution, error) {
	return f(ctx, req)
}
