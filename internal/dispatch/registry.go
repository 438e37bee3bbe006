package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
)

// Call is a resolved action invocation.
type Call struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
	// MessageID identifies the inbound message that caused this call.
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id,omitempty"`
}

// Handler runs a validated call. It is never invoked with arguments that
// failed the action's schema.
type Handler func(ctx context.Context, call Call, args Values) (any, error)

// KeyFunc derives the entity lock keys a call touches.
type KeyFunc func(args Values) []string

type Action struct {
	Name        string
	Description string
	Schema      Schema
	// Mutates marks actions whose message id is recorded for idempotency.
	Mutates bool
	Keys    KeyFunc
	Handle  Handler
	// Decode rebuilds a stored result from its receipt payload.
	Decode func(payload []byte) (any, error)
}

// Mutation builds a mutating action whose handler returns *T, so a receipt
// can be decoded back into the same type.
func Mutation[T any](name, description string, schema Schema, keys KeyFunc, fn func(ctx context.Context, call Call, args Values) (*T, error)) Action {
	return Action{
		Name:        name,
		Description: description,
		Schema:      schema,
		Mutates:     true,
		Keys:        keys,
		Handle: func(ctx context.Context, call Call, args Values) (any, error) {
			return fn(ctx, call, args)
		},
		Decode: func(payload []byte) (any, error) {
			v := new(T)
			if err := json.Unmarshal(payload, v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// Query builds a read-only action.
func Query[T any](name, description string, schema Schema, fn func(ctx context.Context, call Call, args Values) (*T, error)) Action {
	return Action{
		Name:        name,
		Description: description,
		Schema:      schema,
		Handle: func(ctx context.Context, call Call, args Values) (any, error) {
			return fn(ctx, call, args)
		},
	}
}

type Registry struct {
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

func (r *Registry) Register(a Action) error {
	if a.Name == "" || a.Handle == nil {
		return fmt.Errorf("action needs a name and a handler")
	}
	if _, dup := r.actions[a.Name]; dup {
		return fmt.Errorf("action %s already registered", a.Name)
	}
	r.actions[a.Name] = a
	return nil
}

func (r *Registry) MustRegister(actions ...Action) {
	for _, a := range actions {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Has reports whether name is a registered action.
func (r *Registry) Has(name string) bool {
	_, ok := r.actions[name]
	return ok
}

// CatalogEntry describes one action to the intent resolver.
type CatalogEntry struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// Catalog lists every action, sorted by name.
func (r *Registry) Catalog() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, CatalogEntry{Name: a.Name, Description: a.Description, Parameters: a.Schema.JSONSchema()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
