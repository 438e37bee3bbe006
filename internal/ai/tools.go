package ai

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"

	"biz-agent/internal/dispatch"
)

// ClarifyTool is the function the model calls when it needs more information.
const ClarifyTool = "ask_clarification"

type clarificationArgs struct {
	Question string `json:"question" jsonschema:"description=Short question to send back to the shop owner"`
}

// ToolDefinition describes a single function offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON Schema for the tool's input parameters
}

// ToolRegistry holds the tools offered on every resolver call: one per
// registered action plus ClarifyTool.
type ToolRegistry struct {
	tools []ToolDefinition
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{}
}

// ToolsFromCatalog builds the registry from the dispatcher's action catalog.
func ToolsFromCatalog(catalog []dispatch.CatalogEntry) (*ToolRegistry, error) {
	r := NewToolRegistry()
	for _, entry := range catalog {
		params, err := schemaMap(entry.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", entry.Name, err)
		}
		r.Register(ToolDefinition{Name: entry.Name, Description: entry.Description, InputSchema: params})
	}

	params, err := schemaMap(generateSchema(clarificationArgs{}))
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", ClarifyTool, err)
	}
	r.Register(ToolDefinition{
		Name:        ClarifyTool,
		Description: "Ask the shop owner a question when the message is ambiguous or a required detail is missing.",
		InputSchema: params,
	})
	return r, nil
}

func (r *ToolRegistry) Register(t ToolDefinition) {
	r.tools = append(r.tools, t)
}

// Get returns the ToolDefinition for a given tool name, and whether it was found.
func (r *ToolRegistry) Get(name string) (ToolDefinition, bool) {
	for _, t := range r.tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDefinition{}, false
}

func (r *ToolRegistry) All() []ToolDefinition {
	return r.tools
}

// ToOpenAITools converts the registry to the OpenAI Responses API tool format.
// Optional arguments rule out strict mode; the dispatcher validates instead.
func (r *ToolRegistry) ToOpenAITools() []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.InputSchema,
				Strict:      param.NewOpt(false),
			},
		})
	}
	return out
}

func generateSchema(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}
