package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"biz-agent/internal/dispatch"
)

const DefaultModel = shared.ChatModelGPT4o

const instructions = `You are the bookkeeping assistant of a small Indian retail shop.
The shop owner sends short WhatsApp messages, often in Hinglish, about sales,
payments received, stock and expenses. Turn each message into exactly one
function call.
Rules:
1. Call ask_clarification when a required detail is missing or the message is ambiguous.
2. Amounts are rupees; "udhaar" or "baaki" means a credit sale with no payment_mode.
3. Rates are per unit before GST.
4. Never invent customers, products or amounts that the message does not mention.
5. Dates use YYYY-MM-DD.`

// Agent is the OpenAI-backed Resolver. Each registered action is offered as
// a function tool; the model's first function call is the resolution.
type Agent struct {
	client *openai.Client
	model  shared.ResponsesModel
	tools  *ToolRegistry
	now    func() time.Time
	log    zerolog.Logger
}

func NewAgent(apiKey, model string, catalog []dispatch.CatalogEntry, log zerolog.Logger, opts ...option.RequestOption) (*Agent, error) {
	tools, err := ToolsFromCatalog(catalog)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = string(DefaultModel)
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Agent{client: &client, model: shared.ResponsesModel(model), tools: tools, now: time.Now, log: log}, nil
}

// WithClock sets the clock used for the date line of the prompt.
func (a *Agent) WithClock(now func() time.Time) *Agent {
	a.now = now
	return a
}

func (a *Agent) Resolve(ctx context.Context, req Request) (Resolution, error) {
	params := responses.ResponseNewParams{
		Model:        a.model,
		Instructions: openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(buildPrompt(req, a.now())),
		},
		Tools: a.tools.ToOpenAITools(),
		ToolChoice: responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptionsRequired),
		},
		ParallelToolCalls: param.NewOpt(false),
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}
	return a.decode(resp)
}

func (a *Agent) decode(resp *responses.Response) (Resolution, error) {
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		call := item.AsFunctionCall()
		if call.Name == ClarifyTool {
			var args clarificationArgs
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return nil, fmt.Errorf("%w: clarification arguments: %v", ErrMalformedReply, err)
			}
			return Clarification{Text: strings.TrimSpace(args.Question)}, nil
		}
		args, err := decodeArgs(call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("%w: %s arguments: %v", ErrMalformedReply, call.Name, err)
		}
		a.log.Debug().Str("action", call.Name).Str("args", call.Arguments).Msg("resolver chose action")
		return ActionCall{Name: call.Name, Args: args}, nil
	}

	if text := strings.TrimSpace(resp.OutputText()); text != "" {
		return Clarification{Text: text}, nil
	}
	return nil, fmt.Errorf("%w: no function call or text", ErrMalformedReply)
}

// decodeArgs keeps numbers as json.Number so amounts are not rounded through float64.
func decodeArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

func buildPrompt(req Request, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s.\n", now.Format(time.DateOnly))
	if len(req.Recent) > 0 {
		b.WriteString("\nRecent conversation (oldest first):\n")
		for _, ex := range req.Recent {
			fmt.Fprintf(&b, "Owner: %s\nAssistant: %s\n", ex.User, ex.Reply)
		}
	}
	if len(req.MediaRefs) > 0 {
		fmt.Fprintf(&b, "\nAttached media: %s\n", strings.Join(req.MediaRefs, ", "))
	}
	fmt.Fprintf(&b, "\nMessage:\n%s", req.Text)
	return b.String()
}
