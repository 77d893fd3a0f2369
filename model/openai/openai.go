// Package openai implements model.Executor using the OpenAI Chat
// Completions API, including streaming, function/tool calling, structured
// output and moderation. It adapts agentgraph's normalized Request/Response
// structures into the SDK's message format and back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
)

// aggCall aggregates partial tool call streaming deltas (id, name,
// arguments) so complete calls can be reconstructed when the finish reason
// arrives. Internal helper (unexported).
type aggCall struct{ id, name, args string }

// Options configure the OpenAI executor. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal; extend via functional
// options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Executor wraps the OpenAI Chat Completions API behind the generic
// model.Executor interface.
type Executor struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI executor using the official client with
// environment-based configuration.
func New(optFns ...func(o *Options)) *Executor {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI executor from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{client: client, opts: opts}
}

// Execute implements model.Executor.
func (e *Executor) Execute(ctx context.Context, req model.Request) (model.Response, error) {
	resp, err := e.client.Chat.Completions.New(ctx, e.buildParams(req))
	if err != nil {
		return model.Response{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, fmt.Errorf("openai: no choices returned")
	}
	out := choiceToResponse(resp.Choices[0])
	out.Usage = usage(resp)
	return out, nil
}

// ExecuteMultiple implements model.Executor using the API's n parameter.
func (e *Executor) ExecuteMultiple(ctx context.Context, req model.Request, n int) ([]model.Response, error) {
	params := e.buildParams(req)
	params.N = openai.Int(int64(n))
	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}
	out := make([]model.Response, 0, len(resp.Choices))
	for _, ch := range resp.Choices {
		r := choiceToResponse(ch)
		r.Usage = usage(resp)
		out = append(out, r)
	}
	return out, nil
}

// ExecuteStreaming implements model.Executor. Text deltas and tool-call
// deltas are forwarded as partial responses; the final response carries the
// aggregated message.
func (e *Executor) ExecuteStreaming(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		stream := e.client.Chat.Completions.NewStreaming(ctx, e.buildParams(req))
		var text string
		toolAgg := map[int64]*aggCall{}
		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					text += ch.Delta.Content
					out <- model.Response{
						Partial: true,
						Message: core.AssistantMessage(ch.Delta.Content),
					}
				}
				for _, tc := range ch.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args += tc.Function.Arguments
				}
				if ch.FinishReason != "" {
					msg := core.AssistantMessage(text)
					for _, ac := range toolAgg {
						msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
							ID:        ac.id,
							Name:      ac.name,
							Arguments: json.RawMessage(ac.args),
						})
					}
					out <- model.Response{
						Partial:      false,
						Message:      msg,
						FinishReason: ch.FinishReason,
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
		}
	}()
	return out, errCh
}

// ExecuteStructured implements model.Executor via the JSON-schema response
// format.
func (e *Executor) ExecuteStructured(ctx context.Context, req model.Request, schema map[string]any) (model.Response, error) {
	params := e.buildParams(req)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   "structured_response",
				Schema: schema,
				Strict: openai.Bool(true),
			},
		},
	}
	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, fmt.Errorf("openai: no choices returned")
	}
	out := choiceToResponse(resp.Choices[0])
	out.Usage = usage(resp)
	return out, nil
}

// Moderate implements model.Executor using the moderations endpoint. All
// message contents are concatenated into one input.
func (e *Executor) Moderate(ctx context.Context, messages []core.Message) (model.Moderation, error) {
	var input string
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		if input != "" {
			input += "\n"
		}
		input += m.Content
	}
	resp, err := e.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(input)},
	})
	if err != nil {
		return model.Moderation{}, fmt.Errorf("openai moderation error: %w", err)
	}
	if len(resp.Results) == 0 {
		return model.Moderation{}, fmt.Errorf("openai: no moderation results returned")
	}
	res := resp.Results[0]
	mod := model.Moderation{Flagged: res.Flagged}
	// The SDK exposes categories as a struct; flatten it into the generic
	// map through its JSON form.
	raw, err := json.Marshal(res.Categories)
	if err == nil {
		var cats map[string]bool
		if json.Unmarshal(raw, &cats) == nil {
			mod.Categories = cats
		}
	}
	return mod, nil
}

// Info implements model.Executor.
func (e *Executor) Info() model.Info {
	return model.Info{
		Provider:           "openai",
		SupportsTools:      true,
		SupportsModeration: true,
	}
}

// buildParams assembles the request parameters including tool definitions
// and tool-choice mode.
func (e *Executor) buildParams(req model.Request) openai.ChatCompletionNewParams {
	modelName := e.opts.Model
	if req.Model.Name != "" {
		modelName = req.Model.Name
	}
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req.Messages),
		Model:               modelName,
		Temperature:         openai.Float(e.opts.Temperature),
		MaxCompletionTokens: openai.Int(e.opts.MaxCompletionTokens),
	}
	p := req.Model.Params
	if p.Temperature != nil {
		params.Temperature = openai.Float(*p.Temperature)
	}
	if p.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(*p.MaxTokens)
	}
	if p.TopP != nil {
		params.TopP = openai.Float(*p.TopP)
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	switch {
	case req.ForcedTool != "":
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: req.ForcedTool},
			},
		}
	case req.ToolChoice != "" && req.ToolChoice != model.ToolChoiceAuto:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(string(req.ToolChoice)),
		}
	}
	return params
}

// buildMessages converts normalized messages into OpenAI chat messages.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case core.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case core.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					ToolCalls: toolCalls,
				},
			})
		case core.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			if m.Content != "" {
				out = append(out, openai.UserMessage(m.Content))
			}
		}
	}
	return out
}

func choiceToResponse(ch openai.ChatCompletionChoice) model.Response {
	msg := core.AssistantMessage(ch.Message.Content)
	for _, tc := range ch.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return model.Response{
		Message:      msg,
		FinishReason: ch.FinishReason,
	}
}

func usage(resp *openai.ChatCompletion) *model.TokenUsage {
	if resp == nil {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
}
