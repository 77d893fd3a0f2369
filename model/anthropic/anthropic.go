// Package anthropic implements model.Executor for the Anthropic Claude
// Messages API, including streaming, tool calling and tool-based structured
// output. Claude has no moderation endpoint, so Moderate reports
// model.ErrModerationUnsupported.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
)

// structuredToolName is the synthetic tool used to coerce schema-constrained
// output out of the Messages API.
const structuredToolName = "structured_response"

// Options configures the Anthropic executor (model id, temperature, max
// tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Executor wraps the Anthropic Messages API behind the generic
// model.Executor interface.
type Executor struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// New creates a new Anthropic executor using the official client.
func New(optFns ...func(o *Options)) *Executor {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Executor{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic executor from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Executor {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{client: client, opts: opts}
}

// Execute implements model.Executor.
func (e *Executor) Execute(ctx context.Context, req model.Request) (model.Response, error) {
	resp, err := e.client.Messages.New(ctx, e.buildParams(req))
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic api error: %w", err)
	}
	return messageToResponse(resp), nil
}

// ExecuteMultiple implements model.Executor. The Messages API has no
// multi-candidate parameter, so candidates are sampled sequentially.
func (e *Executor) ExecuteMultiple(ctx context.Context, req model.Request, n int) ([]model.Response, error) {
	out := make([]model.Response, 0, n)
	for i := 0; i < n; i++ {
		resp, err := e.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// ExecuteStreaming implements model.Executor. Text deltas are forwarded as
// partial responses; the SDK accumulator assembles the final message.
func (e *Executor) ExecuteStreaming(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		stream := e.client.Messages.NewStreaming(ctx, e.buildParams(req))
		acc := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				errCh <- fmt.Errorf("anthropic stream accumulation error: %w", err)
				return
			}
			if deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta); ok && textDelta.Text != "" {
					out <- model.Response{
						Partial: true,
						Message: core.AssistantMessage(textDelta.Text),
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", err)
			return
		}
		out <- messageToResponse(&acc)
	}()
	return out, errCh
}

// ExecuteStructured implements model.Executor by forcing a synthetic tool
// whose input schema is the requested output schema; the tool input comes
// back as the response content.
func (e *Executor) ExecuteStructured(ctx context.Context, req model.Request, schema map[string]any) (model.Response, error) {
	params := e.buildParams(req)
	params.Tools = []anthropic.ToolUnionParam{
		anthropic.ToolUnionParamOfTool(inputSchema(schema), structuredToolName),
	}
	params.ToolChoice = anthropic.ToolChoiceUnionParam{
		OfTool: &anthropic.ToolChoiceToolParam{Name: structuredToolName},
	}
	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic api error: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		toolBlock := block.AsToolUse()
		if toolBlock.Name != structuredToolName {
			continue
		}
		raw, merr := json.Marshal(toolBlock.Input)
		if merr != nil {
			return model.Response{}, fmt.Errorf("anthropic: marshaling structured output: %w", merr)
		}
		out := model.Response{
			Message:      core.AssistantMessage(string(raw)),
			FinishReason: "stop",
			Usage:        usage(resp),
		}
		return out, nil
	}
	return model.Response{}, fmt.Errorf("anthropic: no structured output in response")
}

// Moderate implements model.Executor.
func (e *Executor) Moderate(context.Context, []core.Message) (model.Moderation, error) {
	return model.Moderation{}, model.ErrModerationUnsupported
}

// Info implements model.Executor.
func (e *Executor) Info() model.Info {
	return model.Info{
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

// buildParams assembles the message request: system blocks split out,
// conversation converted, tools and tool-choice mapped.
func (e *Executor) buildParams(req model.Request) anthropic.MessageNewParams {
	modelName := e.opts.Model
	if req.Model.Name != "" {
		modelName = anthropic.Model(req.Model.Name)
	}
	params := anthropic.MessageNewParams{
		Model:       modelName,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   e.opts.MaxTokens,
		Temperature: anthropic.Float(e.opts.Temperature),
	}
	p := req.Model.Params
	if p.Temperature != nil {
		params.Temperature = anthropic.Float(*p.Temperature)
	}
	if p.MaxTokens != nil {
		params.MaxTokens = *p.MaxTokens
	}
	if p.TopP != nil {
		params.TopP = anthropic.Float(*p.TopP)
	}

	if system := systemBlocks(req.Messages); len(system) > 0 {
		params.System = system
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, len(req.Tools))
		for i, tdef := range req.Tools {
			tools[i] = anthropic.ToolUnionParamOfTool(inputSchema(tdef.Function.Parameters), tdef.Function.Name)
		}
		params.Tools = tools

		switch {
		case req.ForcedTool != "":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfTool: &anthropic.ToolChoiceToolParam{Name: req.ForcedTool},
			}
		case req.ToolChoice == model.ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfAny: &anthropic.ToolChoiceAnyParam{},
			}
		case req.ToolChoice == model.ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfNone: &anthropic.ToolChoiceNoneParam{},
			}
		}
	}
	return params
}

// systemBlocks collects system message contents; the Messages API takes them
// outside the conversation.
func systemBlocks(msgs []core.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, m := range msgs {
		if m.Role == core.RoleSystem && m.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: m.Content})
		}
	}
	return blocks
}

// buildMessages converts normalized messages to the Anthropic format. Tool
// results become user-role tool_result blocks, per the API's conversation
// shape.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			// Handled by systemBlocks.
		case core.RoleUser:
			if m.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case core.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						input = string(tc.Arguments)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
		case core.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		default:
			if m.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	return out
}

// inputSchema maps a JSON Schema object into the tool input schema param.
func inputSchema(params map[string]any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{
		Type: constant.Object("object"),
	}
	if params == nil {
		return schema
	}
	if properties, ok := params["properties"]; ok {
		schema.Properties = properties
	}
	if required, ok := params["required"]; ok {
		switch req := required.(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
	}
	return schema
}

func messageToResponse(resp *anthropic.Message) model.Response {
	var text string
	var toolCalls []core.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			var args json.RawMessage
			if raw, err := json.Marshal(toolBlock.Input); err == nil {
				args = raw
			}
			toolCalls = append(toolCalls, core.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}

	msg := core.AssistantMessage(text)
	msg.ToolCalls = toolCalls

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}
	return model.Response{
		Message:      msg,
		FinishReason: finishReason,
		Usage:        usage(resp),
	}
}

func usage(resp *anthropic.Message) *model.TokenUsage {
	if resp == nil {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
}
