package session

import (
	"context"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
)

// base carries the pieces both session kinds share: the executor, the state
// view and the active flag checked by every operation.
type base struct {
	executor model.Executor
	monitor  Monitor
	state    *State
	active   bool
}

func (b *base) checkActive() error {
	if !b.active {
		return ErrClosed
	}
	return nil
}

// Prompt returns a copy of the current conversation.
func (b *base) Prompt() []core.Message { return core.CloneMessages(b.state.Prompt) }

// Tools returns a copy of the tool definitions currently visible.
func (b *base) Tools() []model.ToolDefinition {
	if b.state.Tools == nil {
		return nil
	}
	out := make([]model.ToolDefinition, len(b.state.Tools))
	copy(out, b.state.Tools)
	return out
}

// Model returns the active model reference.
func (b *base) Model() core.ModelRef { return b.state.Model }

func (b *base) request() model.Request {
	return model.Request{
		Model:      b.state.Model,
		Messages:   core.CloneMessages(b.state.Prompt),
		Tools:      b.Tools(),
		ToolChoice: model.ToolChoiceAuto,
	}
}

func (b *base) postProcess(resp model.Response) model.Response {
	if b.state.PostProcess != nil {
		return b.state.PostProcess(resp)
	}
	return resp
}

func (b *base) execute(ctx context.Context, req model.Request) (model.Response, error) {
	if err := b.checkActive(); err != nil {
		return model.Response{}, err
	}
	if b.monitor != nil {
		if err := b.monitor.ModelCallStarting(ctx, req.Model.Name); err != nil {
			return model.Response{}, err
		}
	}
	resp, err := b.executor.Execute(ctx, req)
	if b.monitor != nil {
		if merr := b.monitor.ModelCallFinished(ctx, req.Model.Name, err); merr != nil && err == nil {
			return model.Response{}, merr
		}
	}
	if err != nil {
		return model.Response{}, err
	}
	return b.postProcess(resp), nil
}

// RequestResponse executes the current prompt and returns the single final
// response.
func (b *base) RequestResponse(ctx context.Context) (model.Response, error) {
	return b.execute(ctx, b.request())
}

// RequestResponseForcedTool executes the current prompt forcing the model to
// call the named tool.
func (b *base) RequestResponseForcedTool(ctx context.Context, toolName string) (model.Response, error) {
	req := b.request()
	req.ForcedTool = toolName
	req.ToolChoice = model.ToolChoiceRequired
	return b.execute(ctx, req)
}

// RequestResponseMultiple returns up to n candidate responses for the
// current prompt. Candidates are not appended to the conversation; the
// caller picks one and appends it explicitly inside a write session.
func (b *base) RequestResponseMultiple(ctx context.Context, n int) ([]model.Response, error) {
	if err := b.checkActive(); err != nil {
		return nil, err
	}
	req := b.request()
	if b.monitor != nil {
		if err := b.monitor.ModelCallStarting(ctx, req.Model.Name); err != nil {
			return nil, err
		}
	}
	resps, err := b.executor.ExecuteMultiple(ctx, req, n)
	if b.monitor != nil {
		if merr := b.monitor.ModelCallFinished(ctx, req.Model.Name, err); merr != nil && err == nil {
			return nil, merr
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]model.Response, len(resps))
	for i, r := range resps {
		out[i] = b.postProcess(r)
	}
	return out, nil
}

// RequestStreaming executes the current prompt in streaming mode. The
// returned channels follow the Executor contract; partial responses are not
// post-processed or appended to the conversation.
func (b *base) RequestStreaming(ctx context.Context) (<-chan model.Response, <-chan error) {
	if err := b.checkActive(); err != nil {
		respCh := make(chan model.Response)
		errCh := make(chan error, 1)
		errCh <- err
		close(respCh)
		close(errCh)
		return respCh, errCh
	}
	return b.executor.ExecuteStreaming(ctx, b.request())
}

// RequestStructured executes the current prompt constrained to the given
// JSON schema.
func (b *base) RequestStructured(ctx context.Context, schema map[string]any) (model.Response, error) {
	if err := b.checkActive(); err != nil {
		return model.Response{}, err
	}
	req := b.request()
	if b.monitor != nil {
		if err := b.monitor.ModelCallStarting(ctx, req.Model.Name); err != nil {
			return model.Response{}, err
		}
	}
	resp, err := b.executor.ExecuteStructured(ctx, req, schema)
	if b.monitor != nil {
		if merr := b.monitor.ModelCallFinished(ctx, req.Model.Name, err); merr != nil && err == nil {
			return model.Response{}, merr
		}
	}
	if err != nil {
		return model.Response{}, err
	}
	return b.postProcess(resp), nil
}

// Moderate checks the current conversation against the provider's content
// policy.
func (b *base) Moderate(ctx context.Context) (model.Moderation, error) {
	if err := b.checkActive(); err != nil {
		return model.Moderation{}, err
	}
	return b.executor.Moderate(ctx, core.CloneMessages(b.state.Prompt))
}

// ReadSession is the shared-lock view over the session state. It exposes the
// same prompt-execution operations as Session but no mutators; changes to
// the conversation made elsewhere are not visible until the read lock is
// reacquired.
type ReadSession struct {
	base
}

// Session is the exclusive, mutable session handed to WriteSession blocks.
// Mutations act on a private snapshot that is republished into the shared
// state when the block exits.
type Session struct {
	base
	state State
}

// SetPrompt replaces the whole conversation.
func (s *Session) SetPrompt(msgs []core.Message) {
	s.state.Prompt = core.CloneMessages(msgs)
}

// AppendMessage appends one message to the conversation.
func (s *Session) AppendMessage(m core.Message) {
	s.state.Prompt = append(s.state.Prompt, m)
}

// SetTools replaces the tool definitions visible to the model.
func (s *Session) SetTools(tools []model.ToolDefinition) {
	if tools == nil {
		s.state.Tools = nil
		return
	}
	s.state.Tools = make([]model.ToolDefinition, len(tools))
	copy(s.state.Tools, tools)
}

// SetModel swaps the active model reference.
func (s *Session) SetModel(ref core.ModelRef) { s.state.Model = ref }

// SetPostProcess installs a response post-processor applied to every
// subsequent executor response.
func (s *Session) SetPostProcess(fn func(model.Response) model.Response) {
	s.state.PostProcess = fn
}

// RequestResponse executes the current prompt and appends the assistant
// response to the conversation.
func (s *Session) RequestResponse(ctx context.Context) (model.Response, error) {
	resp, err := s.base.RequestResponse(ctx)
	if err != nil {
		return model.Response{}, err
	}
	s.state.Prompt = append(s.state.Prompt, resp.Message)
	return resp, nil
}

// RequestResponseForcedTool executes the current prompt forcing the named
// tool and appends the assistant response to the conversation.
func (s *Session) RequestResponseForcedTool(ctx context.Context, toolName string) (model.Response, error) {
	resp, err := s.base.RequestResponseForcedTool(ctx, toolName)
	if err != nil {
		return model.Response{}, err
	}
	s.state.Prompt = append(s.state.Prompt, resp.Message)
	return resp, nil
}
