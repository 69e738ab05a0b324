package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/switchyard-ai/switchyard/internal/providers"
	"github.com/switchyard-ai/switchyard/internal/security"
	"github.com/switchyard-ai/switchyard/internal/sessions"
	"github.com/switchyard-ai/switchyard/internal/tools"
	"github.com/switchyard-ai/switchyard/internal/workerpool"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

// maxToolResultBytes caps tool output appended to the conversation, so a
// single grep over a large tree cannot blow the context window.
const maxToolResultBytes = 48 * 1024

// run is the turn loop. It always emits exactly one terminal event
// (completed or error) and then closes the stream.
func (e *Engine) run(ctx context.Context, cancel context.CancelFunc, job *Job, opts *RunOpts, em *emitter, token string, drain func() []sessions.SteeringMessage) {
	defer em.close()
	defer cancel()

	em.emit(models.RunEvent{
		Type:    models.RunEventStarted,
		Started: &models.StartedPayload{ResumeToken: token},
	})

	messages := append([]models.Message{}, job.Messages...)
	usage := &models.Usage{}

	for iteration := 0; iteration < e.maxIterations; iteration++ {
		if aborted := e.applySteering(drain(), &messages); aborted {
			em.fail(context.Canceled, "steering_abort", true)
			return
		}
		if ctx.Err() != nil {
			em.fail(ctx.Err(), "cancelled", true)
			return
		}
		if opts.Session != nil {
			opts.Session.RecordIteration()
		}

		answer, calls, err := e.streamTurn(ctx, job, messages, em, usage, opts)
		if err != nil {
			cancelled := ctx.Err() != nil
			if opts.Session != nil {
				opts.Session.RecordError(err)
			}
			em.fail(err, errorCode(cancelled), cancelled)
			return
		}

		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   answer,
			ToolCalls: calls,
		})

		if len(calls) == 0 {
			em.completed(answer, usage)
			return
		}

		for _, call := range calls {
			if ctx.Err() != nil {
				em.fail(ctx.Err(), "cancelled", true)
				return
			}
			result := e.invokeTool(ctx, job, &call, opts, em)
			if opts.Session != nil {
				opts.Session.RecordToolInvocation()
			}
			em.toolEnd(call.ID, call.Name, result)
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				ToolCallID: call.ID,
				Content:    truncateResult(result.Content),
			})
		}
	}

	if opts.Session != nil {
		opts.Session.RecordError(ErrMaxIterations)
	}
	em.fail(fmt.Errorf("%w (%d)", ErrMaxIterations, e.maxIterations), "max_iterations", false)
}

func errorCode(cancelled bool) string {
	if cancelled {
		return "cancelled"
	}
	return "provider_error"
}

// applySteering folds queued steering into the conversation. Inject and
// reminder messages become user messages in FIFO order; abort wins over
// everything else in the batch.
func (e *Engine) applySteering(msgs []sessions.SteeringMessage, messages *[]models.Message) bool {
	for _, msg := range msgs {
		if msg.Kind == sessions.SteerAbort {
			return true
		}
	}
	for _, msg := range msgs {
		content := msg.Content
		if msg.Kind == sessions.SteerReminder {
			content = "Reminder: " + content
		}
		*messages = append(*messages, models.Message{Role: models.RoleUser, Content: content})
	}
	return false
}

// streamTurn drives one provider call, forwarding text and tool-start
// events as they arrive, and returns the turn's text plus pending calls.
func (e *Engine) streamTurn(ctx context.Context, job *Job, messages []models.Message, em *emitter, usage *models.Usage, opts *RunOpts) (string, []models.ToolCall, error) {
	maxTokens := job.MaxTokens
	if maxTokens <= 0 {
		maxTokens = e.maxTokens
	}
	req := &providers.CompletionRequest{
		Model:     job.Model,
		System:    job.SystemPrompt,
		Messages:  messages,
		Tools:     job.Tools,
		MaxTokens: maxTokens,
	}

	if opts.Session != nil {
		opts.Session.RecordLLMCall()
	}
	chunks, err := e.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var answer strings.Builder
	var calls []models.ToolCall
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			return "", nil, chunk.Error
		case chunk.ToolCall != nil:
			em.toolStart(chunk.ToolCall)
			calls = append(calls, *chunk.ToolCall)
		case chunk.Text != "":
			em.textDelta(chunk.Text)
			answer.WriteString(chunk.Text)
		case chunk.Done:
			usage.InputTokens += chunk.InputTokens
			usage.OutputTokens += chunk.OutputTokens
		}
	}
	usage.LLMCalls++
	return answer.String(), calls, nil
}

// invokeTool executes one tool call, gating on confirmation policy and
// dispatching heavyweight tools to the worker pool. Failures come back as
// error results, never as stream-terminating errors.
func (e *Engine) invokeTool(ctx context.Context, job *Job, call *models.ToolCall, opts *RunOpts, em *emitter) *models.ToolResult {
	tc := e.toolContext(job, call, opts, em)

	if tc.Policy != nil {
		action := actionForTool(call.Name)
		if tc.Policy.RequiresConfirmation(action) {
			em.toolProgress(call.ID, call.Name, "confirmation_requested: "+call.Name)
			if opts.Confirm == nil || !opts.Confirm(action) {
				return &models.ToolResult{
					ToolCallID: call.ID,
					Content:    fmt.Sprintf("tool %s denied: confirmation required", call.Name),
					IsError:    true,
				}
			}
		}
	}

	if tool, ok := e.registry.Get(call.Name); ok && tool.Weight() == tools.Heavyweight && e.pool != nil {
		return e.invokeOnPool(ctx, call, tc, em)
	}

	tc.Abort = ctx.Done()
	result := e.registry.Execute(ctx, call.Name, call.Input, tc)
	return toToolResult(call.ID, result)
}

func (e *Engine) invokeOnPool(ctx context.Context, call *models.ToolCall, tc *tools.Context, em *emitter) *models.ToolResult {
	task := &workerpool.Task{
		Tool: call.Name,
		Args: call.Input,
		Context: workerpool.TaskContext{
			SessionID: tc.SessionID,
			Cwd:       tc.Cwd,
		},
	}
	result, err := e.pool.Execute(ctx, task, ctx.Done(), func(update string) {
		em.toolProgress(call.ID, call.Name, update)
	})
	if err != nil {
		return &models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("worker execution failed: %v", err),
			IsError:    true,
		}
	}
	return toToolResult(call.ID, result)
}

// toolContext clones the per-run template for one invocation.
func (e *Engine) toolContext(job *Job, call *models.ToolCall, opts *RunOpts, em *emitter) *tools.Context {
	tc := &tools.Context{SessionID: job.SessionID}
	if opts.ToolContext != nil {
		clone := *opts.ToolContext
		tc = &clone
		if tc.SessionID == "" {
			tc.SessionID = job.SessionID
		}
	}
	tc.OnProgress = func(update string) {
		em.toolProgress(call.ID, call.Name, update)
	}
	return tc
}

func toToolResult(callID string, result *tools.Result) *models.ToolResult {
	content := result.Output
	if !result.Success {
		content = result.Error
	}
	return &models.ToolResult{
		ToolCallID: callID,
		Content:    content,
		IsError:    !result.Success,
		Metadata:   result.Metadata,
	}
}

// actionForTool maps tool names onto the confirmation policy's action
// classes.
func actionForTool(name string) security.Action {
	switch name {
	case "bash":
		return security.Action{Type: "execute", Target: name}
	case "file_read", "ls", "stat", "grep", "web_search", "memory_recall", "load_skill":
		return security.Action{Type: "read", Target: name}
	default:
		return security.Action{Type: "write", Target: name}
	}
}

func truncateResult(content string) string {
	if len(content) <= maxToolResultBytes {
		return content
	}
	return content[:maxToolResultBytes] + "\n[result truncated]"
}
