package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/switchyard-ai/switchyard/internal/providers"
	"github.com/switchyard-ai/switchyard/internal/security"
	"github.com/switchyard-ai/switchyard/internal/sessions"
	"github.com/switchyard-ai/switchyard/internal/tools"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

func textTurn(parts ...string) []*providers.CompletionChunk {
	chunks := make([]*providers.CompletionChunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, &providers.CompletionChunk{Text: p})
	}
	return append(chunks, &providers.CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5})
}

func toolTurn(id, name, args string) []*providers.CompletionChunk {
	return []*providers.CompletionChunk{
		{ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(args)}},
		{Done: true, InputTokens: 10, OutputTokens: 5},
	}
}

func newTestEngine(t *testing.T, provider providers.Provider) *Engine {
	t.Helper()
	e, err := NewEngine(Options{
		Provider: provider,
		Registry: tools.NewDefaultRegistry(tools.Deps{}),
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func testToolContext(t *testing.T, autonomy security.Autonomy) *tools.Context {
	t.Helper()
	policy, err := security.NewPolicy(security.Options{
		WorkspaceRoot:    t.TempDir(),
		Autonomy:         autonomy,
		CommandAllowlist: []string{"echo"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &tools.Context{Cwd: policy.Root(), Policy: policy}
}

func collect(t *testing.T, handle *RunHandle) []models.RunEvent {
	t.Helper()
	var events []models.RunEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-handle.Events:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(events))
		}
	}
}

func eventsOfType(events []models.RunEvent, typ models.RunEventType) []models.RunEvent {
	var out []models.RunEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func terminal(t *testing.T, events []models.RunEvent) models.RunEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.Type != models.RunEventCompleted && last.Type != models.RunEventError {
		t.Fatalf("last event %s is not terminal", last.Type)
	}
	return last
}

func TestRunStreamsTextAndCompletes(t *testing.T) {
	provider := providers.NewScriptedProvider(textTurn("Hello, ", "world."))
	e := newTestEngine(t, provider)

	handle, err := e.StartRun(context.Background(), &Job{Model: "m", Messages: []models.Message{
		{Role: models.RoleUser, Content: "hi"},
	}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, handle)

	if events[0].Type != models.RunEventStarted || events[0].Started.ResumeToken == "" {
		t.Fatalf("first event = %+v", events[0])
	}
	deltas := eventsOfType(events, models.RunEventTextDelta)
	if len(deltas) != 2 {
		t.Fatalf("text deltas = %d", len(deltas))
	}

	last := terminal(t, events)
	if last.Type != models.RunEventCompleted {
		t.Fatalf("terminal = %+v", last)
	}
	if last.Completed.Answer != "Hello, world." {
		t.Errorf("answer = %q", last.Completed.Answer)
	}
	if last.Completed.Usage.LLMCalls != 1 || last.Completed.Usage.InputTokens != 10 {
		t.Errorf("usage = %+v", last.Completed.Usage)
	}

	// sequence numbers are strictly increasing
	for i := 1; i < len(events); i++ {
		if events[i].Sequence <= events[i-1].Sequence {
			t.Errorf("sequence not monotone at %d: %d then %d", i, events[i-1].Sequence, events[i].Sequence)
		}
	}
}

func TestRunExecutesToolAndContinues(t *testing.T) {
	provider := providers.NewScriptedProvider(
		toolTurn("c1", "ls", `{"path":"."}`),
		textTurn("done"),
	)
	e := newTestEngine(t, provider)

	handle, err := e.StartRun(context.Background(), &Job{Model: "m"}, &RunOpts{
		ToolContext: testToolContext(t, security.AutonomyFull),
	})
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, handle)

	starts := eventsOfType(events, models.RunEventToolStart)
	ends := eventsOfType(events, models.RunEventToolEnd)
	if len(starts) != 1 || len(ends) != 1 {
		t.Fatalf("tool events: %d starts, %d ends", len(starts), len(ends))
	}
	if starts[0].Tool.CallID != "c1" || ends[0].Tool.CallID != "c1" {
		t.Errorf("call ids: start %q end %q", starts[0].Tool.CallID, ends[0].Tool.CallID)
	}
	if ends[0].Tool.Result.IsError {
		t.Errorf("tool result = %+v", ends[0].Tool.Result)
	}
	if last := terminal(t, events); last.Completed.Answer != "done" {
		t.Errorf("answer = %q", last.Completed.Answer)
	}

	// the second provider call sees the tool-role result message
	reqs := provider.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider calls = %d", len(reqs))
	}
	lastMsg := reqs[1].Messages[len(reqs[1].Messages)-1]
	if lastMsg.Role != models.RoleTool || lastMsg.ToolCallID != "c1" {
		t.Errorf("continuation message = %+v", lastMsg)
	}
}

func TestUnknownToolBecomesErrorResult(t *testing.T) {
	provider := providers.NewScriptedProvider(
		toolTurn("c1", "no_such_tool", `{}`),
		textTurn("recovered"),
	)
	e := newTestEngine(t, provider)

	handle, err := e.StartRun(context.Background(), &Job{Model: "m"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, handle)

	ends := eventsOfType(events, models.RunEventToolEnd)
	if len(ends) != 1 || !ends[0].Tool.Result.IsError {
		t.Fatalf("tool end = %+v", ends)
	}
	// the run recovers instead of failing
	if last := terminal(t, events); last.Type != models.RunEventCompleted {
		t.Errorf("terminal = %+v", last)
	}
}

func TestSteeringInjectedAtTurnBoundary(t *testing.T) {
	provider := providers.NewScriptedProvider(textTurn("ok"))
	e := newTestEngine(t, provider)

	session := sessions.NewSession("terminal:u1", sessions.Config{})
	if err := session.Steer(sessions.SteeringMessage{Kind: sessions.SteerInject, Content: "focus on tests"}); err != nil {
		t.Fatal(err)
	}

	handle, err := e.StartRun(context.Background(), &Job{Model: "m", Messages: []models.Message{
		{Role: models.RoleUser, Content: "hi"},
	}}, &RunOpts{Session: session})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, handle)

	req := provider.Requests()[0]
	last := req.Messages[len(req.Messages)-1]
	if last.Role != models.RoleUser || last.Content != "focus on tests" {
		t.Errorf("injected message = %+v", last)
	}
	if session.Stats().Iterations != 1 {
		t.Errorf("stats = %+v", session.Stats())
	}
}

func TestSteeringAbortEndsRun(t *testing.T) {
	provider := providers.NewScriptedProvider(textTurn("never"))
	e := newTestEngine(t, provider)

	session := sessions.NewSession("terminal:u1", sessions.Config{})
	if err := session.Steer(sessions.SteeringMessage{Kind: sessions.SteerAbort}); err != nil {
		t.Fatal(err)
	}

	handle, err := e.StartRun(context.Background(), &Job{Model: "m"}, &RunOpts{Session: session})
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, handle)

	last := terminal(t, events)
	if last.Type != models.RunEventError || !last.Error.Cancelled {
		t.Fatalf("terminal = %+v", last)
	}
	if len(provider.Requests()) != 0 {
		t.Error("provider called despite queued abort")
	}
}

func TestCancelledRunEmitsError(t *testing.T) {
	provider := providers.NewScriptedProvider(textTurn("never"))
	e := newTestEngine(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handle, err := e.StartRun(ctx, &Job{Model: "m"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, handle)

	last := terminal(t, events)
	if last.Type != models.RunEventError || !last.Error.Cancelled {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestMaxIterations(t *testing.T) {
	// every turn requests another tool call, so the bound must trip
	turns := make([][]*providers.CompletionChunk, 0, 4)
	for i := 0; i < 4; i++ {
		turns = append(turns, toolTurn("c", "no_such_tool", `{}`))
	}
	provider := providers.NewScriptedProvider(turns...)

	e, err := NewEngine(Options{
		Provider:      provider,
		Registry:      tools.NewDefaultRegistry(tools.Deps{}),
		MaxIterations: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	handle, err := e.StartRun(context.Background(), &Job{Model: "m"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, handle)

	last := terminal(t, events)
	if last.Type != models.RunEventError || last.Error.Code != "max_iterations" {
		t.Fatalf("terminal = %+v", last)
	}
	if !errors.Is(last.Error.Err, ErrMaxIterations) {
		t.Errorf("err = %v", last.Error.Err)
	}
	if got := len(provider.Requests()); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestConfirmationGate(t *testing.T) {
	writeArgs := `{"path":"a.txt","content":"x"}`
	provider := providers.NewScriptedProvider(
		toolTurn("c1", "file_write", writeArgs),
		textTurn("after deny"),
	)
	e := newTestEngine(t, provider)

	// readonly autonomy: writes need confirmation; no resolver denies
	handle, err := e.StartRun(context.Background(), &Job{Model: "m"}, &RunOpts{
		ToolContext: testToolContext(t, security.AutonomyReadonly),
	})
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, handle)

	var sawRequest bool
	for _, ev := range eventsOfType(events, models.RunEventToolProgress) {
		if strings.Contains(ev.Tool.Update, "confirmation_requested") {
			sawRequest = true
		}
	}
	if !sawRequest {
		t.Error("no confirmation_requested progress event")
	}
	ends := eventsOfType(events, models.RunEventToolEnd)
	if len(ends) != 1 || !ends[0].Tool.Result.IsError || !strings.Contains(ends[0].Tool.Result.Content, "denied") {
		t.Fatalf("tool end = %+v", ends)
	}

	// with a resolver that approves, the write goes through
	provider2 := providers.NewScriptedProvider(
		toolTurn("c2", "file_write", writeArgs),
		textTurn("after allow"),
	)
	e2 := newTestEngine(t, provider2)
	handle2, err := e2.StartRun(context.Background(), &Job{Model: "m"}, &RunOpts{
		ToolContext: testToolContext(t, security.AutonomyReadonly),
		Confirm:     func(security.Action) bool { return true },
	})
	if err != nil {
		t.Fatal(err)
	}
	events2 := collect(t, handle2)
	ends2 := eventsOfType(events2, models.RunEventToolEnd)
	if len(ends2) != 1 || ends2[0].Tool.Result.IsError {
		t.Fatalf("approved tool end = %+v", ends2)
	}
}

func TestResume(t *testing.T) {
	provider := providers.NewScriptedProvider(
		textTurn("first answer"),
		textTurn("second answer"),
	)
	e := newTestEngine(t, provider)

	handle, err := e.StartRun(context.Background(), &Job{Model: "m", Messages: []models.Message{
		{Role: models.RoleUser, Content: "start"},
	}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, handle)
	token := events[0].Started.ResumeToken

	resumed, err := e.Resume(context.Background(), token, "continue please", nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	events2 := collect(t, resumed)
	if last := terminal(t, events2); last.Completed.Answer != "second answer" {
		t.Errorf("resumed answer = %q", last.Completed.Answer)
	}

	req := provider.Requests()[1]
	if len(req.Messages) != 2 {
		t.Fatalf("resumed messages = %+v", req.Messages)
	}
	if req.Messages[0].Content != "start" || req.Messages[1].Content != "continue please" {
		t.Errorf("resumed conversation = %+v", req.Messages)
	}

	// a different engine refuses the token
	other := newTestEngine(t, providers.NewScriptedProvider())
	if _, err := other.Resume(context.Background(), token, "x", nil); !errors.Is(err, ErrForeignToken) {
		t.Errorf("foreign resume err = %v", err)
	}
	if _, err := e.Resume(context.Background(), "garbage!!", "x", nil); err == nil {
		t.Error("malformed token accepted")
	}
}

func TestToolResultTruncation(t *testing.T) {
	long := strings.Repeat("x", maxToolResultBytes+100)
	got := truncateResult(long)
	if len(got) > maxToolResultBytes+32 {
		t.Errorf("truncated length = %d", len(got))
	}
	if !strings.HasSuffix(got, "[result truncated]") {
		t.Error("no truncation notice")
	}
	if truncateResult("short") != "short" {
		t.Error("short result modified")
	}
}
