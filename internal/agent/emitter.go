package agent

import (
	"sync/atomic"
	"time"

	"github.com/switchyard-ai/switchyard/pkg/models"
)

// emitter stamps and orders the run's event stream. Events carry a
// monotonically increasing sequence so consumers can detect gaps.
type emitter struct {
	runRef string
	seq    atomic.Uint64
	events chan models.RunEvent
}

func newEmitter(runRef string, buffer int) *emitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &emitter{
		runRef: runRef,
		events: make(chan models.RunEvent, buffer),
	}
}

func (e *emitter) emit(ev models.RunEvent) {
	ev.Time = time.Now()
	ev.Sequence = e.seq.Add(1)
	ev.RunRef = e.runRef
	e.events <- ev
}

func (e *emitter) textDelta(delta string) {
	e.emit(models.RunEvent{
		Type:      models.RunEventTextDelta,
		TextDelta: &models.TextDeltaPayload{Delta: delta},
	})
}

func (e *emitter) toolStart(call *models.ToolCall) {
	e.emit(models.RunEvent{
		Type: models.RunEventToolStart,
		Tool: &models.ToolEventPayload{CallID: call.ID, Name: call.Name, ArgsJSON: call.Input},
	})
}

func (e *emitter) toolProgress(callID, name, update string) {
	e.emit(models.RunEvent{
		Type: models.RunEventToolProgress,
		Tool: &models.ToolEventPayload{CallID: callID, Name: name, Update: update},
	})
}

func (e *emitter) toolEnd(callID, name string, result *models.ToolResult) {
	e.emit(models.RunEvent{
		Type: models.RunEventToolEnd,
		Tool: &models.ToolEventPayload{CallID: callID, Name: name, Result: result},
	})
}

func (e *emitter) completed(answer string, usage *models.Usage) {
	e.emit(models.RunEvent{
		Type:      models.RunEventCompleted,
		Completed: &models.CompletedPayload{Answer: answer, Usage: usage},
	})
}

func (e *emitter) fail(err error, code string, cancelled bool) {
	e.emit(models.RunEvent{
		Type:  models.RunEventError,
		Error: &models.ErrorPayload{Message: err.Error(), Code: code, Cancelled: cancelled, Err: err},
	})
}

func (e *emitter) close() { close(e.events) }
