package dialog

import (
	"time"

	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/model"
)

// Flush timing for HandleParams.Defer. Positive values delay the flush.
const (
	// FlushNextTick flushes on the next loop turn.
	FlushNextTick time.Duration = 0
	// FlushManual queues without scheduling a flush; the item is sent by the
	// next flush another action triggers.
	FlushManual time.Duration = -1
)

// Cancellation stages passed to HandleParams.Canceled.
const (
	StagePrepare = "prepare"
	StageProcess = "process"
)

// InputEvent is the UI event that triggered an action.
type InputEvent struct {
	Shift bool
	Ctrl  bool
	Alt   bool
	Value any
}

// HandleParams describes one pending action.
type HandleParams struct {
	Action    model.RequestType
	Procedure *model.Procedure
	Window    *model.Window
	Field     *Field

	// Name and ID address a procedure that has no local instance yet, as
	// for Start or a location driven Get.
	Name string
	ID   int64

	// Type is the event type for non-command events.
	Type         string
	Command      string
	Component    string
	TargetWindow string
	Value        any
	Event        *InputEvent
	Data         []model.FileData

	Validate    model.Validation
	Deduplicate bool
	Defer       time.Duration
	// ClearQueue cancels everything queued before this action.
	ClearQueue bool
	// Canceled may veto the action before it is queued and again before it
	// is sent.
	Canceled func(stage string) bool

	Dialect     string
	Restart     bool
	CommandLine string
	Params      map[string]any
}

type queueItem struct {
	params HandleParams
	event  *model.EventObject
	result *loop.Future[bool]
}

func (it *queueItem) canceled(stage string) bool {
	return it.params.Canceled != nil && it.params.Canceled(stage)
}

// stale reports whether the item targets something the server dropped.
func (it *queueItem) stale() bool {
	if it.params.Window != nil && it.params.Window.ID == 0 {
		return true
	}
	return it.params.Procedure != nil && it.params.Procedure.ID == 0
}

// sameKey compares the deduplication key of two items.
func (it *queueItem) sameKey(other *queueItem) bool {
	a, b := it.params, other.params
	return a.Window == b.Window &&
		a.Action == b.Action &&
		a.Type == b.Type &&
		a.Command == b.Command &&
		a.Field == b.Field &&
		a.Component == b.Component &&
		a.TargetWindow == b.TargetWindow
}
