package dialog

import (
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/model"
)

// Handle queues an action. The future resolves true once the action was
// sent and its response applied, and false when it was canceled, rejected
// or superseded before any request.
func (d *Dialog) Handle(p HandleParams) *loop.Future[bool] {
	return d.post(func() *loop.Future[bool] { return d.handle(p) })
}

func (d *Dialog) handle(p HandleParams) *loop.Future[bool] {
	if reason := d.reject(p); reason != "" {
		d.logger.Debug("action rejected",
			zap.String("reason", reason),
			zap.String("action", string(p.Action)),
			zap.String("command", p.Command))
		d.metrics.RecordActionCanceled(reason)
		return loop.Resolved(false)
	}

	item := &queueItem{params: p, event: d.eventFor(p), result: loop.NewFuture[bool]()}

	if item.canceled(StagePrepare) {
		d.metrics.RecordActionCanceled("prepare")
		return loop.Resolved(false)
	}

	if p.Validate != model.MayBeInvalid {
		if form := d.formFor(p.Window); form != nil && !form.Valid() {
			d.metrics.RecordActionCanceled("invalid")
			if p.Validate == model.CancelInvalid || d.activeView() == nil {
				return loop.Resolved(false)
			}
			out := loop.NewFuture[bool]()
			d.showAlert(d.invalidMessage(form)).Then(func(bool) { out.Resolve(false) })
			return out
		}
	}

	if p.ClearQueue {
		d.cancelQueued(func(*queueItem) bool { return true })
	}
	if p.Deduplicate {
		for i := d.cancelQueued(item.sameKey); i > 0; i-- {
			d.metrics.RecordDedupeEviction()
		}
	}

	d.queue = append(d.queue, item)
	d.metrics.SetQueueDepth(len(d.queue))
	d.scheduleFlush(p.Defer)
	return item.result
}

// reject returns why p cannot be queued, or "" when it can.
func (d *Dialog) reject(p HandleParams) string {
	switch {
	case p.Procedure != nil && p.Procedure.ID == 0:
		return "stale"
	case d.state == model.StateEnded:
		return "ended"
	case p.Window != nil && p.Window.ID == 0:
		return "stale"
	case p.Window != nil && p.Window.Locked && p.Type != model.EventActivated && p.Type != model.EventClose:
		return "locked"
	}
	return ""
}

// eventFor builds the event object an action contributes to a request.
func (d *Dialog) eventFor(p HandleParams) *model.EventObject {
	switch p.Action {
	case model.RequestCommand:
		return &model.EventObject{Type: model.EventCommand, Command: p.Command, Data: p.Data}
	case model.RequestEvent, model.RequestHelp:
	default:
		return nil
	}

	ev := &model.EventObject{
		Type:         p.Type,
		Command:      p.Command,
		Component:    p.Component,
		TargetWindow: p.TargetWindow,
		Value:        p.Value,
		Data:         p.Data,
	}
	if ev.Type == "" && p.Action == model.RequestHelp {
		ev.Type = model.EventHelp
	}
	if p.Window != nil {
		ev.Window = p.Window.Name
	}
	if ev.Component == "" && p.Field != nil {
		ev.Component = p.Field.Name()
	}
	if p.Event != nil {
		ev.Shift, ev.Ctrl, ev.Alt = p.Event.Shift, p.Event.Ctrl, p.Event.Alt
		if ev.Value == nil {
			ev.Value = p.Event.Value
		}
	}
	return ev
}

func (d *Dialog) invalidMessage(form Form) string {
	for _, code := range form.Errors() {
		if msg, ok := d.opts.Messages[code]; ok {
			return msg
		}
	}
	if msg, ok := d.opts.Messages[""]; ok {
		return msg
	}
	return defaultInvalidMessage
}

// cancelQueued removes and resolves false every queued item matching drop.
// It returns how many items were removed.
func (d *Dialog) cancelQueued(drop func(*queueItem) bool) int {
	kept := d.queue[:0]
	var dropped []*queueItem
	for _, it := range d.queue {
		if drop(it) {
			dropped = append(dropped, it)
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(d.queue); i++ {
		d.queue[i] = nil
	}
	d.queue = kept
	for _, it := range dropped {
		it.result.Resolve(false)
	}
	if len(dropped) > 0 {
		d.metrics.SetQueueDepth(len(d.queue))
	}
	return len(dropped)
}

// scheduleFlush arranges a queue flush. A later schedule replaces an earlier
// one; a negative delay schedules nothing.
func (d *Dialog) scheduleFlush(delay time.Duration) {
	if delay < 0 {
		return
	}
	if d.flushTimer != nil {
		d.flushTimer.Stop()
		d.flushTimer = nil
	}
	d.flushSeq++
	seq := d.flushSeq
	run := func() {
		if seq != d.flushSeq {
			return
		}
		d.flushTimer = nil
		d.flush()
	}
	if delay == FlushNextTick {
		d.loop.Post(run)
		return
	}
	d.flushTimer = d.loop.AfterFunc(delay, run)
}

// flush drains the queue. While a request is in flight the flush is
// remembered and resumed once the round trip settles.
func (d *Dialog) flush() {
	d.flushWanted = true
	if d.pending > 0 {
		return
	}
	d.processQueue()
}
