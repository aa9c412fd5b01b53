package dialog

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/codec"
	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/internal/observability"
	"github.com/pitabwire/cooldialog/model"
)

// Scroll amounts understood in Global.ScrollAmt besides a row count.
const (
	scrollPage = "PAGE"
	scrollHalf = "HALF"
	scrollLine = "LINE"
)

// enterCommand is suppressed when the server echoes it back unchanged.
const enterCommand = "ENTER"

// processQueue sends queued batches until the queue is empty or a request
// is in flight.
func (d *Dialog) processQueue() {
	for d.pending == 0 && len(d.queue) > 0 {
		d.cancelQueued(func(it *queueItem) bool {
			return it.stale() || it.canceled(StageProcess)
		})
		if len(d.queue) == 0 {
			break
		}
		n := d.groupSize()
		batch := append([]*queueItem(nil), d.queue[:n]...)
		d.queue = d.queue[n:]
		d.metrics.SetQueueDepth(len(d.queue))
		d.processRequest(batch)
	}
	if len(d.queue) == 0 {
		d.flushWanted = false
	}
}

// groupSize counts the items at the front of the queue that travel in one
// request: consecutive events for the same window. A command closes the
// group.
func (d *Dialog) groupSize() int {
	first := d.queue[0]
	if first.params.Action != model.RequestEvent {
		return 1
	}
	n := 1
	for n < len(d.queue) {
		next := d.queue[n]
		if next.params.Window != first.params.Window || next.params.Action.ServiceAction() != model.RequestEvent {
			break
		}
		n++
		if next.params.Action == model.RequestCommand {
			break
		}
	}
	return n
}

func (d *Dialog) processRequest(batch []*queueItem) {
	first := batch[0].params
	req := d.buildRequest(batch)

	if p := first.Procedure; p != nil {
		if cmd, ok := scrollCommand(batch); ok && p.ScrollSize != nil {
			offset := 0
			if p.PageOffset != nil {
				offset = *p.PageOffset
			}
			next := scrollTarget(cmd, offset, scrollAmount(d.global.ScrollAmt, p.PageSize), *p.ScrollSize)
			if next >= 0 && next < *p.ScrollSize {
				p.PageOffset = &next
				d.metrics.RecordScrollShortCircuit(cmd)
				d.logger.Debug("scrolled locally",
					zap.String("procedure", p.Name),
					zap.String("command", cmd),
					zap.Int("offset", next))
				resolveAll(batch, true)
				d.notify()
				return
			}
		}
		req.In = PrepareRequestView(p.In)
	}
	var sent *sentControls
	if w := first.Window; w != nil {
		req.Window = w.Name
		// Only the window holding focus reports its edits; others keep
		// them until they are active.
		if w.Active {
			if changed, values := d.changedControls(w); len(changed) > 0 {
				req.Controls = codec.ToState(changed)
				sent = &sentControls{window: w, values: values}
			}
		}
	}

	d.send(batch, req, sent)
}

// buildRequest assembles the request for a batch, without the procedure view.
func (d *Dialog) buildRequest(batch []*queueItem) *model.Request {
	first := batch[0].params
	g := d.global
	req := &model.Request{
		DialogID:     d.id,
		Action:       first.Action.ServiceAction(),
		Index:        d.index,
		NextTran:     g.NextTran,
		ClientUserID: g.ClientUserID,
		Dialog:       g.Dialog,
		ExitState:    g.ExitState,
		ExitStateID:  g.ExitStateID,
	}
	if g.ScrollAmt != "" && g.ScrollAmt != model.DefaultScrollAmount {
		req.ScrollAmt = g.ScrollAmt
	}
	if cmd := g.Command; cmd != "" && !(strings.EqualFold(cmd, enterCommand) && cmd == g.PrevCommand) {
		req.Command = cmd
	}

	switch first.Action {
	case model.RequestStart, model.RequestChangeDialect:
		req.CurrentDialect = first.Dialect
		if req.CurrentDialect == "" {
			req.CurrentDialect = g.CurrentDialect
		}
		req.Restart = first.Restart
		req.CommandLine = first.CommandLine
		req.Params = first.Params
	}

	if p := first.Procedure; p != nil {
		req.ID, req.Name = p.ID, p.Name
	} else {
		req.ID, req.Name = first.ID, first.Name
	}

	for _, it := range batch {
		if it.event != nil {
			req.Events = append(req.Events, *it.event)
		}
	}
	return req
}

// changedControls returns the controls of w whose value moved away from
// the value the bound field started with, or that carry a dynamic disabled
// state, along with the plain values sent.
func (d *Dialog) changedControls(w *model.Window) (map[string]any, map[string]any) {
	names := make([]string, 0, len(w.Controls))
	for name := range w.Controls {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any)
	values := make(map[string]any)
	bound := d.fields[w]
	for _, name := range names {
		c := w.Controls[name]
		if c == nil {
			continue
		}
		initial := c.Value
		if f, ok := bound[name]; ok {
			initial = f.initial
		}
		if eq(initial, c.Value) && c.DisabledState == nil {
			continue
		}
		entry := map[string]any{"value": c.Value}
		if c.DisabledState != nil {
			entry["disabledState"] = *c.DisabledState
		}
		out[name] = entry
		values[name] = c.Value
	}
	return out, values
}

func (d *Dialog) send(batch []*queueItem, req *model.Request, sent *sentControls) {
	d.addPending(1)
	started := d.loop.Clock().Now()

	sc := &model.SessionContext{
		DialogID:      d.id,
		CorrelationID: uuid.NewString(),
		Index:         d.index,
		Dialect:       d.global.CurrentDialect,
		Procedure:     req.Name,
	}
	ctx := model.WithSessionContext(d.ctx, sc)
	client := d.opts.Client

	if in, ok := req.In.(map[string]any); ok && d.logger.Core().Enabled(zap.DebugLevel) {
		d.logger.Debug("sending procedure input",
			zap.String("correlation_id", sc.CorrelationID),
			zap.Any("in", observability.RedactBody(in, nil)))
	}

	loop.Spawn(d.loop, func() (*model.Response, error) {
		ctx, span := observability.StartSpan(ctx, "dialog.round_trip",
			observability.AttrDialogID.String(sc.DialogID),
			observability.AttrAction.String(string(req.Action)),
			observability.AttrProcedure.String(req.Name),
			observability.AttrWindow.String(req.Window),
			observability.AttrCorrelationID.String(sc.CorrelationID),
			attribute.Int("dialog.events", len(req.Events)),
		)
		resp, err := model.Send(ctx, client, req)
		if resp != nil {
			span.SetAttributes(observability.AttrResponseType.String(string(resp.ResponseType)))
		}
		observability.EndSpanWithError(span, err)
		return resp, err
	}, func(resp *model.Response, err error) {
		d.onResponse(batch, req, sent, resp, err, d.loop.Clock().Now().Sub(started))
	})
}

func (d *Dialog) onResponse(batch []*queueItem, req *model.Request, sent *sentControls, resp *model.Response, err error, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("action", string(req.Action)),
		zap.String("procedure", req.Name),
		zap.Duration("duration", elapsed),
	}

	switch {
	case err != nil && model.IsBenignCancellation(err):
		d.logger.Debug("round trip canceled", append(fields, zap.Error(err))...)
		d.metrics.RecordRoundTrip(string(req.Action), "canceled", elapsed)
		d.addPending(-1)
		resolveAll(batch, true)
		d.settle()

	case err != nil:
		d.logger.Warn("round trip failed", append(fields, zap.Error(err))...)
		d.metrics.RecordRoundTrip(string(req.Action), "error", elapsed)
		d.addPending(-1)
		d.reportError(err).Then(func(bool) {
			resolveAll(batch, false)
			d.settle()
		})

	case resp == nil:
		d.metrics.RecordRoundTrip(string(req.Action), "empty", elapsed)
		d.addPending(-1)
		resolveAll(batch, true)
		d.settle()

	default:
		d.logger.Info("round trip", append(fields, zap.String("response_type", string(resp.ResponseType)))...)
		d.metrics.RecordRoundTrip(string(req.Action), string(resp.ResponseType), elapsed)
		d.applyResponse(resp, sent, func(result *loop.Future[bool]) {
			d.addPending(-1)
			result.Then(func(ok bool) { resolveAll(batch, ok) })
			d.settle()
		})
	}
}

// reportError puts the dialog into the error state until the error handler
// acknowledges the failure.
func (d *Dialog) reportError(err error) *loop.Future[bool] {
	done := loop.NewFuture[bool]()
	info := model.NewErrorInfo(err)
	d.setState(model.StateError)

	handler := d.opts.Errors
	if handler == nil {
		d.logger.Error("request failed", zap.String("message", info.Message), zap.String("error_id", info.ID))
		d.restoreState()
		done.Resolve(true)
		return done
	}
	ctx := d.ctx
	loop.Spawn(d.loop, func() (struct{}, error) {
		return struct{}{}, handler.Handle(ctx, info)
	}, func(_ struct{}, herr error) {
		if herr != nil {
			d.logger.Warn("error handler failed", zap.Error(herr))
		}
		if d.state == model.StateError {
			d.restoreState()
		}
		done.Resolve(true)
	})
	return done
}

// settle runs after a round trip is fully applied: it resumes a pending
// flush and schedules a focus pass.
func (d *Dialog) settle() {
	if d.flushWanted && d.pending == 0 {
		d.processQueue()
	}
	d.focus.UpdateView()
	d.notify()
}

func resolveAll(batch []*queueItem, v bool) {
	for _, it := range batch {
		it.result.Resolve(v)
	}
}

// scrollCommand returns the last scroll command in the batch.
func scrollCommand(batch []*queueItem) (string, bool) {
	cmd, found := "", false
	for _, it := range batch {
		if it.event != nil && it.event.Type == model.EventCommand && model.IsScrollCommand(it.event.Command) {
			cmd, found = it.event.Command, true
		}
	}
	return cmd, found
}

// scrollAmount returns how many rows one scroll step moves.
func scrollAmount(amt string, pageSize *int) int {
	size := 0
	if pageSize != nil {
		size = *pageSize
	}
	switch strings.ToUpper(strings.TrimSpace(amt)) {
	case "", scrollPage:
		if size > 0 {
			return size
		}
	case scrollHalf:
		if size > 1 {
			return size / 2
		}
	case scrollLine:
	default:
		if n, err := strconv.Atoi(strings.TrimSpace(amt)); err == nil && n > 0 {
			return n
		}
		if size > 0 {
			return size
		}
	}
	return 1
}

// scrollTarget computes the page offset a scroll command moves to.
func scrollTarget(cmd string, offset, amount, scrollSize int) int {
	switch cmd {
	case model.ScrollTop, model.ScrollReset:
		return 0
	case model.ScrollBottom:
		return max(0, scrollSize-amount)
	case model.ScrollPrev:
		return offset - amount
	case model.ScrollNext:
		return offset + amount
	}
	return offset
}
