package dialog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/focus"
	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/model"
)

// ErrNoLocation is returned by Init when the dialog has no location.
var ErrNoLocation = errors.New("dialog: location is required")

// closeKey is the key an Online procedure binds its exit command to.
const closeKey = "F3"

// activation is a debounced Activate waiting for its timer.
type activation struct {
	timer  loop.Timer
	window *model.Window
	result *loop.Future[bool]
}

// Start starts procedure name.
func (d *Dialog) Start(name, commandLine string, params map[string]any) *loop.Future[bool] {
	return d.Handle(HandleParams{
		Action:      model.RequestStart,
		Name:        name,
		CommandLine: commandLine,
		Params:      params,
		Validate:    model.MayBeInvalid,
		Defer:       FlushNextTick,
	})
}

// Fork starts a procedure alongside the current ones.
func (d *Dialog) Fork(p HandleParams) *loop.Future[bool] {
	return d.Handle(immediate(p, model.RequestFork))
}

// Get fetches the current state of a procedure.
func (d *Dialog) Get(p HandleParams) *loop.Future[bool] {
	return d.Handle(immediate(p, model.RequestGet))
}

// Current fetches the state of the procedures the server considers current.
func (d *Dialog) Current(p HandleParams) *loop.Future[bool] {
	return d.Handle(immediate(p, model.RequestCurrent))
}

// ChangeDialect switches the session language.
func (d *Dialog) ChangeDialect(dialect string) *loop.Future[bool] {
	return d.Handle(HandleParams{
		Action:   model.RequestChangeDialect,
		Dialect:  dialect,
		Validate: model.MayBeInvalid,
		Defer:    FlushNextTick,
	})
}

func immediate(p HandleParams, action model.RequestType) HandleParams {
	p.Action = action
	p.Validate = model.MayBeInvalid
	p.Defer = FlushNextTick
	return p
}

// Init performs the startup action derived from the dialog location.
func (d *Dialog) Init(ctx context.Context) (*loop.Future[bool], error) {
	if d.opts.Location == nil {
		return nil, ErrNoLocation
	}
	st, err := d.opts.Location.InitState(ctx)
	if err != nil {
		return nil, fmt.Errorf("init state: %w", err)
	}
	d.logger.Info("dialog starting",
		zap.String("action", string(st.Action)),
		zap.String("procedure", st.Procedure))

	if st.Index != "" {
		d.loop.Post(func() { d.index = st.Index })
	}
	p := HandleParams{
		Name:        st.Procedure,
		ID:          st.ID,
		Dialect:     st.Dialect,
		Restart:     st.Restart,
		CommandLine: st.CommandLine,
		Params:      st.Params,
	}
	switch st.Action {
	case model.RequestStart, "":
		p.Action = model.RequestStart
		p.Validate = model.MayBeInvalid
		return d.Handle(p), nil
	case model.RequestGet:
		return d.Get(p), nil
	case model.RequestFork:
		return d.Fork(p), nil
	case model.RequestCurrent:
		return d.Current(p), nil
	case model.RequestChangeDialect:
		return d.ChangeDialect(st.Dialect), nil
	}
	return nil, fmt.Errorf("init state: unsupported action %q", st.Action)
}

// Close closes window w.
func (d *Dialog) Close(w *model.Window) *loop.Future[bool] {
	return d.post(func() *loop.Future[bool] { return d.close(w) })
}

// close sends a Close event for Window procedures. Online procedures are
// closed through the key bound to their exit command.
func (d *Dialog) close(w *model.Window) *loop.Future[bool] {
	if w == nil || w.Procedure == nil {
		return loop.Resolved(false)
	}
	if w.Procedure.Type == model.ProcedureOnline {
		return loop.Resolved(d.focus.HandleKey(focus.KeyEvent{Key: closeKey}))
	}
	return d.handle(HandleParams{
		Action:     model.RequestEvent,
		Type:       model.EventClose,
		Procedure:  w.Procedure,
		Window:     w,
		Validate:   model.MayBeInvalid,
		Defer:      FlushNextTick,
		ClearQueue: true,
	})
}

// Activate makes w the active window. Calls within the activation debounce
// replace each other; a replaced call resolves false.
func (d *Dialog) Activate(w *model.Window) *loop.Future[bool] {
	return d.post(func() *loop.Future[bool] { return d.activate(w) })
}

func (d *Dialog) activate(w *model.Window) *loop.Future[bool] {
	if prev := d.activation; prev != nil {
		prev.timer.Stop()
		prev.result.Resolve(false)
		d.activation = nil
	}
	if w == nil || w.ID == 0 {
		return loop.Resolved(false)
	}

	a := &activation{window: w, result: loop.NewFuture[bool]()}
	a.timer = d.loop.AfterFunc(d.opts.ActivateDebounce, func() {
		if d.activation != a {
			return
		}
		d.activation = nil
		d.activateNow(w).Pipe(a.result)
	})
	d.activation = a
	return a.result
}

func (d *Dialog) activateNow(w *model.Window) *loop.Future[bool] {
	current := d.activeWindow()
	if current == w {
		return loop.Resolved(true)
	}

	activated := func() *loop.Future[bool] {
		return d.handle(HandleParams{
			Action:    model.RequestEvent,
			Type:      model.EventActivated,
			Procedure: w.Procedure,
			Window:    w,
			Validate:  model.MayBeInvalid,
			Defer:     FlushNextTick,
		})
	}

	form := d.formFor(current)
	if current == nil || form == nil || !form.Dirty() {
		return activated()
	}

	out := loop.NewFuture[bool]()
	d.handle(HandleParams{
		Action:    model.RequestEvent,
		Type:      model.EventDeactivated,
		Procedure: current.Procedure,
		Window:    current,
		Validate:  model.MayBeInvalid,
		Defer:     FlushNextTick,
	}).Then(func(bool) {
		activated().Pipe(out)
	})
	return out
}

// SaveGeometry stores the geometry of w for the current session.
func (d *Dialog) SaveGeometry(ctx context.Context, w *model.Window, g model.Geometry) error {
	state := d.opts.State
	if state == nil {
		return nil
	}
	var key string
	if err := d.loop.Call(ctx, func() {
		if w.Procedure != nil && w.ID != 0 {
			key = geometryKey(d.index, w.Procedure.Name, w.Name)
		}
	}); err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	if err := state.Set(ctx, key, g); err != nil {
		return fmt.Errorf("save geometry: %w", err)
	}
	return state.Save(ctx)
}

// SetPaging records how many rows procedure p shows per page and how many
// rows its result set holds. Scroll commands that stay within the result
// set are then answered locally. A non-positive scrollSize clears the
// result size so every scroll goes to the server.
func (d *Dialog) SetPaging(p *model.Procedure, pageSize, scrollSize int) {
	d.loop.Post(func() {
		if p == nil || p.ID == 0 {
			return
		}
		if pageSize > 0 {
			p.PageSize = &pageSize
		}
		if scrollSize > 0 {
			p.ScrollSize = &scrollSize
		} else {
			p.ScrollSize = nil
		}
		d.notify()
	})
}
