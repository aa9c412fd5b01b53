package dialog

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/cooldialog/internal/codec"
	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/model"
)

// maxParallelResolves bounds concurrent page and geometry lookups.
const maxParallelResolves = 8

// responsePlan is a response reconciled against the current trees but not
// yet applied. Nothing in the live trees changes until commit.
type responsePlan struct {
	resp    *model.Response
	sent    *sentControls
	procs   []*procPlan
	refresh []*procPlan
}

// sentControls records the control values a request carried, so the
// fields of that window can take them as their baseline once the server
// has answered.
type sentControls struct {
	window *model.Window
	values map[string]any
}

type procPlan struct {
	target   *model.Procedure
	digest   *model.ProcedureDigest
	in, out  any
	setIn    bool
	setOut   bool
	commands map[string]*model.CommandView
	windows  []*winPlan
}

type winPlan struct {
	target   *model.Window
	incoming *model.Window
	controls map[string]*model.Control
	fresh    bool
	focused  string
	id       int64

	// Filled in by resolve.
	needsPage     bool
	needsGeometry bool
	page          any
	geometry      *model.Geometry
}

// applyResponse reconciles resp into the live trees and dispatches on its
// type. sent names the controls the originating request carried, if any.
// done receives a future for the outcome of the originating batch once the
// trees are committed.
func (d *Dialog) applyResponse(resp *model.Response, sent *sentControls, done func(*loop.Future[bool])) {
	if resp.Mode != "" {
		d.mode = resp.Mode
	}
	if resp.Index != "" && resp.Index != d.index {
		d.index = resp.Index
		if d.opts.Location != nil {
			d.opts.Location.SetIndex(resp.Index)
		}
	}

	if resp.ResponseType == model.ResponseEnd {
		d.end()
		d.launch(resp.Launch)
		done(loop.Resolved(true))
		return
	}

	plan := d.plan(resp)
	plan.sent = sent
	d.resolve(plan, func() {
		d.commit(plan)
		result := d.dispatch(plan)
		d.launch(resp.Launch)
		done(result)
	})
}

func (d *Dialog) plan(resp *model.Response) *responsePlan {
	prevByID := make(map[int64]*model.Procedure, len(d.procedures))
	for _, p := range d.procedures {
		prevByID[p.ID] = p
	}

	plan := &responsePlan{resp: resp}
	for i := range resp.Procedures {
		dg := &resp.Procedures[i]
		prev := prevByID[dg.ID]
		if dg.ID == 0 {
			prev = nil
		}

		pp := &procPlan{digest: dg, target: prev}
		if pp.target == nil {
			pp.target = &model.Procedure{}
		}

		if prev == nil || dg.ID == resp.ID {
			var prevIn, prevOut any
			if prev != nil {
				prevIn, prevOut = prev.In, prev.Out
			}
			if dg.In != nil {
				pp.in, _ = PrepareResponseView(prevIn, dg.In)
				pp.setIn = true
			}
			if dg.Out != nil {
				pp.out, _ = PrepareResponseView(prevOut, dg.Out)
				pp.setOut = true
			}
		}

		switch {
		case len(dg.Commands) > 0:
			pp.commands = make(map[string]*model.CommandView, len(dg.Commands))
			for _, c := range dg.Commands {
				if c != nil {
					pp.commands[c.Name] = c
				}
			}
		case prev != nil:
			pp.commands = prev.Commands
		}

		pp.windows = d.planWindows(prev, dg)
		plan.procs = append(plan.procs, pp)
		if dg.Changed || i == len(resp.Procedures)-1 {
			plan.refresh = append(plan.refresh, pp)
		}
	}
	return plan
}

func (d *Dialog) planWindows(prev *model.Procedure, dg *model.ProcedureDigest) []*winPlan {
	var incoming []*model.Window
	fromDigest := len(dg.Windows) > 0
	switch {
	case fromDigest:
		for _, s := range dg.Windows {
			w, err := decodeWindow(s)
			if err != nil {
				d.logger.Warn("dropping undecodable window", zap.String("procedure", dg.Name), zap.Error(err))
				continue
			}
			if w.Visible != nil && !*w.Visible {
				continue
			}
			if w.WindowState != "" && w.WindowState != model.WindowOpened {
				continue
			}
			incoming = append(incoming, w)
		}
	case prev != nil && len(prev.Windows) > 0:
		incoming = append(incoming, prev.Windows...)
	case dg.Type == model.ProcedureOnline:
		incoming = []*model.Window{{Name: dg.Name}}
	}

	plans := make([]*winPlan, 0, len(incoming))
	for _, w := range incoming {
		var pw *model.Window
		if prev != nil {
			pw = prev.Window(w.Name)
		}
		wp := &winPlan{incoming: w, target: pw}
		if pw == nil {
			wp.target = &model.Window{}
		}

		if w.Controls != nil && !w.Digest {
			wp.controls = w.Controls
			wp.fresh = fromDigest
			wp.focused = w.Focused
		} else {
			if pw != nil {
				wp.controls = pw.Controls
			}
			wp.focused = w.Focused
			if wp.focused == "" && pw != nil {
				wp.focused = pw.Focused
			}
		}

		switch {
		case pw != nil:
			wp.id = pw.ID
		case dg.Type == model.ProcedureOnline && prev != nil && len(prev.Windows) == 1:
			wp.id = prev.Windows[0].ID
		default:
			d.nextWindowID++
			wp.id = d.nextWindowID
		}

		wp.needsPage = d.opts.Pages != nil && wp.target.Page == nil
		wp.needsGeometry = d.opts.State != nil && pw == nil && !w.HasGeometry()
		plans = append(plans, wp)
	}
	return plans
}

// decodeWindow converts a window State tree into a Window.
func decodeWindow(s *model.State) (*model.Window, error) {
	raw, err := json.Marshal(codec.FromState(s))
	if err != nil {
		return nil, fmt.Errorf("encode window state: %w", err)
	}
	var w model.Window
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode window: %w", err)
	}
	if w.Name == "" {
		return nil, errors.New("window without name")
	}
	return &w, nil
}

type resolveJob struct {
	wp        *winPlan
	procedure model.Procedure
	window    model.Window
	key       string
}

// resolve looks up missing page components and saved geometry in parallel
// and calls then on the loop once all lookups have finished.
func (d *Dialog) resolve(plan *responsePlan, then func()) {
	var jobs []*resolveJob
	for _, pp := range plan.procs {
		for _, wp := range pp.windows {
			if !wp.needsPage && !wp.needsGeometry {
				continue
			}
			job := &resolveJob{
				wp: wp,
				procedure: model.Procedure{
					ID:   pp.digest.ID,
					Name: pp.digest.Name,
					Type: pp.digest.Type,
				},
				window: *wp.incoming,
			}
			job.window.Procedure = nil
			job.window.Controls = nil
			if wp.needsGeometry {
				job.key = geometryKey(d.index, pp.digest.Name, wp.incoming.Name)
			}
			jobs = append(jobs, job)
		}
	}
	if len(jobs) == 0 {
		then()
		return
	}

	ctx := d.ctx
	pages, state := d.opts.Pages, d.opts.State
	dialect := d.global.CurrentDialect
	logger := d.logger

	loop.Spawn(d.loop, func() (struct{}, error) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelResolves)
		for _, job := range jobs {
			g.Go(func() error {
				if job.wp.needsPage {
					page, err := pages.Resolve(gctx, dialect, &job.procedure, &job.window)
					if err != nil {
						logger.Warn("page resolution failed",
							zap.String("procedure", job.procedure.Name),
							zap.String("window", job.window.Name),
							zap.Error(err))
					} else {
						job.wp.page = page
					}
				}
				if job.key != "" {
					var geom model.Geometry
					found, err := state.Get(gctx, job.key, &geom)
					if err != nil {
						logger.Debug("geometry lookup failed", zap.String("key", job.key), zap.Error(err))
					} else if found {
						job.wp.geometry = &geom
					}
				}
				return nil
			})
		}
		return struct{}{}, g.Wait()
	}, func(struct{}, error) {
		then()
	})
}

// commit applies a plan to the live trees. Procedures and windows that
// survive keep their identity; those that disappear get a zero id so queued
// actions referencing them cancel themselves.
func (d *Dialog) commit(plan *responsePlan) {
	var previous []*model.Window
	for _, p := range d.procedures {
		previous = append(previous, p.Windows...)
	}

	keptProcs := make(map[*model.Procedure]bool, len(plan.procs))
	keptWindows := make(map[*model.Window]bool)
	fresh := make(map[*model.Window]bool)
	procs := make([]*model.Procedure, 0, len(plan.procs))

	for _, pp := range plan.procs {
		p, dg := pp.target, pp.digest
		p.ID, p.Name, p.Type, p.Locked = dg.ID, dg.Name, dg.Type, dg.Locked
		if pp.setIn {
			p.In = pp.in
		}
		if pp.setOut {
			p.Out = pp.out
		}
		p.Commands = pp.commands

		windows := make([]*model.Window, 0, len(pp.windows))
		for _, wp := range pp.windows {
			w := wp.target
			if w != wp.incoming {
				mergeWindow(w, wp.incoming)
			}
			w.ID = wp.id
			w.Procedure = p
			w.Controls = wp.controls
			w.Focused = wp.focused
			if wp.page != nil {
				w.Page = wp.page
			}
			if wp.geometry != nil && !w.HasGeometry() {
				g := *wp.geometry
				w.Left, w.Top, w.Width, w.Height = &g.Left, &g.Top, &g.Width, &g.Height
			}
			windows = append(windows, w)
			keptWindows[w] = true
			if wp.fresh {
				fresh[w] = true
			}
		}
		p.Windows = windows
		procs = append(procs, p)
		keptProcs[p] = true
	}

	for _, w := range previous {
		if !keptWindows[w] {
			d.dropWindow(w)
		}
	}
	for _, p := range d.procedures {
		if !keptProcs[p] {
			p.ID = 0
		}
	}

	d.procedures = procs
	d.rebuildWindows()
	d.lockWindows()
	d.refreshFields(fresh, plan.sent)
}

// lockWindows ranks the displayed windows and locks every window up to
// the last one that is modal or belongs to a locked procedure. Windows of
// procedures that are not loaded yet take no part.
func (d *Dialog) lockWindows() {
	for _, p := range d.procedures {
		if p.Loaded() {
			continue
		}
		for _, w := range p.Windows {
			w.Order, w.Locked = 0, false
		}
	}
	lockIndex := -1
	for i, w := range d.windows {
		if w.Procedure.Locked || w.Modal {
			lockIndex = i
		}
	}
	for i, w := range d.windows {
		w.Order = i
		w.Locked = i <= lockIndex
	}
}

// mergeWindow copies the server supplied attributes of src onto dst.
func mergeWindow(dst, src *model.Window) {
	dst.Name = src.Name
	if src.HasGeometry() {
		dst.Left, dst.Top, dst.Width, dst.Height = src.Left, src.Top, src.Width, src.Height
	}
	dst.Modal = src.Modal
	dst.Resizable = src.Resizable
	dst.Visible = src.Visible
	dst.WindowState = src.WindowState
	dst.DefaultField = src.DefaultField
	dst.Caption = src.Caption
	dst.Digest = src.Digest
	dst.Extras = src.Extras
}

func (d *Dialog) dropWindow(w *model.Window) {
	w.ID = 0
	w.Active = false
	delete(d.views, w)
	for _, f := range d.fields[w] {
		f.released = true
	}
	delete(d.fields, w)
}

// rebuildWindows flattens the windows of every loaded procedure, most
// recent last.
func (d *Dialog) rebuildWindows() {
	d.windows = d.windows[:0]
	for _, p := range d.procedures {
		if p.Loaded() {
			d.windows = append(d.windows, p.Windows...)
		}
	}
}

// refreshFields moves field baselines to what the server now knows. Fields
// of windows that received fresh controls start over from the server
// values; fields whose values travelled with the request take the values
// sent. Every other field keeps its baseline so unsent edits survive.
func (d *Dialog) refreshFields(fresh map[*model.Window]bool, sent *sentControls) {
	for w, fields := range d.fields {
		switch {
		case fresh[w]:
			for name, f := range fields {
				f.initial = nil
				if c := w.Controls[name]; c != nil {
					f.initial = c.Value
				}
			}
		case sent != nil && sent.window == w:
			for name, f := range fields {
				if v, ok := sent.values[name]; ok {
					f.initial = v
				}
			}
		}
	}
}

func (d *Dialog) dispatch(plan *responsePlan) *loop.Future[bool] {
	resp := plan.resp
	switch resp.ResponseType {
	case model.ResponseNavigate:
		d.updateDialog(resp)
		d.deactivateLocked()
		d.cancelQueued(func(it *queueItem) bool {
			switch it.params.Action {
			case model.RequestEvent, model.RequestCommand, model.RequestHelp:
				return true
			}
			return false
		})
		for i := len(plan.refresh) - 1; i >= 0; i-- {
			d.handle(HandleParams{
				Action:    model.RequestGet,
				Procedure: plan.refresh[i].target,
				Validate:  model.MayBeInvalid,
			})
		}
		return loop.Resolved(true)

	case model.ResponseMessageBox:
		d.updateDialog(resp)
		for _, w := range d.windows {
			w.Active = false
		}
		return d.serverMessageBox(resp)

	default:
		d.updateDialog(resp)
		d.activateTrailing()
		return loop.Resolved(true)
	}
}

// activateTrailing makes the most recent window the only active one.
func (d *Dialog) activateTrailing() {
	for _, w := range d.windows {
		w.Active = false
	}
	if n := len(d.windows); n > 0 {
		last := d.windows[n-1]
		last.Active = true
		last.Locked = false
	}
}

func (d *Dialog) deactivateLocked() {
	for _, w := range d.windows {
		if w.Locked {
			w.Active = false
		}
	}
}

// end terminates the dialog: everything queued is canceled and the trees
// are cleared.
func (d *Dialog) end() {
	d.setState(model.StateEnded)
	d.cancelQueued(func(*queueItem) bool { return true })
	d.flushWanted = false
	if d.flushTimer != nil {
		d.flushTimer.Stop()
		d.flushTimer = nil
	}
	if a := d.activation; a != nil {
		a.timer.Stop()
		a.result.Resolve(false)
		d.activation = nil
	}
	for _, p := range d.procedures {
		for _, w := range p.Windows {
			d.dropWindow(w)
		}
		p.ID = 0
	}
	d.procedures = nil
	d.windows = nil
	d.notify()
}

func (d *Dialog) launch(cmds []model.LaunchCommand) {
	for _, cmd := range cmds {
		if d.opts.Launcher == nil {
			d.logger.Info("launch command ignored", zap.String("url", cmd.URL), zap.String("type", cmd.Type))
			continue
		}
		launcher, ctx := d.opts.Launcher, d.ctx
		loop.Spawn(d.loop, func() (struct{}, error) {
			return struct{}{}, launcher.Launch(ctx, cmd)
		}, func(_ struct{}, err error) {
			if err != nil {
				d.logger.Warn("launch failed", zap.String("url", cmd.URL), zap.Error(err))
			}
		})
	}
}

func geometryKey(index, procedure, window string) string {
	return fmt.Sprintf("geometry/%s/%s/%s", index, procedure, window)
}
