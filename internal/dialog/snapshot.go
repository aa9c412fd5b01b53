package dialog

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitabwire/cooldialog/model"
)

// ErrNotFound is returned by Lookup when no live procedure or window
// matches.
var ErrNotFound = errors.New("dialog: not found")

// Snapshot is a copy of the dialog view model. It shares nothing with the
// live trees and may be read from any goroutine.
type Snapshot struct {
	ID         string            `json:"id"`
	State      model.DialogState `json:"state"`
	Mode       string            `json:"mode,omitempty"`
	Index      string            `json:"index,omitempty"`
	Global     *model.Global     `json:"global"`
	Procedures []ProcedureView   `json:"procedures"`
	Queued     int               `json:"queued"`
	Pending    int               `json:"pending"`
}

// ProcedureView is a procedure in a Snapshot.
type ProcedureView struct {
	ID         int64                        `json:"id"`
	Name       string                       `json:"name"`
	Type       model.ProcedureType          `json:"type"`
	In         any                          `json:"in,omitempty"`
	Out        any                          `json:"out,omitempty"`
	PageSize   *int                         `json:"pageSize,omitempty"`
	ScrollSize *int                         `json:"scrollSize,omitempty"`
	PageOffset *int                         `json:"pageOffset,omitempty"`
	Locked     bool                         `json:"locked,omitempty"`
	Commands   map[string]model.CommandView `json:"commands,omitempty"`
	Windows    []WindowView                 `json:"windows,omitempty"`
}

// WindowView is a window in a Snapshot.
type WindowView struct {
	ID           int64                    `json:"id"`
	Name         string                   `json:"name"`
	Caption      string                   `json:"caption,omitempty"`
	Active       bool                     `json:"active"`
	Locked       bool                     `json:"locked,omitempty"`
	Order        int                      `json:"order"`
	Focused      string                   `json:"focused,omitempty"`
	DefaultField string                   `json:"defaultField,omitempty"`
	Geometry     *model.Geometry          `json:"geometry,omitempty"`
	Controls     map[string]model.Control `json:"controls,omitempty"`
	Page         any                      `json:"page,omitempty"`
	Extras       map[string]any           `json:"extras,omitempty"`
}

// Snapshot returns a copy of the current view model. In and Out views are
// shared read-only: reconciliation replaces them rather than mutating them.
func (d *Dialog) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := d.loop.Call(ctx, func() {
		s = Snapshot{
			ID:      d.id,
			State:   d.state.Display(),
			Mode:    d.mode,
			Index:   d.index,
			Global:  d.global.Clone(),
			Queued:  len(d.queue),
			Pending: d.pending,
		}
		for _, p := range d.procedures {
			s.Procedures = append(s.Procedures, procedureView(p))
		}
	})
	return s, err
}

// Lookup returns the live procedure with id and, when window is not empty,
// its window of that name. The returned pointers may only be passed back
// to dialog methods; their fields belong to the loop.
func (d *Dialog) Lookup(ctx context.Context, procedureID int64, window string) (*model.Procedure, *model.Window, error) {
	var (
		proc *model.Procedure
		win  *model.Window
	)
	err := d.loop.Call(ctx, func() {
		for _, p := range d.procedures {
			if p.ID == procedureID && p.ID != 0 {
				proc = p
				break
			}
		}
		if proc != nil && window != "" {
			win = proc.Window(window)
		}
	})
	switch {
	case err != nil:
		return nil, nil, err
	case proc == nil:
		return nil, nil, fmt.Errorf("%w: procedure %d", ErrNotFound, procedureID)
	case window != "" && win == nil:
		return nil, nil, fmt.Errorf("%w: window %q of procedure %d", ErrNotFound, window, procedureID)
	}
	return proc, win, nil
}

// Windows returns the live windows in display order, with the same
// ownership rules as Lookup.
func (d *Dialog) Windows(ctx context.Context) ([]*model.Window, error) {
	var out []*model.Window
	err := d.loop.Call(ctx, func() {
		out = append(out, d.windows...)
	})
	return out, err
}

func procedureView(p *model.Procedure) ProcedureView {
	v := ProcedureView{
		ID:         p.ID,
		Name:       p.Name,
		Type:       p.Type,
		In:         p.In,
		Out:        p.Out,
		PageSize:   copyInt(p.PageSize),
		ScrollSize: copyInt(p.ScrollSize),
		PageOffset: copyInt(p.PageOffset),
		Locked:     p.Locked,
	}
	if len(p.Commands) > 0 {
		v.Commands = make(map[string]model.CommandView, len(p.Commands))
		for k, c := range p.Commands {
			if c != nil {
				v.Commands[k] = *c
			}
		}
	}
	for _, w := range p.Windows {
		v.Windows = append(v.Windows, windowView(w))
	}
	return v
}

func windowView(w *model.Window) WindowView {
	v := WindowView{
		ID:           w.ID,
		Name:         w.Name,
		Caption:      w.Caption,
		Active:       w.Active,
		Locked:       w.Locked,
		Order:        w.Order,
		Focused:      w.Focused,
		DefaultField: w.DefaultField,
		Page:         w.Page,
		Extras:       w.Extras,
	}
	if w.HasGeometry() {
		v.Geometry = &model.Geometry{Left: *w.Left, Top: *w.Top, Width: *w.Width, Height: *w.Height}
	}
	if len(w.Controls) > 0 {
		v.Controls = make(map[string]model.Control, len(w.Controls))
		for k, c := range w.Controls {
			if c != nil {
				v.Controls[k] = *c
			}
		}
	}
	return v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
