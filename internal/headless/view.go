package headless

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pitabwire/cooldialog/internal/dialog"
	"github.com/pitabwire/cooldialog/internal/focus"
	"github.com/pitabwire/cooldialog/model"
)

// Element id prefixes.
const (
	controlPrefix = "ctl:"
	commandPrefix = "cmd:"
)

// commandDefault marks the command performing a window's main action.
const commandDefault = "Default"

// View renders a window as a flat element list: its controls followed by
// its procedure's visible commands. A command's shortcut becomes its access
// key, so function keys reach it through the keyboard coordinator.
//
// Elements, Focus and Click run on the dialog loop. SetValue and Focused may
// be called from any goroutine.
type View struct {
	d     *dialog.Dialog
	w     *model.Window
	dirty atomic.Bool

	mu      sync.Mutex
	focused string
	fields  map[string]*dialog.Field
}

var (
	_ focus.View  = (*View)(nil)
	_ dialog.Form = (*View)(nil)
)

// NewView creates the view of w.
func NewView(d *dialog.Dialog, w *model.Window) *View {
	return &View{d: d, w: w, fields: make(map[string]*dialog.Field)}
}

// Window returns the window the view renders.
func (v *View) Window() *model.Window { return v.w }

// Elements lists controls by name, then commands by name.
func (v *View) Elements() []focus.Element {
	var out []focus.Element

	names := make([]string, 0, len(v.w.Controls))
	for name, c := range v.w.Controls {
		if c == nil || (c.Visible != nil && !*c.Visible) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := v.w.Controls[name]
		out = append(out, focus.Element{
			ID:        controlPrefix + name,
			Name:      name,
			Kind:      focus.KindInput,
			Focusable: !c.IsDisabled() && !c.ReadOnly,
		})
	}

	if p := v.w.Procedure; p != nil {
		cmds := make([]string, 0, len(p.Commands))
		for name, c := range p.Commands {
			if c == nil || c.Hidden {
				continue
			}
			cmds = append(cmds, name)
		}
		sort.Strings(cmds)
		for _, name := range cmds {
			c := p.Commands[name]
			out = append(out, focus.Element{
				ID:        commandPrefix + name,
				Name:      name,
				Kind:      focus.KindCommand,
				Focusable: !c.Disabled,
				Action:    c.Type == commandDefault,
				AccessKey: c.Shortcut,
			})
		}
	}
	return out
}

// Focus records the focused element.
func (v *View) Focus(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.focused = id
}

// Focused returns the id of the focused element.
func (v *View) Focused() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.focused
}

// Click performs a command element or sends a click on a control.
func (v *View) Click(id string) {
	switch {
	case strings.HasPrefix(id, commandPrefix):
		v.d.Handle(dialog.HandleParams{
			Action:    model.RequestCommand,
			Command:   strings.TrimPrefix(id, commandPrefix),
			Procedure: v.w.Procedure,
			Window:    v.w,
			Validate:  model.ShowInvalid,
		})
	case strings.HasPrefix(id, controlPrefix):
		v.d.Handle(dialog.HandleParams{
			Action:    model.RequestEvent,
			Type:      model.EventClick,
			Procedure: v.w.Procedure,
			Window:    v.w,
			Component: strings.TrimPrefix(id, controlPrefix),
			Validate:  model.MayBeInvalid,
		})
	}
}

// SetValue updates control name, binding it on first use.
func (v *View) SetValue(name string, value any) {
	v.mu.Lock()
	f := v.fields[name]
	if f == nil {
		f = v.d.BindField(v.w, name)
		v.fields[name] = f
	}
	v.mu.Unlock()

	f.Update(value)
	v.dirty.Store(true)
}

// Release unbinds every field of the view.
func (v *View) Release() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for name, f := range v.fields {
		f.Release()
		delete(v.fields, name)
	}
}

// Dirty reports whether a value changed since the last settle.
func (v *View) Dirty() bool { return v.dirty.Load() }

// Valid reports true; headless input is validated by the server.
func (v *View) Valid() bool { return true }

// Errors returns no validation errors.
func (v *View) Errors() []string { return nil }

// MarkPristine clears the dirty flag.
func (v *View) MarkPristine() { v.dirty.Store(false) }
