package dialog

import (
	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/model"
)

// Field binds a UI element to a control of a window. The value the field
// was bound with is the baseline used to decide whether the control is
// sent back to the server.
type Field struct {
	d        *Dialog
	window   *model.Window
	name     string
	initial  any
	released bool
}

// BindField binds the control name of window w. The binding is registered
// on the loop; the returned field may be used immediately.
func (d *Dialog) BindField(w *model.Window, name string) *Field {
	f := &Field{d: d, window: w, name: name}
	d.loop.Post(func() {
		if w.ID == 0 {
			f.released = true
			return
		}
		if c := w.Controls[name]; c != nil {
			f.initial = c.Value
		}
		bound := d.fields[w]
		if bound == nil {
			bound = make(map[string]*Field)
			d.fields[w] = bound
		}
		if old := bound[name]; old != nil && old != f {
			old.released = true
		}
		bound[name] = f
	})
	return f
}

// Name returns the control name.
func (f *Field) Name() string {
	return f.name
}

// Window returns the window the field belongs to.
func (f *Field) Window() *model.Window {
	return f.window
}

// Update sets the control value.
func (f *Field) Update(value any) {
	f.d.loop.Post(func() {
		if c := f.control(); c != nil {
			c.Value = value
			f.d.notify()
		}
	})
}

// SetDisabledState records a dynamic disabled state for the control. The
// state travels with the next request.
func (f *Field) SetDisabledState(disabled bool) {
	f.d.loop.Post(func() {
		if c := f.control(); c != nil {
			c.DisabledState = &disabled
			f.d.notify()
		}
	})
}

// Release unbinds the field. Later updates are ignored.
func (f *Field) Release() {
	f.d.loop.Post(func() {
		f.released = true
		if bound := f.d.fields[f.window]; bound[f.name] == f {
			delete(bound, f.name)
			if len(bound) == 0 {
				delete(f.d.fields, f.window)
			}
		}
	})
}

// Handle queues an action on behalf of the field. The field, its window
// and procedure are filled in.
func (f *Field) Handle(p HandleParams) *loop.Future[bool] {
	p.Field = f
	p.Window = f.window
	if p.Procedure == nil {
		p.Procedure = f.window.Procedure
	}
	if p.Component == "" {
		p.Component = f.name
	}
	return f.d.Handle(p)
}

// control returns the bound control, creating it when the window does not
// carry one yet. It runs on the loop.
func (f *Field) control() *model.Control {
	if f.released || f.window.ID == 0 {
		return nil
	}
	if f.window.Controls == nil {
		f.window.Controls = make(map[string]*model.Control)
	}
	c := f.window.Controls[f.name]
	if c == nil {
		c = &model.Control{Name: f.name}
		f.window.Controls[f.name] = c
	}
	return c
}
