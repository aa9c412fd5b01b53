// Package focus decides which element receives input focus after a round
// trip settles and routes keyboard input to access keys, shortcuts and window
// navigation.
package focus

import (
	"sort"

	"github.com/pitabwire/cooldialog/model"
)

// Kind classifies an element for focus and key routing.
type Kind int

const (
	KindInput Kind = iota
	KindButton
	KindLink
	KindTextArea
	KindCommand
	KindOther
)

// Rect is the rendered position of an element.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Element is one focusable thing rendered in a view. Order within a view's
// element list is document order.
type Element struct {
	ID        string
	Name      string
	Kind      Kind
	TabIndex  int
	Focusable bool
	// Error marks an element that failed validation.
	Error bool
	// Priority is an explicit focus priority; higher wins, zero means none.
	Priority int
	// Action marks a command element that performs the window's action.
	Action    bool
	Rect      Rect
	AccessKey string
	Shortcut  string
}

// Tabbable reports whether the element takes part in tab order.
func (e Element) Tabbable() bool {
	return e.Focusable && e.TabIndex >= 0
}

// View is the rendered surface of one window.
type View interface {
	Window() *model.Window
	Elements() []Element
	Focus(id string)
	Click(id string)
}

// TabOrder returns the tabbable elements in tab order: positive tab indexes
// ascending, then the rest in document order.
func TabOrder(elements []Element) []Element {
	var positive, natural []Element
	for _, e := range elements {
		if !e.Tabbable() {
			continue
		}
		if e.TabIndex > 0 {
			positive = append(positive, e)
		} else {
			natural = append(natural, e)
		}
	}
	sort.SliceStable(positive, func(i, j int) bool {
		return positive[i].TabIndex < positive[j].TabIndex
	})
	return append(positive, natural...)
}

// Target picks the element that should receive focus in a freshly settled
// view. The order is: an element flagged with an error, the highest explicit
// priority, the window's focused control, the first input in tab order, the
// first action command, and finally the geometrically first tabbable element.
func Target(w *model.Window, elements []Element) (Element, bool) {
	for _, e := range elements {
		if e.Focusable && e.Error {
			return e, true
		}
	}

	best := -1
	for i, e := range elements {
		if e.Focusable && e.Priority > 0 && (best < 0 || e.Priority > elements[best].Priority) {
			best = i
		}
	}
	if best >= 0 {
		return elements[best], true
	}

	if w != nil && w.Focused != "" {
		for _, e := range elements {
			if e.Focusable && e.Name == w.Focused {
				return e, true
			}
		}
	}

	ordered := TabOrder(elements)
	for _, e := range ordered {
		if e.Kind == KindInput || e.Kind == KindTextArea {
			return e, true
		}
	}

	for _, e := range elements {
		if e.Focusable && e.Kind == KindCommand && e.Action {
			return e, true
		}
	}

	if len(ordered) == 0 {
		return Element{}, false
	}
	geometric := append([]Element(nil), ordered...)
	sort.SliceStable(geometric, func(i, j int) bool {
		a, b := geometric[i].Rect, geometric[j].Rect
		if a.Top != b.Top {
			return a.Top < b.Top
		}
		return a.Left < b.Left
	})
	return geometric[0], true
}
