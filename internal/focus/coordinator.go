package focus

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/model"
)

// Host is the dialog as seen by the coordinator. All methods are called on
// the dialog loop.
type Host interface {
	// Idle reports that the queue is empty and no request is pending.
	Idle() bool
	ActiveView() View
	// Views returns the rendered views in display order.
	Views() []View
	// Windows returns the flat window list in display order.
	Windows() []*model.Window
	// Settle marks the active form pristine and clears the alert-closed flag.
	Settle()
	Activate(w *model.Window)
	Close(w *model.Window)
}

// ActionKind is the outcome of routing a key.
type ActionKind int

const (
	// ActionNone means no binding matched.
	ActionNone ActionKind = iota
	// ActionNative leaves the key to the UI's default handling.
	ActionNative
	ActionClick
	ActionFocusWindow
	ActionClose
)

// Action is a routed key press.
type Action struct {
	Kind    ActionKind
	View    View
	Element string
	Window  *model.Window
}

// Options configures a Coordinator.
type Options struct {
	Debounce   time.Duration
	NextWindow Combo
	PrevWindow Combo
}

// Coordinator owns focus placement and keyboard routing for one dialog.
type Coordinator struct {
	loop       *loop.Loop
	host       Host
	logger     *zap.Logger
	opts       Options
	timer      loop.Timer
	suppressed bool
}

// New creates a coordinator bound to the dialog loop.
func New(l *loop.Loop, host Host, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{loop: l, host: host, logger: logger, opts: opts}
}

// Suppressed reports whether the coordinator is moving focus itself. Focus
// and blur handlers must ignore events while it is true.
func (c *Coordinator) Suppressed() bool {
	return c.suppressed
}

// UpdateView schedules a focus pass after the debounce interval, replacing
// any pass already scheduled.
func (c *Coordinator) UpdateView() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.loop.AfterFunc(c.opts.Debounce, c.settle)
}

func (c *Coordinator) settle() {
	c.timer = nil
	if !c.host.Idle() {
		return
	}
	view := c.host.ActiveView()
	c.host.Settle()
	if view != nil {
		c.FocusView(view)
	}
}

// FocusView moves focus to the best element of view.
func (c *Coordinator) FocusView(view View) {
	target, ok := Target(view.Window(), view.Elements())
	if !ok {
		return
	}
	c.suppressed = true
	defer func() { c.suppressed = false }()
	view.Focus(target.ID)
	c.logger.Debug("focus moved", zap.String("element", target.ID), zap.String("window", windowName(view)))
}

// HandleKey routes ev and performs the resulting action. It reports whether
// the key was consumed.
func (c *Coordinator) HandleKey(ev KeyEvent) bool {
	a := c.Route(ev)
	switch a.Kind {
	case ActionClick:
		a.View.Click(a.Element)
	case ActionFocusWindow:
		c.host.Activate(a.Window)
	case ActionClose:
		c.host.Close(a.Window)
	default:
		return false
	}
	return true
}

// Route decides what a key press does without performing it.
func (c *Coordinator) Route(ev KeyEvent) Action {
	if c.opts.NextWindow.Matches(ev) {
		return c.cycle(1)
	}
	if c.opts.PrevWindow.Matches(ev) {
		return c.cycle(-1)
	}

	key := normaliseKey(ev.Key)
	active := c.host.ActiveView()

	switch {
	case key == "Tab":
		return Action{Kind: ActionNative}

	case key == "F4" && ev.Shift && !ev.Ctrl && !ev.Alt:
		if active != nil {
			w := active.Window()
			if w != nil && w.Procedure != nil && w.Procedure.Type == model.ProcedureWindow {
				return Action{Kind: ActionClose, Window: w}
			}
		}
		return Action{Kind: ActionNative}

	case isFunctionKey(key):
		combo := ComboOf(ev).String()
		if a, ok := c.findKey(active, func(e Element) bool {
			return strings.EqualFold(e.AccessKey, combo)
		}); ok {
			return a
		}
		return Action{Kind: ActionNative}

	case key == "Enter" && !ev.Ctrl && !ev.Alt:
		if active == nil {
			return Action{Kind: ActionNative}
		}
		elements := active.Elements()
		if t, ok := find(elements, func(e Element) bool { return e.ID == ev.Target }); ok {
			switch t.Kind {
			case KindButton, KindLink, KindTextArea:
				return Action{Kind: ActionNative}
			}
		}
		w := active.Window()
		if w == nil || w.DefaultField == "" {
			return Action{Kind: ActionNative}
		}
		if d, ok := find(elements, func(e Element) bool { return e.Name == w.DefaultField }); ok {
			return Action{Kind: ActionClick, View: active, Element: d.ID}
		}
		return Action{Kind: ActionNative}

	case ev.Alt && isDigit(key):
		if a, ok := c.findKey(active, func(e Element) bool {
			return e.Shortcut == key || e.AccessKey == key
		}); ok {
			return a
		}
	}
	return Action{Kind: ActionNone}
}

// findKey looks for a matching element in the active view first and then in
// every view.
func (c *Coordinator) findKey(active View, match func(Element) bool) (Action, bool) {
	if active != nil {
		if e, ok := find(active.Elements(), match); ok {
			return Action{Kind: ActionClick, View: active, Element: e.ID}, true
		}
	}
	for _, v := range c.host.Views() {
		if v == active {
			continue
		}
		if e, ok := find(v.Elements(), match); ok {
			return Action{Kind: ActionClick, View: v, Element: e.ID}, true
		}
	}
	return Action{}, false
}

// cycle walks the unlocked windows from the active one, wrapping around.
func (c *Coordinator) cycle(step int) Action {
	var candidates []*model.Window
	current := -1
	for _, w := range c.host.Windows() {
		if w.Locked {
			continue
		}
		if w.Active {
			current = len(candidates)
		}
		candidates = append(candidates, w)
	}
	n := len(candidates)
	if n == 0 {
		return Action{Kind: ActionNone}
	}
	var next int
	switch {
	case current < 0 && step > 0:
		next = 0
	case current < 0:
		next = n - 1
	default:
		next = ((current+step)%n + n) % n
	}
	if next == current {
		return Action{Kind: ActionNone}
	}
	return Action{Kind: ActionFocusWindow, Window: candidates[next]}
}

func find(elements []Element, match func(Element) bool) (Element, bool) {
	for _, e := range elements {
		if match(e) {
			return e, true
		}
	}
	return Element{}, false
}

func windowName(v View) string {
	if w := v.Window(); w != nil {
		return w.Name
	}
	return ""
}
