// Package dialog implements the dialog engine: it queues user actions, turns
// them into server round trips, reconciles responses into the live
// procedure and window trees and tracks the dialog lifecycle.
//
// All dialog state is owned by a single loop goroutine. Exported methods are
// safe to call from any goroutine; they post work onto the loop and report
// results through futures.
package dialog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/focus"
	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/internal/observability"
	"github.com/pitabwire/cooldialog/model"
)

// Options configures a Dialog. Only Client is required; missing
// collaborators fall back to headless behaviour.
type Options struct {
	Client     model.Client
	Location   model.DialogLocation
	Pages      model.PageResolver
	MessageBox model.MessageBoxService
	UploadBox  model.UploadBoxService
	Errors     model.ErrorHandler
	Launcher   model.LaunchService
	State      model.StateService

	Clock   loop.Clock
	Logger  *zap.Logger
	Metrics *observability.Metrics

	Dialect          string
	ActivateDebounce time.Duration
	FocusDebounce    time.Duration
	NextWindow       focus.Combo
	PrevWindow       focus.Combo

	// Messages maps validation error codes to alert text. The empty key
	// holds the fallback message.
	Messages map[string]string
}

// Form is implemented by views that host editable input.
type Form interface {
	Dirty() bool
	Valid() bool
	// Errors returns the validation error codes of the form.
	Errors() []string
	MarkPristine()
}

// ErrNoClient is returned by New when Options.Client is nil.
var ErrNoClient = errors.New("dialog: client is required")

const defaultInvalidMessage = "The form contains invalid values."

// Dialog is one running COOL dialog session.
type Dialog struct {
	id      string
	opts    Options
	loop    *loop.Loop
	logger  *zap.Logger
	metrics *observability.Metrics
	focus   *focus.Coordinator
	ctx     context.Context

	state      model.DialogState
	mode       string
	index      string
	global     *model.Global
	procedures []*model.Procedure
	windows    []*model.Window
	views      map[*model.Window]focus.View
	fields     map[*model.Window]map[string]*Field

	queue       []*queueItem
	pending     int
	flushWanted bool
	flushTimer  loop.Timer
	flushSeq    int

	nextWindowID int64
	activation   *activation
	alertClosed  bool

	subsMu  sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// New creates a dialog. Call Run to start processing.
func New(opts Options) (*Dialog, error) {
	if opts.Client == nil {
		return nil, ErrNoClient
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	id := uuid.NewString()
	logger := opts.Logger.With(zap.String("dialog_id", id))
	d := &Dialog{
		id:      id,
		opts:    opts,
		loop:    loop.New(opts.Clock, logger),
		logger:  logger,
		metrics: opts.Metrics,
		ctx:     context.Background(),
		global:  &model.Global{CurrentDialect: opts.Dialect},
		views:   make(map[*model.Window]focus.View),
		fields:  make(map[*model.Window]map[string]*Field),
		subs:    make(map[int]chan struct{}),
	}
	d.focus = focus.New(d.loop, host{d}, focus.Options{
		Debounce:   opts.FocusDebounce,
		NextWindow: opts.NextWindow,
		PrevWindow: opts.PrevWindow,
	}, logger)
	return d, nil
}

// ID returns the dialog id.
func (d *Dialog) ID() string {
	return d.id
}

// Run processes dialog work until ctx is done.
func (d *Dialog) Run(ctx context.Context) error {
	d.ctx = observability.WithLogger(ctx, d.logger)
	d.metrics.AddActiveDialogs(1)
	defer d.metrics.AddActiveDialogs(-1)
	return d.loop.Run(ctx)
}

// Done is closed once Run has returned.
func (d *Dialog) Done() <-chan struct{} {
	return d.loop.Done()
}

// Call runs f on the dialog loop and waits for it. f may read and mutate
// dialog state but must not block.
func (d *Dialog) Call(ctx context.Context, f func()) error {
	return d.loop.Call(ctx, f)
}

// post runs f on the loop and returns a future resolved with its result.
func (d *Dialog) post(f func() *loop.Future[bool]) *loop.Future[bool] {
	out := loop.NewFuture[bool]()
	d.loop.Post(func() { f().Pipe(out) })
	return out
}

func (d *Dialog) setState(s model.DialogState) {
	if d.state == s {
		return
	}
	d.logger.Debug("dialog state changed",
		zap.String("from", string(d.state.Display())),
		zap.String("to", string(s.Display())))
	d.state = s
	d.metrics.RecordStateTransition(string(s.Display()))
	d.notify()
}

// restoreState leaves a transient state once the condition that caused it
// is over.
func (d *Dialog) restoreState() {
	switch {
	case d.state == model.StateEnded:
	case d.pending > 0:
		d.setState(model.StatePending)
	default:
		d.setState(model.StateNone)
	}
}

func (d *Dialog) addPending(delta int) {
	d.pending += delta
	switch {
	case d.pending > 0 && (d.state == model.StateNone || d.state == model.StateReady):
		d.setState(model.StatePending)
	case d.pending == 0 && d.state == model.StatePending:
		d.setState(model.StateNone)
	}
}

// Subscribe returns a channel signalled after the view model changes and a
// function that ends the subscription. Signals coalesce; read a Snapshot to
// see the current state.
func (d *Dialog) Subscribe() (<-chan struct{}, func()) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	id := d.nextSub
	d.nextSub++
	ch := make(chan struct{}, 1)
	d.subs[id] = ch
	return ch, func() {
		d.subsMu.Lock()
		defer d.subsMu.Unlock()
		delete(d.subs, id)
	}
}

func (d *Dialog) notify() {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// activeWindow returns the active window, if any.
func (d *Dialog) activeWindow() *model.Window {
	for _, w := range d.windows {
		if w.Active {
			return w
		}
	}
	return nil
}

func (d *Dialog) activeView() focus.View {
	if w := d.activeWindow(); w != nil {
		return d.views[w]
	}
	return nil
}

// formFor returns the form bound to w, or the active form when w is nil.
func (d *Dialog) formFor(w *model.Window) Form {
	var v focus.View
	if w != nil {
		v = d.views[w]
	} else {
		v = d.activeView()
	}
	f, _ := v.(Form)
	return f
}

// AttachView registers the rendered view of a window.
func (d *Dialog) AttachView(v focus.View) {
	d.loop.Post(func() {
		if w := v.Window(); w != nil && w.ID != 0 {
			d.views[w] = v
		}
	})
}

// DetachView removes a view registered with AttachView.
func (d *Dialog) DetachView(v focus.View) {
	d.loop.Post(func() {
		if w := v.Window(); w != nil && d.views[w] == v {
			delete(d.views, w)
		}
	})
}

// HandleKey routes a key press through the keyboard coordinator. The
// future reports whether a binding consumed the key.
func (d *Dialog) HandleKey(ev focus.KeyEvent) *loop.Future[bool] {
	return d.post(func() *loop.Future[bool] {
		return loop.Resolved(d.focus.HandleKey(ev))
	})
}

// FocusSuppressed reports whether focus is being moved by the coordinator.
// It must be called from the loop, as focus handlers invoked by a view do.
func (d *Dialog) FocusSuppressed() bool {
	return d.focus.Suppressed()
}

// host adapts the dialog to the focus coordinator. Its methods run on the
// loop.
type host struct{ d *Dialog }

func (h host) Idle() bool {
	return len(h.d.queue) == 0 && h.d.pending == 0
}

func (h host) ActiveView() focus.View {
	return h.d.activeView()
}

func (h host) Views() []focus.View {
	var out []focus.View
	for _, w := range h.d.windows {
		if v, ok := h.d.views[w]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (h host) Windows() []*model.Window {
	return h.d.windows
}

func (h host) Settle() {
	if f := h.d.formFor(nil); f != nil {
		f.MarkPristine()
	}
	h.d.alertClosed = false
}

func (h host) Activate(w *model.Window) {
	h.d.activate(w)
}

func (h host) Close(w *model.Window) {
	h.d.close(w)
}
