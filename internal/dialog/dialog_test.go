package dialog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/cooldialog/internal/dialog/dialogtest"
	"github.com/pitabwire/cooldialog/internal/focus"
	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/model"
)

const waitTimeout = 2 * time.Second

type harness struct {
	d      *Dialog
	client *dialogtest.Client
	clock  *loop.ManualClock
}

func newHarness(t *testing.T, h dialogtest.Handler, configure func(*Options)) *harness {
	t.Helper()
	client := dialogtest.NewClient(h)
	clock := loop.NewManualClock(time.Unix(0, 0))
	opts := Options{Client: client, Clock: clock}
	if configure != nil {
		configure(&opts)
	}
	d, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{d: d, client: client, clock: clock}
}

func wait(t *testing.T, f *loop.Future[bool]) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	v, err := f.Wait(ctx)
	require.NoError(t, err, "future did not resolve")
	return v
}

// barrier returns once every task posted before it has run.
func (h *harness) barrier(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.d.Call(ctx, func() {}))
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.d.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func (h *harness) lookup(t *testing.T, id int64, window string) (*model.Procedure, *model.Window) {
	t.Helper()
	p, w, err := h.d.Lookup(context.Background(), id, window)
	require.NoError(t, err)
	return p, w
}

func (h *harness) last(t *testing.T) *model.Request {
	t.Helper()
	reqs := h.client.Requests()
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

func ordersResponse() *model.Response {
	return dialogtest.Response(1,
		dialogtest.Procedure(1, "ORDERS", dialogtest.Window("MAIN", map[string]any{"customer": "ACME"})))
}

// started returns a harness whose dialog shows ORDERS/MAIN.
func started(t *testing.T, h dialogtest.Handler, configure func(*Options)) *harness {
	t.Helper()
	if h == nil {
		h = dialogtest.Static(ordersResponse())
	}
	hs := newHarness(t, h, configure)
	require.True(t, wait(t, hs.d.Start("ORDERS", "", nil)))
	return hs
}

func TestNew_requiresClient(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestStart_buildsTrees(t *testing.T) {
	h := started(t, nil, nil)

	req := h.client.Requests()[0]
	assert.Equal(t, model.RequestStart, req.Action)
	assert.Equal(t, "ORDERS", req.Name)
	assert.Equal(t, h.d.ID(), req.DialogID)

	s := h.snapshot(t)
	assert.Equal(t, model.StateReady, s.State)
	require.Len(t, s.Procedures, 1)
	p := s.Procedures[0]
	assert.Equal(t, int64(1), p.ID)
	require.Len(t, p.Windows, 1)
	w := p.Windows[0]
	assert.Equal(t, "MAIN", w.Name)
	assert.NotZero(t, w.ID)
	assert.True(t, w.Active)
	assert.Equal(t, "ACME", w.Controls["customer"].Value)
}

func TestHandle_commandRoundTrip(t *testing.T) {
	h := started(t, nil, nil)
	p, w := h.lookup(t, 1, "MAIN")

	ok := wait(t, h.d.Handle(HandleParams{
		Action:    model.RequestCommand,
		Command:   "SAVE",
		Procedure: p,
		Window:    w,
	}))
	require.True(t, ok)

	req := h.last(t)
	assert.Equal(t, model.RequestEvent, req.Action)
	assert.Equal(t, int64(1), req.ID)
	assert.Equal(t, "ORDERS", req.Name)
	assert.Equal(t, "MAIN", req.Window)
	require.Len(t, req.Events, 1)
	assert.Equal(t, model.EventCommand, req.Events[0].Type)
	assert.Equal(t, "SAVE", req.Events[0].Command)
	assert.Equal(t, model.StateReady, h.snapshot(t).State)
}

func TestHandle_navigateRefreshesChangedProcedures(t *testing.T) {
	both := dialogtest.Response(2,
		dialogtest.Procedure(1, "ORDERS", dialogtest.Window("MAIN", nil)),
		dialogtest.Procedure(2, "DETAIL", dialogtest.Window("LINES", nil)))
	navigate := dialogtest.Response(2,
		dialogtest.Procedure(1, "ORDERS", dialogtest.Window("MAIN", nil)),
		dialogtest.Procedure(2, "DETAIL", dialogtest.Window("LINES", nil)))
	navigate.ResponseType = model.ResponseNavigate
	navigate.Procedures[0].Changed = true
	navigate.Procedures[1].Changed = true

	h := started(t, dialogtest.Script(ordersResponse(), navigate, both), nil)
	p, w := h.lookup(t, 1, "MAIN")

	require.True(t, wait(t, h.d.Handle(HandleParams{
		Action: model.RequestCommand, Command: "DETAIL", Procedure: p, Window: w,
	})))

	require.Eventually(t, func() bool { return len(h.client.Requests()) == 4 },
		waitTimeout, time.Millisecond)
	reqs := h.client.Requests()
	assert.Equal(t, model.RequestGet, reqs[2].Action)
	assert.Equal(t, int64(2), reqs[2].ID)
	assert.Equal(t, model.RequestGet, reqs[3].Action)
	assert.Equal(t, int64(1), reqs[3].ID)
}

func TestHandle_endStopsAcceptingActions(t *testing.T) {
	h := started(t, dialogtest.Script(ordersResponse(), dialogtest.End()), nil)
	p, w := h.lookup(t, 1, "MAIN")

	require.True(t, wait(t, h.d.Handle(HandleParams{
		Action: model.RequestCommand, Command: "EXIT", Procedure: p, Window: w,
	})))

	s := h.snapshot(t)
	assert.Equal(t, model.StateEnded, s.State)
	assert.Empty(t, s.Procedures)

	sent := len(h.client.Requests())
	assert.False(t, wait(t, h.d.Handle(HandleParams{
		Action: model.RequestCommand, Command: "SAVE", Procedure: p, Window: w,
	})))
	assert.False(t, wait(t, h.d.Current(HandleParams{Name: "ORDERS"})))
	assert.Len(t, h.client.Requests(), sent)

	_, _, err := h.d.Lookup(context.Background(), 1, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandle_scrollWithinResultSetStaysLocal(t *testing.T) {
	h := started(t, nil, nil)
	p, w := h.lookup(t, 1, "MAIN")
	h.d.SetPaging(p, 20, 100)

	require.True(t, wait(t, h.d.Handle(HandleParams{
		Action: model.RequestCommand, Command: model.ScrollNext, Procedure: p, Window: w,
	})))
	assert.Len(t, h.client.Requests(), 1)

	pv := h.snapshot(t).Procedures[0]
	require.NotNil(t, pv.PageOffset)
	assert.Equal(t, 20, *pv.PageOffset)

	// Back to the top stays local; one more PREV leaves the result set.
	require.True(t, wait(t, h.d.Handle(HandleParams{
		Action: model.RequestCommand, Command: model.ScrollPrev, Procedure: p, Window: w,
	})))
	require.True(t, wait(t, h.d.Handle(HandleParams{
		Action: model.RequestCommand, Command: model.ScrollPrev, Procedure: p, Window: w,
	})))
	assert.Len(t, h.client.Requests(), 2)
}

func TestHandle_rejectsStaleTargets(t *testing.T) {
	h := started(t, nil, nil)

	assert.False(t, wait(t, h.d.Handle(HandleParams{
		Action:    model.RequestCommand,
		Command:   "SAVE",
		Procedure: &model.Procedure{Name: "GONE"},
	})))
	assert.False(t, wait(t, h.d.Handle(HandleParams{
		Action: model.RequestEvent,
		Type:   model.EventClick,
		Window: &model.Window{Name: "GONE"},
	})))
	assert.Len(t, h.client.Requests(), 1)
}

func TestHandle_deduplicateReplacesQueuedAction(t *testing.T) {
	h := started(t, nil, nil)
	p, w := h.lookup(t, 1, "MAIN")

	change := func(v string) HandleParams {
		return HandleParams{
			Action:      model.RequestEvent,
			Type:        model.EventChange,
			Component:   "customer",
			Value:       v,
			Procedure:   p,
			Window:      w,
			Deduplicate: true,
			Defer:       FlushManual,
		}
	}
	first := h.d.Handle(change("A"))
	second := h.d.Handle(change("AB"))

	assert.False(t, wait(t, first))
	h.barrier(t)
	assert.Equal(t, 1, h.snapshot(t).Queued)
	assert.Len(t, h.client.Requests(), 1)

	require.True(t, wait(t, h.d.Handle(HandleParams{
		Action: model.RequestCommand, Command: "SAVE", Procedure: p, Window: w,
	})))
	assert.True(t, wait(t, second))

	req := h.last(t)
	require.Len(t, req.Events, 2)
	assert.Equal(t, model.EventChange, req.Events[0].Type)
	assert.Equal(t, "AB", req.Events[0].Value)
	assert.Equal(t, "SAVE", req.Events[1].Command)
}

func TestHandle_manualFlushWaitsForNextFlush(t *testing.T) {
	h := started(t, nil, nil)
	p, w := h.lookup(t, 1, "MAIN")

	queued := h.d.Handle(HandleParams{
		Action: model.RequestEvent, Type: model.EventClick, Component: "customer",
		Procedure: p, Window: w, Defer: FlushManual,
	})
	h.barrier(t)
	assert.Len(t, h.client.Requests(), 1)
	_, resolved := queued.Value()
	assert.False(t, resolved)

	// A delayed flush only fires once the clock reaches it.
	click := h.d.Handle(HandleParams{
		Action: model.RequestEvent, Type: model.EventClick, Component: "ok",
		Procedure: p, Window: w, Defer: 100 * time.Millisecond,
	})
	h.barrier(t)
	assert.Len(t, h.client.Requests(), 1)

	h.clock.Advance(100 * time.Millisecond)
	assert.True(t, wait(t, queued))
	assert.True(t, wait(t, click))
	require.Len(t, h.client.Requests(), 2)
	assert.Len(t, h.last(t).Events, 2)
}

func TestHandle_clearQueueCancelsQueued(t *testing.T) {
	h := started(t, nil, nil)
	p, w := h.lookup(t, 1, "MAIN")

	queued := h.d.Handle(HandleParams{
		Action: model.RequestEvent, Type: model.EventClick, Procedure: p, Window: w, Defer: FlushManual,
	})
	closed := h.d.Close(w)

	assert.False(t, wait(t, queued))
	assert.True(t, wait(t, closed))
	req := h.last(t)
	require.Len(t, req.Events, 1)
	assert.Equal(t, model.EventClose, req.Events[0].Type)
}

func TestHandle_canceledBeforeSend(t *testing.T) {
	h := started(t, nil, nil)
	p, w := h.lookup(t, 1, "MAIN")

	stages := make(chan string, 2)
	ok := wait(t, h.d.Handle(HandleParams{
		Action: model.RequestCommand, Command: "SAVE", Procedure: p, Window: w,
		Canceled: func(stage string) bool {
			stages <- stage
			return stage == StageProcess
		},
	}))
	assert.False(t, ok)
	assert.Equal(t, StagePrepare, <-stages)
	assert.Equal(t, StageProcess, <-stages)
	assert.Len(t, h.client.Requests(), 1)
}

type fakeForm struct {
	w     *model.Window
	valid bool
	codes []string
}

func (f *fakeForm) Window() *model.Window     { return f.w }
func (f *fakeForm) Elements() []focus.Element { return nil }
func (f *fakeForm) Focus(string)              {}
func (f *fakeForm) Click(string)              {}
func (f *fakeForm) Dirty() bool               { return true }
func (f *fakeForm) Valid() bool               { return f.valid }
func (f *fakeForm) Errors() []string          { return f.codes }
func (f *fakeForm) MarkPristine()             {}

type fakeBoxes struct {
	mu      sync.Mutex
	answer  string
	err     error
	shown   []model.MessageBox
	buttons [][]string
}

func (b *fakeBoxes) Show(_ context.Context, box *model.MessageBox, buttons []string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shown = append(b.shown, *box)
	b.buttons = append(b.buttons, buttons)
	return b.answer, b.err
}

func (b *fakeBoxes) messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, box := range b.shown {
		out = append(out, box.Message)
	}
	return out
}

func TestHandle_invalidForm(t *testing.T) {
	boxes := &fakeBoxes{answer: model.ButtonOK}
	h := started(t, nil, func(o *Options) {
		o.MessageBox = boxes
		o.Messages = map[string]string{"required": "Customer is required"}
	})
	p, w := h.lookup(t, 1, "MAIN")
	h.d.AttachView(&fakeForm{w: w, codes: []string{"required"}})

	save := func(v model.Validation) bool {
		return wait(t, h.d.Handle(HandleParams{
			Action: model.RequestCommand, Command: "SAVE", Procedure: p, Window: w, Validate: v,
		}))
	}

	assert.False(t, save(model.CancelInvalid))
	assert.Empty(t, boxes.messages())

	assert.False(t, save(model.ShowInvalid))
	assert.Equal(t, []string{"Customer is required"}, boxes.messages())
	assert.Len(t, h.client.Requests(), 1)

	assert.True(t, save(model.MayBeInvalid))
	assert.Len(t, h.client.Requests(), 2)
}

func TestHandle_serverMessageBoxAnswersWithCommand(t *testing.T) {
	box := model.MessageBox{Message: "Delete order?", Buttons: model.ButtonsYesNo, DefaultButton: model.ButtonNo}
	proc := dialogtest.Procedure(1, "ORDERS", dialogtest.Window("MAIN", nil))

	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{"chosen button", model.ButtonYes, model.ButtonYes},
		{"escape falls back to default", model.ButtonEscape, model.ButtonNo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boxes := &fakeBoxes{answer: tt.answer}
			h := started(t, dialogtest.Script(ordersResponse(), dialogtest.MessageBox(1, box, proc), ordersResponse()),
				func(o *Options) { o.MessageBox = boxes })
			p, w := h.lookup(t, 1, "MAIN")

			require.True(t, wait(t, h.d.Handle(HandleParams{
				Action: model.RequestCommand, Command: "DELETE", Procedure: p, Window: w,
			})))

			reqs := h.client.Requests()
			require.Len(t, reqs, 3)
			follow := reqs[2]
			assert.Equal(t, int64(1), follow.ID)
			require.Len(t, follow.Events, 1)
			assert.Equal(t, model.EventCommand, follow.Events[0].Type)
			assert.Equal(t, tt.want, follow.Events[0].Command)
			assert.Equal(t, []string{model.ButtonYes, model.ButtonNo}, boxes.buttons[0])
			assert.Equal(t, model.StateReady, h.snapshot(t).State)
		})
	}
}

type fakeErrors struct {
	mu    sync.Mutex
	infos []model.ErrorInfo
}

func (e *fakeErrors) Handle(_ context.Context, info model.ErrorInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.infos = append(e.infos, info)
	return nil
}

func TestHandle_requestFailure(t *testing.T) {
	errs := &fakeErrors{}
	h := started(t, nil, func(o *Options) { o.Errors = errs })
	p, w := h.lookup(t, 1, "MAIN")

	h.client.SetHandler(dialogtest.Fail(&model.ClientError{
		Status:           500,
		StatusText:       "Internal Server Error",
		ErrorID:          "E-42",
		ExceptionMessage: "order locked",
	}))
	ok := wait(t, h.d.Handle(HandleParams{
		Action: model.RequestCommand, Command: "SAVE", Procedure: p, Window: w,
	}))
	assert.False(t, ok)

	errs.mu.Lock()
	require.Len(t, errs.infos, 1)
	assert.Equal(t, "E-42", errs.infos[0].ID)
	errs.mu.Unlock()
	assert.Equal(t, model.StateReady, h.snapshot(t).State)

	// Procedures survive a failed round trip.
	_, _ = h.lookup(t, 1, "MAIN")
}

func TestHandle_benignCancellationIsSuccess(t *testing.T) {
	errs := &fakeErrors{}
	h := started(t, nil, func(o *Options) { o.Errors = errs })
	p, w := h.lookup(t, 1, "MAIN")

	for _, err := range []error{context.Canceled, &model.ClientError{}} {
		h.client.SetHandler(dialogtest.Fail(err))
		assert.True(t, wait(t, h.d.Handle(HandleParams{
			Action: model.RequestCommand, Command: "SAVE", Procedure: p, Window: w,
		})))
	}
	errs.mu.Lock()
	assert.Empty(t, errs.infos)
	errs.mu.Unlock()
}

func TestHandle_pendingStateDuringRoundTrip(t *testing.T) {
	h := started(t, nil, nil)
	p, w := h.lookup(t, 1, "MAIN")

	release := h.client.Hold()
	defer release()
	f := h.d.Handle(HandleParams{Action: model.RequestCommand, Command: "SAVE", Procedure: p, Window: w})

	require.Eventually(t, func() bool { return h.snapshot(t).Pending == 1 }, waitTimeout, time.Millisecond)
	assert.Equal(t, model.StatePending, h.snapshot(t).State)

	release()
	assert.True(t, wait(t, f))
	s := h.snapshot(t)
	assert.Equal(t, 0, s.Pending)
	assert.Equal(t, model.StateReady, s.State)
}

func TestBuildRequest_suppressesEchoedEnter(t *testing.T) {
	enter := ordersResponse()
	enter.Global = &model.Global{Command: "ENTER"}
	h := started(t, dialogtest.Static(enter), nil)
	p, w := h.lookup(t, 1, "MAIN")

	send := func() *model.Request {
		require.True(t, wait(t, h.d.Handle(HandleParams{
			Action: model.RequestCommand, Command: "GO", Procedure: p, Window: w,
		})))
		return h.last(t)
	}

	// The first ENTER is new relative to the empty previous command.
	assert.Equal(t, "ENTER", send().Command)
	// Echoed back unchanged, it is no longer sent.
	assert.Empty(t, send().Command)
}

func TestActivate_debounced(t *testing.T) {
	two := dialogtest.Response(2,
		dialogtest.Procedure(1, "ORDERS", dialogtest.Window("MAIN", nil)),
		dialogtest.Procedure(2, "DETAIL", dialogtest.Window("LINES", nil)))
	h := started(t, dialogtest.Static(two), func(o *Options) { o.ActivateDebounce = 50 * time.Millisecond })
	_, main := h.lookup(t, 1, "MAIN")
	_, lines := h.lookup(t, 2, "LINES")

	first := h.d.Activate(lines)
	second := h.d.Activate(main)
	h.barrier(t)

	assert.False(t, wait(t, first))
	assert.Len(t, h.client.Requests(), 1)

	h.clock.Advance(50 * time.Millisecond)
	assert.True(t, wait(t, second))

	req := h.last(t)
	require.Len(t, req.Events, 1)
	assert.Equal(t, model.EventActivated, req.Events[0].Type)
	assert.Equal(t, "MAIN", req.Window)
}

func TestActivate_currentWindowIsNoop(t *testing.T) {
	h := started(t, nil, nil)
	_, w := h.lookup(t, 1, "MAIN")

	f := h.d.Activate(w)
	h.barrier(t)
	h.clock.Advance(0)
	assert.True(t, wait(t, f))
	assert.Len(t, h.client.Requests(), 1)
}

func TestShowAlert(t *testing.T) {
	boxes := &fakeBoxes{answer: model.ButtonOK}
	h := started(t, nil, func(o *Options) { o.MessageBox = boxes })

	assert.True(t, wait(t, h.d.ShowAlert("Saved")))
	assert.Equal(t, []string{"Saved"}, boxes.messages())
	assert.Equal(t, model.StateReady, h.snapshot(t).State)

	boxes.mu.Lock()
	boxes.err = errors.New("closed")
	boxes.mu.Unlock()
	assert.True(t, wait(t, h.d.ShowAlert("again")))
}

func TestGetMessageBoxButtons(t *testing.T) {
	tests := []struct {
		in   model.MessageBoxButtons
		want []string
	}{
		{model.ButtonsOK, []string{model.ButtonOK}},
		{model.ButtonsOKCancel, []string{model.ButtonOK, model.ButtonCancel}},
		{model.ButtonsAbortRetryIgnore, []string{model.ButtonAbort, model.ButtonRetry, model.ButtonIgnore}},
		{model.ButtonsYesNo, []string{model.ButtonYes, model.ButtonNo}},
		{model.ButtonsYesNoCancel, []string{model.ButtonYes, model.ButtonNo, model.ButtonCancel}},
		{model.ButtonsRetryCancel, []string{model.ButtonRetry, model.ButtonCancel}},
		{"", []string{model.ButtonOK}},
		{"Bogus", []string{model.ButtonOK}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GetMessageBoxButtons(tt.in), "buttons %q", tt.in)
	}
}

type fakeLocation struct {
	st    model.InitialAction
	mu    sync.Mutex
	index string
}

func (l *fakeLocation) InitState(context.Context) (model.InitialAction, error) { return l.st, nil }

func (l *fakeLocation) SetIndex(index string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = index
}

func TestInit_followsLocation(t *testing.T) {
	resp := ordersResponse()
	resp.Index = "IDX-1"
	loc := &fakeLocation{st: model.InitialAction{Action: model.RequestGet, Procedure: "ORDERS", ID: 1}}
	h := newHarness(t, dialogtest.Static(resp), func(o *Options) { o.Location = loc })

	f, err := h.d.Init(context.Background())
	require.NoError(t, err)
	require.True(t, wait(t, f))

	req := h.client.Requests()[0]
	assert.Equal(t, model.RequestGet, req.Action)
	assert.Equal(t, int64(1), req.ID)

	loc.mu.Lock()
	assert.Equal(t, "IDX-1", loc.index)
	loc.mu.Unlock()
	assert.Equal(t, "IDX-1", h.snapshot(t).Index)
}

func TestInit_withoutLocation(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.d.Init(context.Background())
	assert.ErrorIs(t, err, ErrNoLocation)
}
