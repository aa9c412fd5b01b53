package headless

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pitabwire/cooldialog/internal/codec"
	"github.com/pitabwire/cooldialog/internal/config"
	"github.com/pitabwire/cooldialog/internal/dialog"
	"github.com/pitabwire/cooldialog/internal/dialog/dialogtest"
	"github.com/pitabwire/cooldialog/internal/session"
	"github.com/pitabwire/cooldialog/model"
)

func ordersResponse() *model.Response {
	return dialogtest.Response(1,
		dialogtest.Procedure(1, "ORDERS", dialogtest.Window("MAIN", map[string]any{"customer": "ACME"})))
}

func newManager(t *testing.T, client model.Client, configure func(*config.Config)) *Manager {
	t.Helper()
	cfg := config.Defaults()
	cfg.Dialog.ActivateDebounce = 0
	cfg.Dialog.FocusDebounce = 0
	if configure != nil {
		configure(cfg)
	}
	m, err := NewManager(ManagerOptions{Config: cfg, Client: client})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func createSession(t *testing.T, m *Manager, opts CreateOptions) *Session {
	t.Helper()
	s, _, err := m.Create(context.Background(), opts)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", opts.Location, err)
	}
	return s
}

// waitRequests polls until client has seen n requests.
func waitRequests(t *testing.T, client *dialogtest.Client, n int) []*model.Request {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reqs := client.Requests(); len(reqs) >= n {
			return reqs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("requests = %d, want %d", len(client.Requests()), n)
	return nil
}

func TestNewManager(t *testing.T) {
	if _, err := NewManager(ManagerOptions{}); !errors.Is(err, dialog.ErrNoClient) {
		t.Errorf("NewManager() without client error = %v, want ErrNoClient", err)
	}

	cfg := config.Defaults()
	cfg.Keyboard.NextWindow = "Hyper+F6"
	if _, err := NewManager(ManagerOptions{Config: cfg, Client: dialogtest.NewClient(nil)}); err == nil {
		t.Error("NewManager() should reject an unknown key combination")
	}
}

func TestManager_CreateRunsStartup(t *testing.T) {
	client := dialogtest.NewClient(dialogtest.Static(ordersResponse()))
	m := newManager(t, client, nil)

	s, ok, err := m.Create(context.Background(), CreateOptions{Location: "/app?procedure=ORDERS&customer=7"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !ok {
		t.Error("startup action should succeed")
	}
	if got := s.State.Scope(); got != DefaultScope {
		t.Errorf("scope = %q, want %q", got, DefaultScope)
	}

	req := client.Requests()[0]
	if req.Action != model.RequestStart || req.Name != "ORDERS" {
		t.Errorf("first request = %s %q, want Start ORDERS", req.Action, req.Name)
	}
	if want := map[string]any{"customer": "7"}; !reflect.DeepEqual(req.Params, want) {
		t.Errorf("params = %v, want %v", req.Params, want)
	}

	got, err := m.Get(s.ID())
	if err != nil || got != s {
		t.Errorf("Get() = %p, %v; want the created session", got, err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	snap, err := s.Dialog.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap.Procedures) != 1 || snap.Procedures[0].Name != "ORDERS" {
		t.Errorf("procedures = %+v, want ORDERS only", snap.Procedures)
	}
}

func TestManager_CreateRejectsBadLocation(t *testing.T) {
	m := newManager(t, dialogtest.NewClient(nil), nil)

	_, _, err := m.Create(context.Background(), CreateOptions{Location: "/app?action=Explode"})
	if !errors.Is(err, session.ErrInvalidLocation) {
		t.Errorf("Create() error = %v, want ErrInvalidLocation", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestManager_DeleteAndClose(t *testing.T) {
	client := dialogtest.NewClient(dialogtest.Static(ordersResponse()))
	m := newManager(t, client, nil)

	a := createSession(t, m, CreateOptions{Location: "?procedure=ORDERS", Scope: "alice"})
	b := createSession(t, m, CreateOptions{Location: "?procedure=ORDERS", Scope: "bob"})

	list := m.List()
	if len(list) != 2 || list[0] != a || list[1] != b {
		t.Fatalf("List() = %v, want sessions in creation order", list)
	}

	if err := m.Delete(a.ID()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := m.Delete(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete() error = %v, want ErrSessionNotFound", err)
	}
	if _, err := m.Get(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrSessionNotFound", err)
	}

	select {
	case <-a.Dialog.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("deleted session loop still running")
	}

	m.Close()
	if m.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", m.Len())
	}
	if _, _, err := m.Create(context.Background(), CreateOptions{Location: "?procedure=ORDERS"}); err == nil {
		t.Error("Create() after Close should fail")
	}
}

func TestSession_ViewSendsChangedValues(t *testing.T) {
	client := dialogtest.NewClient(dialogtest.Static(ordersResponse()))
	m := newManager(t, client, nil)
	ctx := context.Background()
	s := createSession(t, m, CreateOptions{Location: "?procedure=ORDERS"})

	v, err := s.View(ctx, 1, "MAIN")
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if again, err := s.View(ctx, 1, "MAIN"); err != nil || again != v {
		t.Errorf("View() twice = %p, %v; want the same view", again, err)
	}

	v.SetValue("customer", "GLOBEX")
	v.Click(commandPrefix + "SAVE")

	req := waitRequests(t, client, 2)[1]
	if len(req.Events) != 1 || req.Events[0].Command != "SAVE" {
		t.Fatalf("events = %+v, want SAVE", req.Events)
	}
	if req.Controls == nil {
		t.Fatal("controls missing from request")
	}
	controls := codec.FromState(req.Controls).(map[string]any)
	if want := map[string]any{"value": "GLOBEX"}; !reflect.DeepEqual(controls["customer"], want) {
		t.Errorf("customer = %v, want %v", controls["customer"], want)
	}

	if _, err := s.View(ctx, 1, "NOPE"); !errors.Is(err, dialog.ErrNotFound) {
		t.Errorf("View(NOPE) error = %v, want ErrNotFound", err)
	}
}

func TestView_Elements(t *testing.T) {
	hidden := false
	w := &model.Window{
		Name: "MAIN",
		Controls: map[string]*model.Control{
			"b":      {Name: "b"},
			"a":      {Name: "a", ReadOnly: true},
			"secret": {Name: "secret", Visible: &hidden},
		},
	}
	w.Procedure = &model.Procedure{
		Name: "ORDERS",
		Commands: map[string]*model.CommandView{
			"SAVE":  {Name: "SAVE", Type: commandDefault, Shortcut: "F5"},
			"DEBUG": {Name: "DEBUG", Hidden: true},
		},
	}
	v := NewView(nil, w)

	els := v.Elements()
	if len(els) != 3 {
		t.Fatalf("elements = %d, want 3", len(els))
	}
	for i, tt := range []struct {
		id        string
		focusable bool
	}{
		{controlPrefix + "a", false},
		{controlPrefix + "b", true},
	} {
		if els[i].ID != tt.id || els[i].Focusable != tt.focusable || els[i].Action {
			t.Errorf("element %d = %+v, want input %s focusable=%v", i, els[i], tt.id, tt.focusable)
		}
	}
	if save := els[2]; save.ID != commandPrefix+"SAVE" || !save.Action || save.AccessKey != "F5" {
		t.Errorf("element 2 = %+v, want the SAVE action on F5", save)
	}

	v.Focus(controlPrefix + "b")
	if got := v.Focused(); got != controlPrefix+"b" {
		t.Errorf("Focused() = %q", got)
	}
}

func TestSession_PromptDrivesFollowUp(t *testing.T) {
	box := model.MessageBox{Message: "Delete order?", Buttons: model.ButtonsYesNo}
	proc := dialogtest.Procedure(1, "ORDERS", dialogtest.Window("MAIN", nil))
	client := dialogtest.NewClient(dialogtest.Script(
		ordersResponse(), dialogtest.MessageBox(1, box, proc), ordersResponse()))
	m := newManager(t, client, nil)
	ctx := context.Background()
	s := createSession(t, m, CreateOptions{Location: "?procedure=ORDERS"})

	p, w, err := s.Dialog.Lookup(ctx, 1, "MAIN")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	result := s.Dialog.Handle(dialog.HandleParams{
		Action: model.RequestCommand, Command: "DELETE", Procedure: p, Window: w,
	})

	prompt := waitPrompt(t, s.Prompter)
	if prompt.Kind != KindMessageBox {
		t.Errorf("prompt kind = %q, want %q", prompt.Kind, KindMessageBox)
	}
	if want := []string{model.ButtonYes, model.ButtonNo}; !reflect.DeepEqual(prompt.Buttons, want) {
		t.Errorf("buttons = %v, want %v", prompt.Buttons, want)
	}
	snap, err := s.Dialog.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.State != model.StateMessageBox {
		t.Errorf("state = %q, want MessageBox", snap.State)
	}

	if err := s.Prompter.Answer(prompt.ID, model.ButtonYes); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := result.Wait(waitCtx)
	if err != nil || !ok {
		t.Fatalf("result = %v, %v; want true", ok, err)
	}

	reqs := client.Requests()
	if len(reqs) != 3 {
		t.Fatalf("requests = %d, want 3", len(reqs))
	}
	if got := reqs[2].Events[0].Command; got != model.ButtonYes {
		t.Errorf("follow-up command = %q, want Yes", got)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	m := newManager(t, dialogtest.NewClient(nil), nil)
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
