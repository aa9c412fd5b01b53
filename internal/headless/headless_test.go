package headless

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pitabwire/cooldialog/model"
)

var (
	_ model.MessageBoxService = (*Prompter)(nil)
	_ model.UploadBoxService  = (*Prompter)(nil)
	_ model.ErrorHandler      = (*Recorder)(nil)
	_ model.LaunchService     = (*Recorder)(nil)
	_ model.PageResolver      = (*PageRegistry)(nil)
)

// waitPrompt polls until p has a pending prompt.
func waitPrompt(t *testing.T, p *Prompter) Prompt {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pending := p.Pending(); len(pending) > 0 {
			return pending[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no prompt became pending")
	return Prompt{}
}

func TestPrompter_ShowWaitsForAnswer(t *testing.T) {
	p := NewPrompter(false, nil)
	box := &model.MessageBox{Message: "Delete order?", Buttons: model.ButtonsYesNo}

	done := make(chan string, 1)
	go func() {
		choice, err := p.Show(context.Background(), box, []string{model.ButtonYes, model.ButtonNo})
		if err != nil {
			t.Errorf("Show error: %v", err)
		}
		done <- choice
	}()

	prompt := waitPrompt(t, p)
	if prompt.Kind != KindMessageBox || prompt.Box.Message != "Delete order?" {
		t.Errorf("prompt = %+v", prompt)
	}
	if err := p.Answer(prompt.ID, model.ButtonNo); err != nil {
		t.Fatalf("Answer error: %v", err)
	}

	select {
	case choice := <-done:
		if choice != model.ButtonNo {
			t.Errorf("choice = %q, want No", choice)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Show did not return")
	}
	if n := len(p.Pending()); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestPrompter_AnswerRejectsUnknownButton(t *testing.T) {
	p := NewPrompter(false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _, _ = p.Show(ctx, &model.MessageBox{Message: "?"}, []string{model.ButtonOK}) }()
	prompt := waitPrompt(t, p)

	if err := p.Answer(prompt.ID, model.ButtonRetry); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("Answer error = %v, want ErrInvalidChoice", err)
	}
	if err := p.Answer(prompt.ID, model.ButtonEscape); err != nil {
		t.Errorf("Escape should always be accepted, got %v", err)
	}
	if err := p.Answer(prompt.ID, model.ButtonOK); !errors.Is(err, ErrPromptNotFound) {
		t.Errorf("second Answer error = %v, want ErrPromptNotFound", err)
	}
}

func TestPrompter_UploadAnswer(t *testing.T) {
	p := NewPrompter(false, nil)
	done := make(chan []model.FileData, 1)
	go func() {
		files, _ := p.Upload(context.Background(), &model.MessageBox{Type: model.MessageBoxFileOpen})
		done <- files
	}()

	prompt := waitPrompt(t, p)
	if prompt.Kind != KindUpload {
		t.Fatalf("kind = %q, want upload", prompt.Kind)
	}
	if err := p.Answer(prompt.ID, model.ButtonOK); !errors.Is(err, ErrPromptNotFound) {
		t.Errorf("answering an upload as a message box = %v, want ErrPromptNotFound", err)
	}
	files := []model.FileData{{Name: "a.csv", Content: []byte("1,2")}}
	if err := p.AnswerUpload(prompt.ID, files); err != nil {
		t.Fatalf("AnswerUpload error: %v", err)
	}

	got := <-done
	if len(got) != 1 || got[0].Name != "a.csv" {
		t.Errorf("files = %+v", got)
	}
}

func TestPrompter_ContextCancelRemovesPrompt(t *testing.T) {
	p := NewPrompter(false, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := p.Show(ctx, &model.MessageBox{}, []string{model.ButtonOK})
		errc <- err
	}()
	waitPrompt(t, p)
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Show error = %v, want context.Canceled", err)
	}
	if n := len(p.Pending()); n != 0 {
		t.Errorf("pending = %d, want 0 after cancel", n)
	}
}

func TestPrompter_OnPrompt(t *testing.T) {
	p := NewPrompter(false, nil)
	seen := make(chan Prompt, 1)
	p.OnPrompt(func(pr Prompt) { seen <- pr })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = p.Show(ctx, &model.MessageBox{Message: "hi"}, []string{model.ButtonOK}) }()

	select {
	case pr := <-seen:
		if pr.Box.Message != "hi" {
			t.Errorf("prompt message = %q", pr.Box.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnPrompt not called")
	}
}

func TestPrompter_Auto(t *testing.T) {
	p := NewPrompter(true, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		box     model.MessageBox
		buttons []string
		want    string
	}{
		{"default button", model.MessageBox{DefaultButton: model.ButtonNo}, []string{model.ButtonYes, model.ButtonNo}, model.ButtonNo},
		{"first button", model.MessageBox{}, []string{model.ButtonRetry, model.ButtonCancel}, model.ButtonRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Show(ctx, &tt.box, tt.buttons)
			if err != nil || got != tt.want {
				t.Errorf("Show = %q, %v; want %q", got, err, tt.want)
			}
		})
	}

	files, err := p.Upload(ctx, &model.MessageBox{})
	if err != nil || files != nil {
		t.Errorf("auto Upload = %v, %v; want cancel", files, err)
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(nil)
	ctx := context.Background()

	for i := 0; i < maxRecorded+5; i++ {
		_ = r.Handle(ctx, model.ErrorInfo{Message: "boom"})
	}
	if n := len(r.Errors()); n != maxRecorded {
		t.Errorf("errors = %d, want %d", n, maxRecorded)
	}

	_ = r.Launch(ctx, model.LaunchCommand{URL: "https://example.com/report.pdf", Target: "_blank"})
	launches := r.Launches()
	if len(launches) != 1 || launches[0].URL != "https://example.com/report.pdf" {
		t.Errorf("launches = %+v", launches)
	}
	if launches[0].At.IsZero() {
		t.Error("launch time should be recorded")
	}
}

func TestPageRegistry_Resolve(t *testing.T) {
	r := NewPageRegistry([]PageMapping{
		{Procedure: "ORDERS", Window: "MAIN", Page: "orders-main"},
		{Procedure: "ORDERS", Window: "*", Page: "orders-any"},
		{Procedure: "MENU", Page: "menu"},
	})

	tests := []struct {
		procedure, window, want string
	}{
		{"ORDERS", "MAIN", "orders-main"},
		{"orders", "main", "orders-main"},
		{"ORDERS", "DETAIL", "orders-any"},
		{"MENU", "ANY", "menu"},
		{"CUSTOMERS", "LIST", "customers/list"},
	}
	for _, tt := range tests {
		got, err := r.Resolve(context.Background(), "en",
			&model.Procedure{Name: tt.procedure}, &model.Window{Name: tt.window})
		if err != nil {
			t.Fatalf("Resolve(%s, %s) error: %v", tt.procedure, tt.window, err)
		}
		page := got.(Page)
		if page.Name != tt.want {
			t.Errorf("Resolve(%s, %s) = %q, want %q", tt.procedure, tt.window, page.Name, tt.want)
		}
		if page.Dialect != "en" {
			t.Errorf("dialect = %q", page.Dialect)
		}
	}

	if _, err := r.Resolve(context.Background(), "en", nil, &model.Window{}); err == nil {
		t.Error("Resolve without a procedure should fail")
	}
}

func TestLoadPageRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pages.yaml")
	content := "pages:\n  - procedure: ORDERS\n    window: MAIN\n    page: orders-main\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := LoadPageRegistry(path)
	if err != nil {
		t.Fatalf("LoadPageRegistry error: %v", err)
	}
	got, _ := r.Resolve(context.Background(), "", &model.Procedure{Name: "ORDERS"}, &model.Window{Name: "MAIN"})
	if got.(Page).Name != "orders-main" {
		t.Errorf("page = %+v", got)
	}

	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("pages:\n  - window: MAIN\n"), 0o600)
	if _, err := LoadPageRegistry(bad); err == nil {
		t.Error("entry without procedure should be rejected")
	}

	if _, err := LoadPageRegistry(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
