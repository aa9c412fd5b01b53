// Package headless provides collaborators for dialogs that run without a
// graphical UI. Message boxes and file choosers become prompts answered over
// the control API, errors and launch commands are recorded, and pages are
// resolved from a static registry.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/model"
)

// Prompt kinds.
const (
	KindMessageBox = "messagebox"
	KindUpload     = "upload"
)

// ErrPromptNotFound is returned when answering an unknown or already
// answered prompt.
var ErrPromptNotFound = errors.New("prompt not found")

// ErrInvalidChoice is returned when a message box answer names a button the
// box does not show.
var ErrInvalidChoice = errors.New("invalid choice")

// Prompt is a message box or file chooser waiting for an answer.
type Prompt struct {
	ID      string           `json:"id"`
	Kind    string           `json:"kind"`
	Box     model.MessageBox `json:"box"`
	Buttons []string         `json:"buttons,omitempty"`
}

type answer struct {
	choice string
	files  []model.FileData
}

type pendingPrompt struct {
	Prompt
	answer chan answer
}

// Prompter implements model.MessageBoxService and model.UploadBoxService.
// Each Show or Upload call blocks until the prompt is answered or its
// context ends. In auto mode prompts are answered at once: message boxes
// with their default button and uploads with a cancel.
type Prompter struct {
	mu      sync.Mutex
	pending map[string]*pendingPrompt
	order   []string
	auto    bool
	logger  *zap.Logger
	onNew   func(Prompt)
}

// NewPrompter creates a prompter.
func NewPrompter(auto bool, logger *zap.Logger) *Prompter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prompter{
		pending: make(map[string]*pendingPrompt),
		auto:    auto,
		logger:  logger,
	}
}

// OnPrompt registers f to be called whenever a prompt starts waiting.
func (p *Prompter) OnPrompt(f func(Prompt)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNew = f
}

// Show presents a message box.
func (p *Prompter) Show(ctx context.Context, box *model.MessageBox, buttons []string) (string, error) {
	if p.auto {
		choice := box.DefaultButton
		if choice == "" && len(buttons) > 0 {
			choice = buttons[0]
		}
		p.logger.Info("message box answered automatically",
			zap.String("message", box.Message),
			zap.String("choice", choice))
		return choice, nil
	}
	a, err := p.wait(ctx, KindMessageBox, box, buttons)
	if err != nil {
		return "", err
	}
	return a.choice, nil
}

// Upload presents a file chooser. No files means the user canceled.
func (p *Prompter) Upload(ctx context.Context, box *model.MessageBox) ([]model.FileData, error) {
	if p.auto {
		p.logger.Info("upload canceled automatically", zap.String("message", box.Message))
		return nil, nil
	}
	a, err := p.wait(ctx, KindUpload, box, nil)
	if err != nil {
		return nil, err
	}
	return a.files, nil
}

// Pending returns the waiting prompts, oldest first.
func (p *Prompter) Pending() []Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Prompt, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.pending[id].Prompt)
	}
	return out
}

// Answer answers a message box prompt. An empty choice, Escape or Close
// dismiss the box.
func (p *Prompter) Answer(id, choice string) error {
	return p.answer(id, KindMessageBox, answer{choice: choice})
}

// AnswerUpload answers a file chooser prompt. Nil files cancel it.
func (p *Prompter) AnswerUpload(id string, files []model.FileData) error {
	return p.answer(id, KindUpload, answer{files: files})
}

func (p *Prompter) answer(id, kind string, a answer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pp, ok := p.pending[id]
	if !ok || pp.Kind != kind {
		return fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}
	if kind == KindMessageBox && !validChoice(a.choice, pp.Buttons) {
		return fmt.Errorf("%w: %q", ErrInvalidChoice, a.choice)
	}
	p.remove(id)
	pp.answer <- a
	return nil
}

func (p *Prompter) wait(ctx context.Context, kind string, box *model.MessageBox, buttons []string) (answer, error) {
	pp := &pendingPrompt{
		Prompt: Prompt{
			ID:      uuid.NewString(),
			Kind:    kind,
			Box:     *box,
			Buttons: append([]string(nil), buttons...),
		},
		answer: make(chan answer, 1),
	}

	p.mu.Lock()
	p.pending[pp.ID] = pp
	p.order = append(p.order, pp.ID)
	onNew := p.onNew
	p.mu.Unlock()

	p.logger.Info("prompt waiting",
		zap.String("prompt_id", pp.ID),
		zap.String("kind", kind),
		zap.String("message", box.Message))
	if onNew != nil {
		onNew(pp.Prompt)
	}

	select {
	case a := <-pp.answer:
		return a, nil
	case <-ctx.Done():
		p.mu.Lock()
		p.remove(pp.ID)
		p.mu.Unlock()
		return answer{}, ctx.Err()
	}
}

// remove drops a prompt. Must be called with the lock held.
func (p *Prompter) remove(id string) {
	delete(p.pending, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func validChoice(choice string, buttons []string) bool {
	switch choice {
	case "", model.ButtonEscape, model.ButtonClose:
		return true
	}
	for _, b := range buttons {
		if b == choice {
			return true
		}
	}
	return false
}
