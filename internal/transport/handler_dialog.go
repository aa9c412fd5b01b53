package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/dialog"
	"github.com/pitabwire/cooldialog/internal/focus"
	"github.com/pitabwire/cooldialog/internal/headless"
	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/internal/observability"
	"github.com/pitabwire/cooldialog/model"
)

// maxBodyBytes bounds request bodies. Uploads are carried inline.
const maxBodyBytes = 16 << 20

type dialogHandler struct {
	manager    *headless.Manager
	scopeClaim string
	// scoped restricts every session to callers whose token carries the
	// session's scope.
	scoped bool
}

// CreateRequest is the body of POST /dialogs.
type CreateRequest struct {
	Location string `json:"location"`
	Scope    string `json:"scope,omitempty"`
}

// SessionInfo describes a session in listings.
type SessionInfo struct {
	ID      string    `json:"id"`
	Scope   string    `json:"scope"`
	Created time.Time `json:"created"`
}

// ActionRequest is the body of POST /dialogs/{dialogID}/actions.
type ActionRequest struct {
	Action      model.RequestType `json:"action"`
	ProcedureID int64             `json:"procedureId,omitempty"`
	Window      string            `json:"window,omitempty"`
	Name        string            `json:"name,omitempty"`
	Command     string            `json:"command,omitempty"`
	Component   string            `json:"component,omitempty"`
	Type        string            `json:"type,omitempty"`
	Value       any               `json:"value,omitempty"`
	Data        []model.FileData  `json:"data,omitempty"`
	CommandLine string            `json:"commandLine,omitempty"`
	Dialect     string            `json:"dialect,omitempty"`
	Restart     bool              `json:"restart,omitempty"`
	Params      map[string]any    `json:"params,omitempty"`
	// Validate is "show", "cancel" or "ignore". Commands default to show.
	Validate string `json:"validate,omitempty"`
}

// FieldsRequest is the body of POST /dialogs/{dialogID}/fields.
type FieldsRequest struct {
	ProcedureID int64          `json:"procedureId"`
	Window      string         `json:"window"`
	Values      map[string]any `json:"values"`
}

// KeyRequest is the body of POST /dialogs/{dialogID}/keys.
type KeyRequest struct {
	Key    string `json:"key"`
	Shift  bool   `json:"shift,omitempty"`
	Ctrl   bool   `json:"ctrl,omitempty"`
	Alt    bool   `json:"alt,omitempty"`
	Target string `json:"target,omitempty"`
}

// PagingRequest is the body of POST
// /dialogs/{dialogID}/procedures/{procedureID}/paging.
type PagingRequest struct {
	PageSize   int `json:"pageSize"`
	ScrollSize int `json:"scrollSize"`
}

// AnswerRequest is the body of POST /dialogs/{dialogID}/prompts/{promptID}.
// Choice answers a message box; Files answers an upload prompt.
type AnswerRequest struct {
	Choice string           `json:"choice,omitempty"`
	Files  []model.FileData `json:"files,omitempty"`
}

// AlertRequest is the body of POST /dialogs/{dialogID}/alert.
type AlertRequest struct {
	Message string `json:"message"`
}

// ActionResponse reports the outcome of an action. Pending is set when the
// caller did not wait or the wait ran out before the action settled.
type ActionResponse struct {
	OK       bool             `json:"ok"`
	Pending  bool             `json:"pending,omitempty"`
	Snapshot *dialog.Snapshot `json:"snapshot,omitempty"`
}

func (h *dialogHandler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateRequest
	if !decode(w, r, &in) {
		return
	}
	if h.scoped {
		scope, err := h.callerScope(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		in.Scope = scope
	}

	s, ok, err := h.manager.Create(r.Context(), headless.CreateOptions{
		Location: in.Location,
		Scope:    in.Scope,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	resp := ActionResponse{OK: ok}
	if snap, err := s.Dialog.Snapshot(r.Context()); err == nil {
		resp.Snapshot = &snap
	}
	WriteJSON(w, http.StatusCreated, resp)
}

func (h *dialogHandler) list(w http.ResponseWriter, r *http.Request) {
	scope, _ := h.callerScope(r)
	out := make([]SessionInfo, 0)
	for _, s := range h.manager.List() {
		if h.scoped && s.State.Scope() != scope {
			continue
		}
		out = append(out, SessionInfo{
			ID:      s.ID(),
			Scope:   s.State.Scope(),
			Created: s.Created,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"dialogs": out})
}

func (h *dialogHandler) snapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.Dialog.Snapshot(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

func (h *dialogHandler) delete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.manager.Delete(s.ID()); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *dialogHandler) action(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var in ActionRequest
	if !decode(w, r, &in) {
		return
	}

	p := dialog.HandleParams{
		Action:      in.Action,
		Name:        in.Name,
		ID:          in.ProcedureID,
		Command:     in.Command,
		Component:   in.Component,
		Type:        in.Type,
		Value:       in.Value,
		Data:        in.Data,
		CommandLine: in.CommandLine,
		Dialect:     in.Dialect,
		Restart:     in.Restart,
		Params:      in.Params,
		Validate:    validation(in),
	}

	var fut *loop.Future[bool]
	switch in.Action {
	case model.RequestStart:
		fut = s.Dialog.Start(in.Name, in.CommandLine, in.Params)
	case model.RequestGet:
		fut = s.Dialog.Get(p)
	case model.RequestFork:
		fut = s.Dialog.Fork(p)
	case model.RequestCurrent:
		fut = s.Dialog.Current(p)
	case model.RequestChangeDialect:
		fut = s.Dialog.ChangeDialect(in.Dialect)
	case model.RequestCommand, model.RequestEvent, model.RequestHelp:
		proc, win, err := s.Dialog.Lookup(r.Context(), in.ProcedureID, in.Window)
		if err != nil {
			WriteError(w, err)
			return
		}
		p.Procedure, p.Window = proc, win
		fut = s.Dialog.Handle(p)
	default:
		WriteError(w, model.NewBadRequestError(fmt.Sprintf("unsupported action %q", in.Action)))
		return
	}
	writeResult(w, r, s, fut)
}

func (h *dialogHandler) fields(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var in FieldsRequest
	if !decode(w, r, &in) {
		return
	}
	view, err := s.View(r.Context(), in.ProcedureID, in.Window)
	if err != nil {
		WriteError(w, err)
		return
	}
	for name, value := range in.Values {
		view.SetValue(name, value)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *dialogHandler) key(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var in KeyRequest
	if !decode(w, r, &in) {
		return
	}
	if in.Key == "" {
		WriteError(w, model.NewBadRequestError("key is required"))
		return
	}
	writeResult(w, r, s, s.Dialog.HandleKey(focus.KeyEvent{
		Key:    in.Key,
		Shift:  in.Shift,
		Ctrl:   in.Ctrl,
		Alt:    in.Alt,
		Target: in.Target,
	}))
}

func (h *dialogHandler) activate(w http.ResponseWriter, r *http.Request) {
	s, win, ok := h.window(w, r)
	if !ok {
		return
	}
	writeResult(w, r, s, s.Dialog.Activate(win))
}

func (h *dialogHandler) closeWindow(w http.ResponseWriter, r *http.Request) {
	s, win, ok := h.window(w, r)
	if !ok {
		return
	}
	writeResult(w, r, s, s.Dialog.Close(win))
}

func (h *dialogHandler) geometry(w http.ResponseWriter, r *http.Request) {
	s, win, ok := h.window(w, r)
	if !ok {
		return
	}
	var in model.Geometry
	if !decode(w, r, &in) {
		return
	}
	if in.Width < 0 || in.Height < 0 {
		WriteError(w, model.NewBadRequestError("width and height must not be negative"))
		return
	}
	if err := s.Dialog.SaveGeometry(r.Context(), win, in); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *dialogHandler) paging(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	procID, ok := procedureID(w, r)
	if !ok {
		return
	}
	var in PagingRequest
	if !decode(w, r, &in) {
		return
	}
	proc, _, err := s.Dialog.Lookup(r.Context(), procID, "")
	if err != nil {
		WriteError(w, err)
		return
	}
	s.Dialog.SetPaging(proc, in.PageSize, in.ScrollSize)
	w.WriteHeader(http.StatusNoContent)
}

func (h *dialogHandler) alert(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var in AlertRequest
	if !decode(w, r, &in) {
		return
	}
	// The alert stays up until answered through the prompts endpoint.
	s.Dialog.ShowAlert(in.Message)
	w.WriteHeader(http.StatusAccepted)
}

func (h *dialogHandler) prompts(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"prompts": nonNil(s.Prompter.Pending())})
}

func (h *dialogHandler) answer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var in AnswerRequest
	if !decode(w, r, &in) {
		return
	}
	id := chi.URLParam(r, "promptID")

	var err error
	if in.Choice != "" {
		err = s.Prompter.Answer(id, in.Choice)
	} else {
		err = s.Prompter.AnswerUpload(id, in.Files)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *dialogHandler) errorList(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"errors": nonNil(s.Recorder.Errors())})
}

func (h *dialogHandler) launches(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"launches": nonNil(s.Recorder.Launches())})
}

// session resolves the dialogID route parameter. Sessions of another scope
// are reported as missing.
func (h *dialogHandler) session(w http.ResponseWriter, r *http.Request) (*headless.Session, bool) {
	s, err := h.manager.Get(chi.URLParam(r, "dialogID"))
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	if h.scoped {
		scope, err := h.callerScope(r)
		if err != nil {
			WriteError(w, err)
			return nil, false
		}
		if s.State.Scope() != scope {
			WriteNotFound(w, "session not found")
			return nil, false
		}
	}
	return s, true
}

func (h *dialogHandler) window(w http.ResponseWriter, r *http.Request) (*headless.Session, *model.Window, bool) {
	s, ok := h.session(w, r)
	if !ok {
		return nil, nil, false
	}
	procID, ok := procedureID(w, r)
	if !ok {
		return nil, nil, false
	}
	_, win, err := s.Dialog.Lookup(r.Context(), procID, chi.URLParam(r, "window"))
	if err != nil {
		WriteError(w, err)
		return nil, nil, false
	}
	return s, win, true
}

func procedureID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "procedureID"), 10, 64)
	if err != nil {
		WriteError(w, model.NewBadRequestError("procedureID must be an integer"))
		return 0, false
	}
	return id, true
}

func (h *dialogHandler) callerScope(r *http.Request) (string, error) {
	scope := ScopeFrom(r.Context(), h.scopeClaim)
	if scope == "" {
		return "", model.NewUnauthorizedError(fmt.Sprintf("token has no %q claim", h.scopeClaim))
	}
	return scope, nil
}

// writeResult waits for fut unless the query has async=true. A wait cut
// short by the handler deadline reports the action as pending.
func writeResult(w http.ResponseWriter, r *http.Request, s *headless.Session, fut *loop.Future[bool]) {
	resp := ActionResponse{Pending: true}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); !async {
		ok, err := fut.Wait(r.Context())
		switch {
		case err == nil:
			resp = ActionResponse{OK: ok}
		case errors.Is(err, loop.ErrStopped):
			resp = ActionResponse{}
		default:
			observability.LoggerFrom(r.Context(), zap.NewNop()).Debug("action still pending", zap.Error(err))
		}
	}
	if snap, err := s.Dialog.Snapshot(r.Context()); err == nil {
		resp.Snapshot = &snap
	}
	status := http.StatusOK
	if resp.Pending {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, resp)
}

func validation(in ActionRequest) model.Validation {
	switch in.Validate {
	case "show":
		return model.ShowInvalid
	case "cancel":
		return model.CancelInvalid
	case "ignore":
		return model.MayBeInvalid
	}
	if in.Action == model.RequestCommand {
		return model.ShowInvalid
	}
	return model.MayBeInvalid
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return false
	}
	return true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
