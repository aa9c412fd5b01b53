package model

import (
	"context"
	"fmt"
)

// Client sends requests to the COOL server. There is one method per request
// type; commands are sent through Event.
type Client interface {
	Event(ctx context.Context, req *Request) (*Response, error)
	Get(ctx context.Context, req *Request) (*Response, error)
	Current(ctx context.Context, req *Request) (*Response, error)
	Start(ctx context.Context, req *Request) (*Response, error)
	Fork(ctx context.Context, req *Request) (*Response, error)
	ChangeDialect(ctx context.Context, req *Request) (*Response, error)
	Help(ctx context.Context, req *Request) (*Response, error)
}

// Send dispatches req to the Client method matching its action.
func Send(ctx context.Context, c Client, req *Request) (*Response, error) {
	switch req.Action.ServiceAction() {
	case RequestEvent:
		return c.Event(ctx, req)
	case RequestGet:
		return c.Get(ctx, req)
	case RequestCurrent:
		return c.Current(ctx, req)
	case RequestStart:
		return c.Start(ctx, req)
	case RequestFork:
		return c.Fork(ctx, req)
	case RequestChangeDialect:
		return c.ChangeDialect(ctx, req)
	case RequestHelp:
		return c.Help(ctx, req)
	}
	return nil, fmt.Errorf("client: unsupported action %q", req.Action)
}

// InitialAction is what a dialog performs at startup.
type InitialAction struct {
	Action      RequestType    `json:"action"`
	Procedure   string         `json:"procedure,omitempty"`
	ID          int64          `json:"id,omitempty"`
	Dialect     string         `json:"dialect,omitempty"`
	Restart     bool           `json:"restart,omitempty"`
	CommandLine string         `json:"commandLine,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Index       string         `json:"index,omitempty"`
}

// DialogLocation derives the startup action from the navigable location and
// stores the opaque session index back into it.
type DialogLocation interface {
	InitState(ctx context.Context) (InitialAction, error)
	SetIndex(index string)
}

// PageResolver resolves the page component that renders a window.
type PageResolver interface {
	Resolve(ctx context.Context, dialect string, procedure *Procedure, window *Window) (any, error)
}

// MessageBoxService presents a message box and returns the chosen button,
// or ButtonEscape/ButtonClose when dismissed without one.
type MessageBoxService interface {
	Show(ctx context.Context, box *MessageBox, buttons []string) (string, error)
}

// UploadBoxService presents a file chooser. An empty result means the user
// canceled.
type UploadBoxService interface {
	Upload(ctx context.Context, box *MessageBox) ([]FileData, error)
}

// ErrorHandler presents a request failure and returns once acknowledged.
type ErrorHandler interface {
	Handle(ctx context.Context, info ErrorInfo) error
}

// LaunchService performs launch commands returned by the server.
type LaunchService interface {
	Launch(ctx context.Context, cmd LaunchCommand) error
}

// StateService persists per-session UI state.
type StateService interface {
	// Get decodes the value stored under name into dst. It reports false
	// and leaves dst untouched when nothing is stored.
	Get(ctx context.Context, name string, dst any) (bool, error)
	// Set stages a value; it becomes durable on Save.
	Set(ctx context.Context, name string, value any) error
	Save(ctx context.Context) error
}
