package model

// RequestType tags a pending action and selects the Client method used to
// send it.
type RequestType string

const (
	RequestEvent         RequestType = "Event"
	RequestCommand       RequestType = "Command"
	RequestGet           RequestType = "Get"
	RequestCurrent       RequestType = "Current"
	RequestStart         RequestType = "Start"
	RequestFork          RequestType = "Fork"
	RequestChangeDialect RequestType = "ChangeDialect"
	RequestHelp          RequestType = "Help"
)

// ServiceAction returns the Client method a request type is sent through.
// Commands travel as events.
func (t RequestType) ServiceAction() RequestType {
	if t == RequestCommand {
		return RequestEvent
	}
	return t
}

// ResponseType tells the dialog how to dispatch a reconciled response.
type ResponseType string

const (
	ResponseDefault    ResponseType = "Default"
	ResponseNavigate   ResponseType = "Navigate"
	ResponseMessageBox ResponseType = "MessageBox"
	ResponseEnd        ResponseType = "End"
)

// ProcedureType classifies a running procedure.
type ProcedureType string

const (
	ProcedureBatch  ProcedureType = "Batch"
	ProcedureOnline ProcedureType = "Online"
	ProcedureWindow ProcedureType = "Window"
	ProcedureServer ProcedureType = "Server"
)

// WindowState is the server-side state of a window.
type WindowState string

const (
	WindowOpened    WindowState = "Opened"
	WindowClosed    WindowState = "Closed"
	WindowMinimized WindowState = "Minimized"
)

// DialogState is the lifecycle state of a dialog. The zero value means no
// special state and displays as Ready.
type DialogState string

const (
	StateNone       DialogState = ""
	StateReady      DialogState = "Ready"
	StatePending    DialogState = "Pending"
	StateMessageBox DialogState = "MessageBox"
	StateError      DialogState = "Error"
	StateEnded      DialogState = "Ended"
)

// Display returns the state shown to the user.
func (s DialogState) Display() DialogState {
	if s == StateNone {
		return StateReady
	}
	return s
}

// Event types understood by the server.
const (
	EventCommand     = "Command"
	EventClick       = "Click"
	EventChange      = "Change"
	EventActivated   = "Activated"
	EventDeactivated = "Deactivated"
	EventClose       = "Close"
	EventHelp        = "Help"
)

// Scroll commands handled locally when the target page is already loaded.
const (
	ScrollTop    = "TOP"
	ScrollBottom = "BOTTOM"
	ScrollPrev   = "PREV"
	ScrollNext   = "NEXT"
	ScrollReset  = "RESET"
)

// IsScrollCommand reports whether command pages through a procedure.
func IsScrollCommand(command string) bool {
	switch command {
	case ScrollTop, ScrollBottom, ScrollPrev, ScrollNext, ScrollReset:
		return true
	}
	return false
}

// Validation selects what happens when the bound form is invalid.
type Validation int

const (
	// MayBeInvalid sends the action regardless of form validity.
	MayBeInvalid Validation = iota
	// ShowInvalid alerts the first validation message and cancels.
	ShowInvalid
	// CancelInvalid cancels silently.
	CancelInvalid
)
