package model

// EventObject is one user interaction sent to the server.
type EventObject struct {
	Type         string     `json:"type"`
	Command      string     `json:"command,omitempty"`
	Window       string     `json:"window,omitempty"`
	Component    string     `json:"component,omitempty"`
	TargetWindow string     `json:"targetWindow,omitempty"`
	Value        any        `json:"value,omitempty"`
	Shift        bool       `json:"shiftKey,omitempty"`
	Ctrl         bool       `json:"ctrlKey,omitempty"`
	Alt          bool       `json:"altKey,omitempty"`
	Data         []FileData `json:"data,omitempty"`
}

// FileData is an uploaded file attached to an event.
type FileData struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Content     []byte `json:"content"`
}

// Request is one outbound round trip.
type Request struct {
	DialogID string      `json:"-"`
	Action   RequestType `json:"action"`
	Index    string      `json:"index,omitempty"`

	ScrollAmt    string `json:"scrollAmt,omitempty"`
	NextTran     string `json:"nexttran,omitempty"`
	ClientUserID string `json:"clientUserId,omitempty"`
	Dialog       string `json:"dialog,omitempty"`
	ExitState    string `json:"exitState,omitempty"`
	ExitStateID  string `json:"exitStateId,omitempty"`
	Command      string `json:"command,omitempty"`

	CurrentDialect string         `json:"currentDialect,omitempty"`
	Restart        bool           `json:"restart,omitempty"`
	CommandLine    string         `json:"commandLine,omitempty"`
	Params         map[string]any `json:"params,omitempty"`

	ID       int64         `json:"id,omitempty"`
	Name     string        `json:"name,omitempty"`
	In       any           `json:"in,omitempty"`
	Window   string        `json:"window,omitempty"`
	Controls *State        `json:"controls,omitempty"`
	Events   []EventObject `json:"events,omitempty"`
}

// Response is the server answer to a Request.
type Response struct {
	ResponseType ResponseType      `json:"responseType"`
	ID           int64             `json:"id,omitempty"`
	Mode         string            `json:"mode,omitempty"`
	Index        string            `json:"index,omitempty"`
	Timestamp    string            `json:"timestamp,omitempty"`
	Procedures   []ProcedureDigest `json:"procedures,omitempty"`
	MessageBox   *MessageBox       `json:"messageBox,omitempty"`
	Launch       []LaunchCommand   `json:"launch,omitempty"`
	Global       *Global           `json:"global,omitempty"`
}

// ProcedureDigest is the server description of a procedure. Windows are
// encoded as State trees.
type ProcedureDigest struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Type     ProcedureType  `json:"type"`
	In       any            `json:"in,omitempty"`
	Out      any            `json:"out,omitempty"`
	Changed  bool           `json:"changed,omitempty"`
	Locked   bool           `json:"locked,omitempty"`
	Commands []*CommandView `json:"commands,omitempty"`
	Windows  []*State       `json:"windows,omitempty"`
}

// MessageBox describes a server-driven modal prompt.
type MessageBox struct {
	Type          string            `json:"type,omitempty"`
	Title         string            `json:"title,omitempty"`
	Message       string            `json:"message"`
	Icon          string            `json:"icon,omitempty"`
	Buttons       MessageBoxButtons `json:"buttons,omitempty"`
	DefaultButton string            `json:"defaultButton,omitempty"`
	Accept        string            `json:"accept,omitempty"`
	Multiple      bool              `json:"multiple,omitempty"`
}

// MessageBoxFileOpen is the message box subtype answered with an upload.
const MessageBoxFileOpen = "FileOpen"

// MessageBoxButtons enumerates button sets.
type MessageBoxButtons string

const (
	ButtonsOK               MessageBoxButtons = "OK"
	ButtonsOKCancel         MessageBoxButtons = "OKCancel"
	ButtonsAbortRetryIgnore MessageBoxButtons = "AbortRetryIgnore"
	ButtonsYesNo            MessageBoxButtons = "YesNo"
	ButtonsYesNoCancel      MessageBoxButtons = "YesNoCancel"
	ButtonsRetryCancel      MessageBoxButtons = "RetryCancel"
)

// Message box button ids and the pseudo choices a UI reports when the box
// is dismissed without a button.
const (
	ButtonOK     = "OK"
	ButtonCancel = "Cancel"
	ButtonAbort  = "Abort"
	ButtonRetry  = "Retry"
	ButtonIgnore = "Ignore"
	ButtonYes    = "Yes"
	ButtonNo     = "No"
	ButtonEscape = "Escape"
	ButtonClose  = "Close"
)

// LaunchCommand asks the client to open an external resource.
type LaunchCommand struct {
	Type   string `json:"type,omitempty"`
	URL    string `json:"url,omitempty"`
	Target string `json:"target,omitempty"`
}
