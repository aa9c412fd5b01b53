package model

// Procedure is a running unit of application logic. ID is assigned by the
// server; zero means the procedure no longer exists (or never did) and any
// pending action referencing it must be dropped.
type Procedure struct {
	ID         int64                   `json:"id"`
	Name       string                  `json:"name"`
	Type       ProcedureType           `json:"type"`
	In         any                     `json:"in,omitempty"`
	Out        any                     `json:"out,omitempty"`
	PageSize   *int                    `json:"pageSize,omitempty"`
	ScrollSize *int                    `json:"scrollSize,omitempty"`
	PageOffset *int                    `json:"pageOffset,omitempty"`
	Locked     bool                    `json:"locked,omitempty"`
	Commands   map[string]*CommandView `json:"commands,omitempty"`
	Windows    []*Window               `json:"windows,omitempty"`
}

// Window returns the procedure window with the given name.
func (p *Procedure) Window(name string) *Window {
	for _, w := range p.Windows {
		if w.Name == name {
			return w
		}
	}
	return nil
}

// Loaded reports whether the procedure carries both its input and output
// views. Only loaded procedures contribute windows to the display list.
func (p *Procedure) Loaded() bool {
	return p.In != nil && p.Out != nil
}

// CommandView describes a command a procedure accepts.
type CommandView struct {
	Name     string `json:"name"`
	Caption  string `json:"caption,omitempty"`
	Type     string `json:"type,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`
	Shortcut string `json:"shortcut,omitempty"`
}

// Window is one visible surface of a procedure. Attributes the server
// sends that have no field here are kept in Extras.
type Window struct {
	ID           int64               `json:"id"`
	Name         string              `json:"name"`
	Procedure    *Procedure          `json:"-"`
	Left         *float64            `json:"left,omitempty"`
	Top          *float64            `json:"top,omitempty"`
	Width        *float64            `json:"width,omitempty"`
	Height       *float64            `json:"height,omitempty"`
	Modal        bool                `json:"modal,omitempty"`
	Resizable    bool                `json:"resizable,omitempty"`
	Visible      *bool               `json:"visible,omitempty"`
	WindowState  WindowState         `json:"windowState,omitempty"`
	Locked       bool                `json:"locked,omitempty"`
	Active       bool                `json:"active,omitempty"`
	Focused      string              `json:"focused,omitempty"`
	DefaultField string              `json:"defaultField,omitempty"`
	Caption      string              `json:"caption,omitempty"`
	Order        int                 `json:"order"`
	Digest       bool                `json:"digest,omitempty"`
	Controls     map[string]*Control `json:"controls,omitempty"`
	Page         any                 `json:"-"`
	Extras       map[string]any      `json:"-"`
}

// HasGeometry reports whether the server supplied a position and size.
func (w *Window) HasGeometry() bool {
	return w.Left != nil && w.Top != nil && w.Width != nil && w.Height != nil
}

// Geometry is a window rectangle persisted between sessions.
type Geometry struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Control is the server digest of one interactive field. Extension
// attributes are kept in Extras.
type Control struct {
	Name          string         `json:"name"`
	Value         any            `json:"value,omitempty"`
	Visible       *bool          `json:"visible,omitempty"`
	Disabled      *bool          `json:"disabled,omitempty"`
	DisabledState *bool          `json:"disabledState,omitempty"`
	ReadOnly      bool           `json:"readOnly,omitempty"`
	ForeColor     string         `json:"foreColor,omitempty"`
	BackColor     string         `json:"backColor,omitempty"`
	Font          string         `json:"font,omitempty"`
	Caption       string         `json:"caption,omitempty"`
	Extras        map[string]any `json:"-"`
}

// IsDisabled resolves the explicit disabled flag, falling back to the
// dynamic disabled state.
func (c *Control) IsDisabled() bool {
	if c.Disabled != nil {
		return *c.Disabled
	}
	return c.DisabledState != nil && *c.DisabledState
}
