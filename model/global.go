package model

import (
	"encoding/json"
	"fmt"
)

// DefaultScrollAmount is the scroll amount the server assumes when none is
// sent.
const DefaultScrollAmount = "PAGE"

// Global is the per-session context replaced on every response. Keys the
// server sends that have no field here are kept in Extras.
type Global struct {
	CurrentDialect string
	ScrollAmt      string
	NextTran       string
	ClientUserID   string
	Dialog         string
	ExitState      string
	ExitStateID    string
	ErrorMessage   string
	ErrorType      string
	Command        string
	// PrevCommand is the command value as last received from the server.
	PrevCommand string
	CurrentDate string
	CurrentTime string
	Extras      map[string]any
}

// globalFields maps JSON keys onto Global fields.
func (g *Global) globalFields() map[string]*string {
	return map[string]*string{
		"currentDialect": &g.CurrentDialect,
		"scrollAmt":      &g.ScrollAmt,
		"nexttran":       &g.NextTran,
		"clientUserId":   &g.ClientUserID,
		"dialog":         &g.Dialog,
		"exitState":      &g.ExitState,
		"exitStateId":    &g.ExitStateID,
		"errmsg":         &g.ErrorMessage,
		"errtype":        &g.ErrorType,
		"command":        &g.Command,
		"$$command":      &g.PrevCommand,
		"currentDate":    &g.CurrentDate,
		"currentTime":    &g.CurrentTime,
	}
}

// MarshalJSON flattens known fields and extras into one object.
func (g Global) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(g.Extras)+8)
	for k, v := range g.Extras {
		out[k] = v
	}
	for k, p := range g.globalFields() {
		if *p != "" {
			out[k] = *p
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits an object into known fields and extras.
func (g *Global) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("global: %w", err)
	}
	*g = Global{}
	fields := g.globalFields()
	for k, v := range raw {
		if p, ok := fields[k]; ok {
			if v != nil {
				*p = fmt.Sprint(v)
			}
			continue
		}
		if g.Extras == nil {
			g.Extras = make(map[string]any)
		}
		g.Extras[k] = v
	}
	return nil
}

// Clone returns a copy whose Extras map is not shared.
func (g *Global) Clone() *Global {
	if g == nil {
		return &Global{}
	}
	c := *g
	if g.Extras != nil {
		c.Extras = make(map[string]any, len(g.Extras))
		for k, v := range g.Extras {
			c.Extras[k] = v
		}
	}
	return &c
}
