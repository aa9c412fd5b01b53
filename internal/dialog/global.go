package dialog

import (
	"github.com/pitabwire/cooldialog/model"
)

// updateDialog replaces the global context with the one carried by resp.
// The previous command is kept as PrevCommand and a response timestamp
// provides the current date and time.
func (d *Dialog) updateDialog(resp *model.Response) {
	prev := d.global
	g := resp.Global.Clone()
	if prev != nil {
		g.PrevCommand = prev.Command
	}

	// ISO 8601: yyyy-mm-ddThh:mm:ss...
	if ts := resp.Timestamp; len(ts) >= 10 {
		g.CurrentDate = ts[:10]
		if len(ts) >= 19 {
			g.CurrentTime = ts[11:19]
		}
	}
	d.global = g
}
