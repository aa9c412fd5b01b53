package focus

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyEvent is a key press delivered to the coordinator. Target is the id of
// the element holding focus, if any.
type KeyEvent struct {
	Key    string
	Shift  bool
	Ctrl   bool
	Alt    bool
	Target string
}

// Combo is a key with modifiers, written as "Ctrl+Shift+F6".
type Combo struct {
	Key   string
	Shift bool
	Ctrl  bool
	Alt   bool
}

// ParseCombo parses a key combination. Modifier names are case-insensitive.
func ParseCombo(s string) (Combo, error) {
	var c Combo
	parts := strings.Split(s, "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i == len(parts)-1 {
			if p == "" {
				return Combo{}, fmt.Errorf("key combination %q has no key", s)
			}
			c.Key = normaliseKey(p)
			break
		}
		switch strings.ToLower(p) {
		case "shift":
			c.Shift = true
		case "ctrl", "control":
			c.Ctrl = true
		case "alt":
			c.Alt = true
		default:
			return Combo{}, fmt.Errorf("key combination %q: unknown modifier %q", s, p)
		}
	}
	return c, nil
}

// String formats the combination the way ParseCombo reads it.
func (c Combo) String() string {
	var b strings.Builder
	if c.Ctrl {
		b.WriteString("Ctrl+")
	}
	if c.Alt {
		b.WriteString("Alt+")
	}
	if c.Shift {
		b.WriteString("Shift+")
	}
	b.WriteString(c.Key)
	return b.String()
}

// Matches reports whether ev is this combination.
func (c Combo) Matches(ev KeyEvent) bool {
	return c.Key != "" &&
		strings.EqualFold(c.Key, normaliseKey(ev.Key)) &&
		c.Shift == ev.Shift && c.Ctrl == ev.Ctrl && c.Alt == ev.Alt
}

// ComboOf returns the combination pressed in ev.
func ComboOf(ev KeyEvent) Combo {
	return Combo{Key: normaliseKey(ev.Key), Shift: ev.Shift, Ctrl: ev.Ctrl, Alt: ev.Alt}
}

func normaliseKey(k string) string {
	if len(k) == 1 {
		return strings.ToUpper(k)
	}
	switch strings.ToLower(k) {
	case "enter", "return":
		return "Enter"
	case "tab":
		return "Tab"
	case "esc", "escape":
		return "Escape"
	}
	if isFunctionKey(k) {
		return strings.ToUpper(k)
	}
	return k
}

// isFunctionKey reports whether k is F1 to F24.
func isFunctionKey(k string) bool {
	if len(k) < 2 || (k[0] != 'F' && k[0] != 'f') {
		return false
	}
	n, err := strconv.Atoi(k[1:])
	return err == nil && n >= 1 && n <= 24
}

func isDigit(k string) bool {
	return len(k) == 1 && k[0] >= '0' && k[0] <= '9'
}
