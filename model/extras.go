package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// fieldKeys returns the JSON keys a struct type decodes into its fields.
func fieldKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}

var (
	windowKeys  = fieldKeys(reflect.TypeFor[windowFields]())
	controlKeys = fieldKeys(reflect.TypeFor[controlFields]())
)

// Method-free copies of Window and Control for the default encoding.
type (
	windowFields  Window
	controlFields Control
)

// splitExtras decodes data into dst and returns the keys no field of dst
// claims.
func splitExtras(data []byte, dst any, known map[string]bool) (map[string]any, error) {
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var extras map[string]any
	for k, v := range raw {
		if known[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if extras == nil {
			extras = make(map[string]any)
		}
		extras[k] = val
	}
	return extras, nil
}

// joinExtras encodes v and adds extras under keys v does not emit itself.
func joinExtras(v any, extras map[string]any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extras) == 0 {
		return data, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for k, x := range extras {
		if _, ok := out[k]; !ok {
			out[k] = x
		}
	}
	return json.Marshal(out)
}

// MarshalJSON flattens known fields and extras into one object.
func (w Window) MarshalJSON() ([]byte, error) {
	return joinExtras(windowFields(w), w.Extras)
}

// UnmarshalJSON keeps attributes without a field in Extras.
func (w *Window) UnmarshalJSON(data []byte) error {
	var f windowFields
	extras, err := splitExtras(data, &f, windowKeys)
	if err != nil {
		return fmt.Errorf("window: %w", err)
	}
	f.Extras = extras
	*w = Window(f)
	return nil
}

// MarshalJSON flattens known fields and extras into one object.
func (c Control) MarshalJSON() ([]byte, error) {
	return joinExtras(controlFields(c), c.Extras)
}

// UnmarshalJSON keeps attributes without a field in Extras.
func (c *Control) UnmarshalJSON(data []byte) error {
	var f controlFields
	extras, err := splitExtras(data, &f, controlKeys)
	if err != nil {
		return fmt.Errorf("control: %w", err)
	}
	f.Extras = extras
	*c = Control(f)
	return nil
}
