// Package codec converts between model.State trees and plain Go values
// (map[string]any, []any, float64, string, bool, time.Time).
package codec

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/pitabwire/cooldialog/model"
)

// FromState converts a State tree into a plain value. Scalar tags win over
// children; named children produce a map, unnamed children a slice.
func FromState(s *model.State) any {
	if s == nil {
		return nil
	}
	if v, ok := scalar(s); ok {
		return v
	}
	if len(s.Map) == 0 {
		return nil
	}

	if first := s.Map[0]; first != nil && first.Name != "" {
		out := make(map[string]any, len(s.Map))
		for _, child := range s.Map {
			if child == nil {
				continue
			}
			if v := FromState(child); v != nil {
				out[child.Name] = v
			}
		}
		return out
	}

	out := make([]any, len(s.Map))
	for i, child := range s.Map {
		out[i] = FromState(child)
	}
	return out
}

// scalar returns the first set tag in the fixed order int, long, decimal,
// double, string, boolean, date, time, dateTime.
func scalar(s *model.State) (any, bool) {
	switch {
	case s.Int != nil:
		return *s.Int, true
	case s.Long != nil:
		return *s.Long, true
	case s.Decimal != nil:
		return *s.Decimal, true
	case s.Double != nil:
		return *s.Double, true
	case s.String != nil:
		return *s.String, true
	case s.Boolean != nil:
		return *s.Boolean, true
	case s.Date != nil:
		return *s.Date, true
	case s.Time != nil:
		return *s.Time, true
	case s.DateTime != nil:
		return *s.DateTime, true
	}
	return nil, false
}

// ToState converts a plain value into a State tree. Nil and func values
// yield nil. Object keys starting with "$" are skipped and an object with
// no remaining entries yields nil.
func ToState(v any) *model.State {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case *model.State:
		return x
	case string:
		return &model.State{String: &x}
	case bool:
		return &model.State{Boolean: &x}
	case float64:
		return &model.State{Decimal: &x}
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return &model.State{Decimal: &f}
		}
		s := x.String()
		return &model.State{String: &s}
	case time.Time:
		s := x.UTC().Format(time.RFC3339Nano)
		return &model.State{DateTime: &s}
	case *time.Time:
		if x == nil {
			return nil
		}
		return ToState(*x)
	case []any:
		return fromSlice(reflect.ValueOf(x))
	case map[string]any:
		return fromMap(reflect.ValueOf(x))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return ToState(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f := float64(rv.Int())
		return &model.State{Decimal: &f}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f := float64(rv.Uint())
		return &model.State{Decimal: &f}
	case reflect.Float32:
		f := rv.Float()
		return &model.State{Decimal: &f}
	case reflect.String:
		s := rv.String()
		return &model.State{String: &s}
	case reflect.Bool:
		b := rv.Bool()
		return &model.State{Boolean: &b}
	case reflect.Slice, reflect.Array:
		return fromSlice(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return fromMap(rv)
		}
	}
	return nil
}

func fromSlice(rv reflect.Value) *model.State {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return nil
	}
	children := make([]*model.State, rv.Len())
	for i := range children {
		children[i] = ToState(rv.Index(i).Interface())
	}
	return &model.State{Map: children}
}

func fromMap(rv reflect.Value) *model.State {
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	var children []*model.State
	for _, k := range keys {
		if strings.HasPrefix(k, "$") {
			continue
		}
		child := ToState(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
		if child == nil {
			continue
		}
		named := *child
		named.Name = k
		children = append(children, &named)
	}
	if len(children) == 0 {
		return nil
	}
	return &model.State{Map: children}
}
