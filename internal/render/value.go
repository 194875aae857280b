// Package render builds DOCX exports from generated review content.
package render

import (
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the shapes a rendered cell value can take.
type Kind int

const (
	KindEmpty Kind = iota
	KindScalar
	KindList
	KindRecord
)

// Field is one key/value pair of a record value, in render order.
type Field struct {
	Key   string
	Value Value
}

// Value is a tagged variant of the shapes that can land in a document cell.
// Exactly one of Scalar, List, or Record is meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Scalar string
	List   []Value
	Record []Field
}

// ScalarValue wraps a plain string.
func ScalarValue(s string) Value {
	return Value{Kind: KindScalar, Scalar: s}
}

// FromString wraps a nullable string, mapping nil to the empty value.
func FromString(s *string) Value {
	if s == nil {
		return Value{}
	}
	return ScalarValue(*s)
}

// FromAny converts a decoded JSON value into a tagged Value. Map keys are
// sorted so record rendering is deterministic.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case string:
		return ScalarValue(t)
	case bool:
		if t {
			return ScalarValue("true")
		}
		return ScalarValue("false")
	case float64:
		return ScalarValue(strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), "."))
	case []any:
		list := make([]Value, 0, len(t))
		for _, item := range t {
			list = append(list, FromAny(item))
		}
		return Value{Kind: KindList, List: list}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, Field{Key: k, Value: FromAny(t[k])})
		}
		return Value{Kind: KindRecord, Record: fields}
	default:
		return ScalarValue(fmt.Sprint(t))
	}
}

// preferredRecordKeys are tried first when flattening a record to one cell.
var preferredRecordKeys = []string{"value", "text", "name", "title", "status", "amount"}

// Render flattens the value to cell text, substituting fallback for anything
// that renders empty.
func (v Value) Render(fallback string) string {
	switch v.Kind {
	case KindScalar:
		if out := strings.TrimSpace(v.Scalar); out != "" {
			return out
		}
		return fallback
	case KindList:
		parts := make([]string, 0, len(v.List))
		for _, item := range v.List {
			rendered := item.Render("")
			if rendered == "" || rendered == "N/A" {
				continue
			}
			parts = append(parts, rendered)
		}
		if out := strings.TrimSpace(strings.Join(parts, "; ")); out != "" {
			return out
		}
		return fallback
	case KindRecord:
		for _, key := range preferredRecordKeys {
			for _, field := range v.Record {
				if field.Key != key {
					continue
				}
				if rendered := field.Value.Render(""); rendered != "" {
					return rendered
				}
			}
		}
		parts := make([]string, 0, len(v.Record))
		for _, field := range v.Record {
			rendered := field.Value.Render("")
			if rendered == "" {
				continue
			}
			parts = append(parts, field.Key+": "+rendered)
		}
		if out := strings.TrimSpace(strings.Join(parts, ", ")); out != "" {
			return out
		}
		return fallback
	default:
		return fallback
	}
}
