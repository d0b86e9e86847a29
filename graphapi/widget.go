package graphapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type WidgetKind int

const (
	WidgetString WidgetKind = iota
	WidgetInt
	WidgetFloat
	WidgetBool
)

func (k WidgetKind) String() string {
	switch k {
	case WidgetString:
		return "string"
	case WidgetInt:
		return "int"
	case WidgetFloat:
		return "float"
	case WidgetBool:
		return "bool"
	}
	return "unknown"
}

// WidgetValue is a literal parameter stored on a node, e.g. the text of a prompt encoder.
// The kind is taken from the JSON token itself: there is no type field in the document.
type WidgetValue struct {
	Kind  WidgetKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

func (w *WidgetValue) UnmarshalJSON(b []byte) error {
	switch c := firstByte(b); {
	case c == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*w = WidgetValue{Kind: WidgetString, Str: s}
		return nil
	case c == 't' || c == 'f':
		var v bool
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*w = WidgetValue{Kind: WidgetBool, Bool: v}
		return nil
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*w = numberWidget(n.String())
		return nil
	}
	return &ShapeError{
		Expected: "a string or an integer or a float or a boolean",
		Detail:   fmt.Sprintf("got %s", tokenKind(b)),
	}
}

func numberWidget(lit string) WidgetValue {
	if !strings.ContainsAny(lit, ".eE") {
		if v, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return WidgetValue{Kind: WidgetInt, Int: v}
		}
		// values past the signed range wrap
		if v, err := strconv.ParseUint(lit, 10, 64); err == nil {
			return WidgetValue{Kind: WidgetInt, Int: int64(v)}
		}
	}
	// json.Number has already validated the literal
	v, _ := strconv.ParseFloat(lit, 64)
	return WidgetValue{Kind: WidgetFloat, Float: v}
}

// AsString returns the string payload and whether the value is a string.
func (w WidgetValue) AsString() (string, bool) {
	return w.Str, w.Kind == WidgetString
}

func (w WidgetValue) Value() interface{} {
	switch w.Kind {
	case WidgetInt:
		return w.Int
	case WidgetFloat:
		return w.Float
	case WidgetBool:
		return w.Bool
	}
	return w.Str
}
