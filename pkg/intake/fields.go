package intake

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// text accepts a JSON string, or a number or boolean rendered as text.
// Forms often send host_version as 7 or 7.0 rather than "7.0".
type text struct {
	value   string
	set     bool
	invalid bool
}

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*t = text{}
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			t.invalid = true
			return nil
		}
		t.value, t.set = strings.TrimSpace(s), true
	case len(b) > 0 && (b[0] == '{' || b[0] == '['):
		t.invalid = true
	default:
		t.value, t.set = string(b), true
	}
	return nil
}

// ptr returns nil for absent or blank values.
func (t text) ptr() *string {
	if !t.set || t.value == "" {
		return nil
	}
	v := t.value
	return &v
}

// or returns t when set, else fallback.
func (t text) or(fallback text) text {
	if t.set || t.invalid {
		return t
	}
	return fallback
}

// number accepts a JSON number or a numeric string.
type number struct {
	value   float64
	set     bool
	invalid bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*n = number{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			n.invalid = true
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		n.invalid = true
		return nil
	}
	n.value, n.set = f, true
	return nil
}

func (n number) or(fallback number) number {
	if n.set || n.invalid {
		return n
	}
	return fallback
}

// integer reports the value as an int, or ok=false when it has a fraction.
func (n number) integer() (int, bool) {
	if n.value != math.Trunc(n.value) || math.Abs(n.value) > math.MaxInt32 {
		return 0, false
	}
	return int(n.value), true
}
