// Package intake turns loosely typed order requests into canonical records.
//
// Requests arrive as arbitrary JSON objects from forms and scripts. Numbers
// may be sent as strings, workorders may use the nested general/resources
// shape, and timestamps may be in any ISO-8601 flavor. The Normalizer accepts
// all of that, fills defaults, and reports every rejected field at once in a
// *ValidationError.
package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Normalizer validates and canonicalizes order requests.
type Normalizer struct {
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewNormalizer creates a normalizer. A nil clock uses time.Now.
func NewNormalizer(logger zerolog.Logger, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Normalizer{
		validate: v,
		logger:   logger.With().Str("component", "intake").Logger(),
		now:      now,
	}
}

// timestampLayouts are tried in order by parseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTimestamp accepts the ISO-8601 variants browsers and scripts send.
// Values without a zone are taken as UTC.
func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// timestamp parses a caller supplied time, falling back to the current time
// with a warning when the value is present but unparseable.
func (n *Normalizer) timestamp(field string, t text) time.Time {
	if !t.set || t.value == "" {
		return n.now().UTC()
	}
	if parsed, ok := parseTimestamp(t.value); ok {
		return parsed
	}
	n.logger.Warn().
		Str("field", field).
		Str("value", t.value).
		Msg("unparseable timestamp, using current time")
	return n.now().UTC()
}

// decode unmarshals a request object. Type mismatches become field errors;
// anything that is not a JSON object is rejected outright.
func decode(raw []byte, dst any, verr *ValidationError) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		verr.add("", "request body must be a JSON object")
		return false
	}

	err := json.Unmarshal(trimmed, dst)
	if err == nil {
		return true
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		verr.add(field, "%s must be %s", field, describeType(typeErr.Type))
		return true
	}

	verr.add("", "request body is not valid JSON")
	return false
}

func describeType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return "a list"
	case reflect.Struct, reflect.Map, reflect.Ptr:
		return "an object"
	case reflect.String:
		return "a string"
	default:
		return "a " + t.Kind().String()
	}
}

// wholeNumber converts n for an integer field, recording a field error when
// it is not numeric or has a fraction. Absent values return nil.
func wholeNumber(field string, n number, verr *ValidationError) *int {
	if n.invalid {
		verr.add(field, "%s must be a number", field)
		return nil
	}
	if !n.set {
		return nil
	}
	v, ok := n.integer()
	if !ok {
		verr.add(field, "%s must be a whole number", field)
		return nil
	}
	return &v
}

func realNumber(field string, n number, verr *ValidationError) *float64 {
	if n.invalid {
		verr.add(field, "%s must be a number", field)
		return nil
	}
	if !n.set {
		return nil
	}
	v := n.value
	return &v
}

func textValue(field string, t text, verr *ValidationError) string {
	if t.invalid {
		verr.add(field, "%s must be a string", field)
		return ""
	}
	return t.value
}

func textPtr(field string, t text, verr *ValidationError) *string {
	if t.invalid {
		verr.add(field, "%s must be a string", field)
		return nil
	}
	return t.ptr()
}
