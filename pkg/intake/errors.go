package intake

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError is one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`

	// Missing is set when the field was required and absent.
	Missing bool `json:"-"`
}

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Messages(), "; ")
}

// HasMissing reports whether any required field was absent.
func (e *ValidationError) HasMissing() bool {
	for _, fe := range e.Errors {
		if fe.Missing {
			return true
		}
	}
	return false
}

// Messages returns the field messages in order.
func (e *ValidationError) Messages() []string {
	out := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		out[i] = fe.Message
	}
	return out
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) missing(field string) {
	e.Errors = append(e.Errors, FieldError{
		Field:   field,
		Message: "Missing required field: " + field,
		Missing: true,
	})
}

func (e *ValidationError) orNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// collect appends the failures reported by validator.Struct or Var, naming
// each under prefix. Errors that are not validation failures are returned
// unchanged.
func (e *ValidationError) collect(err error, prefix string) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		name := fieldPath(fe)
		switch {
		case prefix != "" && name == "":
			name = prefix
		case prefix != "":
			name = prefix + "." + name
		}
		if fe.Tag() == "required" {
			e.missing(name)
			continue
		}
		e.Errors = append(e.Errors, FieldError{Field: name, Message: describe(name, fe)})
	}
	return nil
}

// fieldPath drops the top-level struct name from the namespace, leaving
// e.g. "disks[0].size".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "ip":
		return fmt.Sprintf("%s must be a valid IP address", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// dedupe keeps the first error reported for each field. Parse errors are
// recorded before struct validation runs, so they win over the generic
// required or range failure for the same field.
func (e *ValidationError) dedupe() {
	seen := make(map[string]bool)
	out := e.Errors[:0]
	for _, fe := range e.Errors {
		if seen[fe.Field] {
			continue
		}
		seen[fe.Field] = true
		out = append(out, fe)
	}
	e.Errors = out
}
