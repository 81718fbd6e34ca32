package normalize

import "fmt"

// Result is the outcome of coercing one raw value. A null Result with an
// empty reason means the input was simply absent.
type Result[T any] struct {
	value  T
	valid  bool
	raw    string
	reason string
}

func valid[T any](v T) Result[T] {
	return Result[T]{value: v, valid: true}
}

func absent[T any]() Result[T] {
	return Result[T]{}
}

func failed[T any](raw any, reason string) Result[T] {
	return Result[T]{raw: describe(raw), reason: reason}
}

// Valid reports whether the Result holds a value.
func (r Result[T]) Valid() bool {
	return r.valid
}

// Value returns the coerced value and whether it is set.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.valid
}

// Ptr returns a pointer to a copy of the value, or nil when the Result is null.
func (r Result[T]) Ptr() *T {
	if !r.valid {
		return nil
	}
	v := r.value
	return &v
}

// Reason explains why a non-absent input was nulled.
func (r Result[T]) Reason() string {
	return r.reason
}

// Failed reports whether the input was present but could not be coerced.
func (r Result[T]) Failed() bool {
	return !r.valid && r.reason != ""
}

// Diagnostic converts a failed Result into a Diagnostic for field. The second
// return value is false when there is nothing to report.
func (r Result[T]) Diagnostic(field string) (Diagnostic, bool) {
	if !r.Failed() {
		return Diagnostic{}, false
	}
	return Diagnostic{Field: field, Raw: r.raw, Reason: r.reason}, true
}

// Diagnostic records a coercion failure that was recovered by nulling a field.
type Diagnostic struct {
	Field  string `json:"field"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s (raw=%q)", d.Field, d.Reason, d.Raw)
}

// Collector accumulates diagnostics while a record is assembled.
type Collector struct {
	items []Diagnostic
}

// Observe records the diagnostic of r, if any, and returns r unchanged so calls
// can be chained inline.
func Observe[T any](c *Collector, field string, r Result[T]) Result[T] {
	if c == nil {
		return r
	}
	if d, ok := r.Diagnostic(field); ok {
		c.items = append(c.items, d)
	}
	return r
}

// Add appends diagnostics gathered elsewhere.
func (c *Collector) Add(diags ...Diagnostic) {
	c.items = append(c.items, diags...)
}

// Diagnostics returns a copy of everything recorded so far.
func (c *Collector) Diagnostics() []Diagnostic {
	if c == nil || len(c.items) == 0 {
		return nil
	}
	out := make([]Diagnostic, len(c.items))
	copy(out, c.items)
	return out
}

func describe(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
