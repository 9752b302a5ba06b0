package table

// Result is a batch slot: exactly one of Value or Err is populated.
// This realizes §3's "failure token placed at the per-element slot of
// a batch" without resorting to `any` typed nils, which are a classic
// footgun when an error interface holds a typed nil pointer.
type Result struct {
	Value interface{}
	Err   error
}

// Ok reports whether the slot holds a successful result.
func (r Result) Ok() bool {
	return r.Err == nil
}

// OkResult wraps a successful value.
func OkResult(value interface{}) Result {
	return Result{Value: value}
}

// ErrResult wraps a failure token.
func ErrResult(err error) Result {
	return Result{Err: err}
}
