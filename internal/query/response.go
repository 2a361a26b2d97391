package query

// Response is the {data, error} envelope every operation resolves to.
//
// Error is nil on success. Data may be the zero value alongside a nil Error
// when a Single query matched nothing.
type Response[T any] struct {
	Data  T              `json:"data"`
	Error *ResponseError `json:"error"`
}

// ResponseError is the error half of a Response.
type ResponseError struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Result wraps the outcome of an operation in a Response.
func Result[T any](data T, err error) Response[T] {
	r := Response[T]{Data: data}
	if err != nil {
		r.Error = &ResponseError{Message: err.Error()}
	}
	return r
}
