package graphql

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ErrorPath is the response path to the field an error originated from.
type ErrorPath []interface{}

// ErrorLocation points at the query source position an error refers to.
type ErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// RequestError is a single structured error: a message, optional source
// locations and path, and an optional underlying cause which is logged
// server-side but never serialized.
type RequestError struct {
	Message   string          `json:"message"`
	Locations []ErrorLocation `json:"locations,omitempty"`
	Path      ErrorPath       `json:"path,omitempty"`
	Cause     error           `json:"-"`
}

func (r RequestError) Error() string {
	return r.Message
}

// Unwrap exposes the original cause to errors.Is/errors.As.
func (r RequestError) Unwrap() error {
	return r.Cause
}

type RequestErrors []RequestError

func (r RequestErrors) Error() string {
	return fmt.Sprintf("request contains %d error(s)", len(r))
}

// RequestErrorFromError converts any error into a structured request error.
// Parse and validation errors produced by the query tooling keep their
// source locations and paths; anything else becomes a bare message with the
// original error preserved as the cause.
func RequestErrorFromError(err error) RequestError {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		requestErr := RequestError{
			Message: gqlErr.Message,
			Cause:   gqlErr.Unwrap(),
		}
		for _, location := range gqlErr.Locations {
			requestErr.Locations = append(requestErr.Locations, ErrorLocation{
				Line:   location.Line,
				Column: location.Column,
			})
		}
		for _, element := range gqlErr.Path {
			requestErr.Path = append(requestErr.Path, element)
		}
		return requestErr
	}

	var requestErr RequestError
	if errors.As(err, &requestErr) {
		return requestErr
	}

	return RequestError{
		Message: err.Error(),
		Cause:   errors.Unwrap(err),
	}
}

// RequestErrorsFromError converts any error into a structured error list.
func RequestErrorsFromError(err error) RequestErrors {
	var gqlList gqlerror.List
	if errors.As(err, &gqlList) {
		requestErrors := make(RequestErrors, 0, len(gqlList))
		for _, gqlErr := range gqlList {
			requestErrors = append(requestErrors, RequestErrorFromError(gqlErr))
		}
		return requestErrors
	}

	var requestErrors RequestErrors
	if errors.As(err, &requestErrors) {
		return requestErrors
	}

	return RequestErrors{RequestErrorFromError(err)}
}

// ErrorFormatter turns a structured error into the value sent to clients.
// The default formatter serializes the RequestError itself.
type ErrorFormatter func(requestError RequestError) interface{}

// DefaultErrorFormatter keeps message, locations and path and drops the cause.
func DefaultErrorFormatter(requestError RequestError) interface{} {
	return requestError
}

// FormatErrors applies the formatter to every error in the list and returns
// the JSON serializable result. A nil formatter falls back to the default.
func FormatErrors(requestErrors RequestErrors, formatter ErrorFormatter) []interface{} {
	if formatter == nil {
		formatter = DefaultErrorFormatter
	}

	formatted := make([]interface{}, 0, len(requestErrors))
	for _, requestError := range requestErrors {
		formatted = append(formatted, formatter(requestError))
	}
	return formatted
}

var _ json.Marshaler = RequestError{}

// MarshalJSON is implemented by hand because the Cause field must never be
// serialized even when a custom formatter returns the RequestError itself.
func (r RequestError) MarshalJSON() ([]byte, error) {
	type plain struct {
		Message   string          `json:"message"`
		Locations []ErrorLocation `json:"locations,omitempty"`
		Path      ErrorPath       `json:"path,omitempty"`
	}
	return json.Marshal(plain{
		Message:   r.Message,
		Locations: r.Locations,
		Path:      r.Path,
	})
}
