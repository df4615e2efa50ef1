// Package graphql contains the operation, response and error model shared
// by the HTTP and WebSocket serving layers.
package graphql

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// OperationType describes the kind of operation a Request resolves to.
type OperationType int

const (
	OperationTypeUnknown OperationType = iota
	OperationTypeQuery
	OperationTypeMutation
	OperationTypeSubscription
)

var ErrEmptyRequest = errors.New("the provided request is empty")

// Request is a single GraphQL operation descriptor as submitted by a client.
// Variables are kept as a decoded tree so that the multipart upload path can
// graft file handles into them before execution.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// UnmarshalRequest reads a JSON encoded request body into a Request.
func UnmarshalRequest(reader io.Reader, request *Request) error {
	requestBytes, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	if len(requestBytes) == 0 {
		return ErrEmptyRequest
	}

	return json.Unmarshal(requestBytes, request)
}

// OperationType parses the query and resolves the operation definition the
// request refers to, honoring OperationName on multi-operation documents.
// A syntax error is returned as-is so callers can format it with locations.
func (r *Request) OperationType() (OperationType, error) {
	document, err := parser.ParseQuery(&ast.Source{Input: r.Query})
	if err != nil {
		return OperationTypeUnknown, err
	}

	operation := document.Operations.ForName(r.OperationName)
	if operation == nil {
		return OperationTypeUnknown, nil
	}

	switch operation.Operation {
	case ast.Query:
		return OperationTypeQuery, nil
	case ast.Mutation:
		return OperationTypeMutation, nil
	case ast.Subscription:
		return OperationTypeSubscription, nil
	}

	return OperationTypeUnknown, nil
}
