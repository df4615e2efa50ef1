package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/graphmux/graphmux/pkg/graphql"
	"github.com/graphmux/graphmux/pkg/upload"
)

// Input errors carry the exact messages clients of the upload convention
// have come to rely on.
var (
	ErrContentTypeNotSupported = errors.New("Content-type must be application/json or multipart/form-data")
	ErrInvalidJSONBody         = errors.New("Request body is not a valid JSON")
	ErrInvalidMultipartBody    = errors.New("Request body is not a valid multipart/form-data")
	ErrOperationsInvalidJSON   = errors.New("'operations' must be a valid JSON")
	ErrOperationsInvalidShape  = errors.New("'operations' field must be an Object or an Array")
	ErrFileMapInvalidJSON      = errors.New("'map' field must be a valid JSON")
	ErrFileMapInvalidShape     = errors.New("'map' field must be an Object")
	ErrFileMapEntryNotPathList = errors.New("'map' entries must be arrays of dotted paths")
)

// operations is the extraction result: a single operation descriptor, or a
// batch marker the caller rejects. Extraction only classifies the shape.
type operations struct {
	request *graphql.Request
	batch   bool
}

// extractOperations dispatches on the declared content type, ignoring any
// parameters after ';' and case.
func (g *GraphQLHTTPRequestHandler) extractOperations(r *http.Request) (*operations, error) {
	contentType := r.Header.Get(httpHeaderContentType)
	contentType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))

	switch contentType {
	case httpContentTypeApplicationJson:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, ErrInvalidJSONBody
		}
		return operationsFromJSON(body)
	case "multipart/form-data":
		return g.extractMultipartOperations(r)
	default:
		return nil, ErrContentTypeNotSupported
	}
}

// operationsFromJSON classifies the top-level shape of a fully valid JSON
// body, then decodes object bodies into a request descriptor. Validity is
// checked up front: a body with a malformed tail (such as a truncated
// array) is invalid JSON, not a batch.
func operationsFromJSON(body []byte) (*operations, error) {
	if !json.Valid(body) {
		return nil, ErrInvalidJSONBody
	}

	_, valueType, _, err := jsonparser.Get(body)
	if err != nil {
		return nil, ErrInvalidJSONBody
	}

	switch valueType {
	case jsonparser.Array:
		return &operations{batch: true}, nil
	case jsonparser.Object:
		var request graphql.Request
		if err := graphql.UnmarshalRequest(bytes.NewReader(body), &request); err != nil {
			return nil, ErrInvalidJSONBody
		}
		return &operations{request: &request}, nil
	default:
		return nil, ErrInvalidJSONBody
	}
}

// extractMultipartOperations implements the multipart request convention:
// an 'operations' JSON document with null file placeholders, a 'map' from
// form part name to dotted paths, and one file part per mapped name.
func (g *GraphQLHTTPRequestHandler) extractMultipartOperations(r *http.Request) (*operations, error) {
	if err := r.ParseMultipartForm(g.multipartMaxMemory); err != nil {
		return nil, ErrInvalidMultipartBody
	}

	form := r.MultipartForm

	operationsValue, err := decodeOperationsField(firstFormValue(form.Value, "operations"))
	if err != nil {
		return nil, err
	}

	fileMap, err := decodeFileMapField(firstFormValue(form.Value, "map"))
	if err != nil {
		return nil, err
	}

	files := make(map[string]*upload.File, len(form.File))
	for field, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		files[field] = &upload.File{
			Field:  field,
			Header: headers[0],
		}
	}

	if err := upload.InjectFiles(operationsValue, fileMap, files); err != nil {
		return nil, err
	}

	if _, isBatch := operationsValue.([]interface{}); isBatch {
		return &operations{batch: true}, nil
	}

	return &operations{request: requestFromTree(operationsValue.(map[string]interface{}))}, nil
}

func firstFormValue(values map[string][]string, field string) (string, bool) {
	fieldValues, ok := values[field]
	if !ok || len(fieldValues) == 0 {
		return "", false
	}
	return fieldValues[0], true
}

func decodeOperationsField(field string, present bool) (interface{}, error) {
	if !present {
		return nil, ErrOperationsInvalidJSON
	}

	value, valueType, _, err := jsonparser.Get([]byte(field))
	if err != nil {
		return nil, ErrOperationsInvalidJSON
	}

	switch valueType {
	case jsonparser.Object, jsonparser.Array:
		var tree interface{}
		if err := json.Unmarshal(value, &tree); err != nil {
			return nil, ErrOperationsInvalidJSON
		}
		return tree, nil
	default:
		return nil, ErrOperationsInvalidShape
	}
}

func decodeFileMapField(field string, present bool) (map[string][]string, error) {
	if !present {
		return nil, ErrFileMapInvalidJSON
	}

	value, valueType, _, err := jsonparser.Get([]byte(field))
	if err != nil {
		return nil, ErrFileMapInvalidJSON
	}
	if valueType != jsonparser.Object {
		return nil, ErrFileMapInvalidShape
	}

	var rawMap map[string]interface{}
	if err := json.Unmarshal(value, &rawMap); err != nil {
		return nil, ErrFileMapInvalidJSON
	}

	fileMap := make(map[string][]string, len(rawMap))
	for name, rawPaths := range rawMap {
		pathList, ok := rawPaths.([]interface{})
		if !ok {
			return nil, ErrFileMapEntryNotPathList
		}
		paths := make([]string, 0, len(pathList))
		for _, rawPath := range pathList {
			path, ok := rawPath.(string)
			if !ok {
				return nil, ErrFileMapEntryNotPathList
			}
			paths = append(paths, path)
		}
		fileMap[name] = paths
	}

	return fileMap, nil
}

// requestFromTree lowers the injected operations document into a request
// descriptor. The variables tree may contain upload handles, so it is
// carried as-is rather than re-encoded.
func requestFromTree(tree map[string]interface{}) *graphql.Request {
	request := &graphql.Request{}
	if query, ok := tree["query"].(string); ok {
		request.Query = query
	}
	if operationName, ok := tree["operationName"].(string); ok {
		request.OperationName = operationName
	}
	if variables, ok := tree["variables"].(map[string]interface{}); ok {
		request.Variables = variables
	}
	return request
}
