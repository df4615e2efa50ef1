package execution

import (
	"context"

	gographql "github.com/graph-gophers/graphql-go"
	gographqlerrors "github.com/graph-gophers/graphql-go/errors"
	"github.com/jensneuse/abstractlogger"

	"github.com/graphmux/graphmux/pkg/graphql"
)

// GraphGophersEngine adapts a graph-gophers schema to the Engine interface.
// Root value and resolver middleware are bound at schema construction time
// via the resolver object and graph-gophers schema options (e.g. Tracer),
// so a single immutable schema serves all requests concurrently.
type GraphGophersEngine struct {
	schema *gographql.Schema
	logger abstractlogger.Logger
}

func NewGraphGophersEngine(schema *gographql.Schema, logger abstractlogger.Logger) *GraphGophersEngine {
	if logger == nil {
		logger = abstractlogger.Noop{}
	}

	return &GraphGophersEngine{
		schema: schema,
		logger: logger,
	}
}

// Execute runs a query or mutation to completion and returns its result.
func (e *GraphGophersEngine) Execute(ctx context.Context, operation *graphql.Request) (*graphql.Response, error) {
	result := e.schema.Exec(ctx, operation.Query, operation.OperationName, operation.Variables)

	e.logger.Debug("execution.GraphGophersEngine.Execute: after engine execution",
		abstractlogger.String("operationName", operation.OperationName),
		abstractlogger.Int("errors", len(result.Errors)),
	)

	return convertResponse(result), nil
}

// Subscribe validates the operation and starts the engine-side producer.
// Validation failures are returned synchronously as graphql.RequestErrors
// and no producer is started. The returned stream closes when the producer
// is exhausted or ctx is cancelled.
func (e *GraphGophersEngine) Subscribe(ctx context.Context, operation *graphql.Request) (Stream, error) {
	if validationErrs := e.schema.ValidateWithVariables(operation.Query, operation.Variables); len(validationErrs) > 0 {
		return nil, convertQueryErrors(validationErrs)
	}

	source, err := e.schema.Subscribe(ctx, operation.Query, operation.OperationName, operation.Variables)
	if err != nil {
		return nil, graphql.RequestErrorsFromError(err)
	}

	stream := make(chan *graphql.Response)
	go func() {
		defer close(stream)
		for message := range source {
			result, ok := message.(*gographql.Response)
			if !ok {
				e.logger.Error("execution.GraphGophersEngine.Subscribe: on result conversion",
					abstractlogger.String("message", "unexpected message type from engine"),
				)
				continue
			}

			select {
			case stream <- convertResponse(result):
			case <-ctx.Done():
				return
			}
		}
	}()

	return stream, nil
}

func convertResponse(result *gographql.Response) *graphql.Response {
	return &graphql.Response{
		Data:   result.Data,
		Errors: convertQueryErrors(result.Errors),
	}
}

func convertQueryErrors(queryErrors []*gographqlerrors.QueryError) graphql.RequestErrors {
	if len(queryErrors) == 0 {
		return nil
	}

	requestErrors := make(graphql.RequestErrors, 0, len(queryErrors))
	for _, queryError := range queryErrors {
		requestError := graphql.RequestError{
			Message: queryError.Message,
			Path:    queryError.Path,
			Cause:   queryError.ResolverError,
		}
		for _, location := range queryError.Locations {
			requestError.Locations = append(requestError.Locations, graphql.ErrorLocation{
				Line:   location.Line,
				Column: location.Column,
			})
		}
		requestErrors = append(requestErrors, requestError)
	}
	return requestErrors
}

// Interface Guard
var _ Engine = (*GraphGophersEngine)(nil)
