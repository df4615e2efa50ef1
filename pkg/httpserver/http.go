package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/jensneuse/abstractlogger"

	"github.com/graphmux/graphmux/pkg/execution"
	"github.com/graphmux/graphmux/pkg/graphql"
)

const (
	httpHeaderContentType          = "Content-Type"
	httpContentTypeApplicationJson = "application/json"
)

// Batching is a deliberate non-goal, so array-shaped bodies are rejected
// with this literal message.
const messageBatchingNotSupported = "This server does not support batching"

// handleHTTP serves the unary path: extract, build context, execute,
// serialize, then run any collected background tasks.
func (g *GraphQLHTTPRequestHandler) handleHTTP(w http.ResponseWriter, r *http.Request) {
	operations, err := g.extractOperations(r)
	if err != nil {
		g.logger.Debug("httpserver.GraphQLHTTPRequestHandler.handleHTTP: on operation extraction",
			abstractlogger.Error(err),
		)
		g.writeInputErrors(w, err.Error())
		return
	}

	if operations.batch {
		g.writeInputErrors(w, messageBatchingNotSupported)
		return
	}

	ctx, err := g.contextBuilder(r.Context(), r)
	if err != nil {
		g.logger.Error("httpserver.GraphQLHTTPRequestHandler.handleHTTP: on context building",
			abstractlogger.Error(err),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	result, err := g.engine.Execute(ctx, operations.request)
	if err != nil {
		g.logger.Error("httpserver.GraphQLHTTPRequestHandler.handleHTTP: on engine execution",
			abstractlogger.Error(err),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	g.logOriginalCauses(result.Errors)

	responseBody := struct {
		Data   json.RawMessage `json:"data"`
		Errors []interface{}   `json:"errors,omitempty"`
	}{
		Data: result.Data,
	}
	if result.HasErrors() {
		responseBody.Errors = graphql.FormatErrors(result.Errors, g.errorFormatter)
	}

	responseBytes, err := json.Marshal(responseBody)
	if err != nil {
		g.logger.Error("httpserver.GraphQLHTTPRequestHandler.handleHTTP: on response marshal",
			abstractlogger.Error(err),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	statusCode := http.StatusOK
	if result.HasErrors() {
		statusCode = g.errorStatusCode
	}

	w.Header().Add(httpHeaderContentType, httpContentTypeApplicationJson)
	w.WriteHeader(statusCode)
	_, _ = w.Write(responseBytes)

	if background := execution.BackgroundFromContext(ctx); background != nil {
		background.Run(ctx)
	}
}

// writeInputErrors answers malformed input with 400 and a bare message
// list, the shape interactive clients expect.
func (g *GraphQLHTTPRequestHandler) writeInputErrors(w http.ResponseWriter, messages ...string) {
	responseBytes, err := json.Marshal(struct {
		Errors []string `json:"errors"`
	}{
		Errors: messages,
	})
	if err != nil {
		g.logger.Error("httpserver.GraphQLHTTPRequestHandler.writeInputErrors: on response marshal",
			abstractlogger.Error(err),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Add(httpHeaderContentType, httpContentTypeApplicationJson)
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write(responseBytes)
}

func (g *GraphQLHTTPRequestHandler) logOriginalCauses(requestErrors graphql.RequestErrors) {
	for _, requestError := range requestErrors {
		if requestError.Cause == nil {
			continue
		}
		g.logger.Error("httpserver.GraphQLHTTPRequestHandler: on result with original error",
			abstractlogger.Error(requestError.Cause),
			abstractlogger.String("message", requestError.Message),
		)
	}
}
