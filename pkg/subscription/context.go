package subscription

import (
	"context"
	"encoding/json"
)

type connectionParamsKey struct{}

// withConnectionParams attaches the connection_init payload to the context
// of every operation started on the connection.
func withConnectionParams(ctx context.Context, params json.RawMessage) context.Context {
	if len(params) == 0 {
		return ctx
	}
	return context.WithValue(ctx, connectionParamsKey{}, params)
}

// ConnectionParams returns the payload the client sent with
// connection_init, readable by every resolver on the connection. It is nil
// for HTTP requests and for connections that never sent an init payload.
func ConnectionParams(ctx context.Context) json.RawMessage {
	params, _ := ctx.Value(connectionParamsKey{}).(json.RawMessage)
	return params
}
