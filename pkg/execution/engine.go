// Package execution defines the boundary to the GraphQL execution engine.
// The serving layers in this module treat the engine as a collaborator
// behind the Engine interface; the graph-gophers adapter in this package is
// one implementation of it.
package execution

import (
	"context"

	"github.com/graphmux/graphmux/pkg/graphql"
)

// Stream is the result producer of a live subscription. It yields responses
// in arrival order and is closed by the engine when the subscription ends
// or the subscribing context is cancelled. Cancelling the context releases
// all engine-side resources of the producer.
type Stream <-chan *graphql.Response

// Engine executes GraphQL operations. Execute serves the unary path for
// queries and mutations, Subscribe the streaming path for subscriptions.
//
// Subscribe returns an error for failures that occur before any result is
// produced (validation errors, unsupported operation shapes); such an error
// means no Stream was started and nothing needs cancelling.
type Engine interface {
	Execute(ctx context.Context, operation *graphql.Request) (*graphql.Response, error)
	Subscribe(ctx context.Context, operation *graphql.Request) (Stream, error)
}
