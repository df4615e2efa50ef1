package websocket

import (
	"context"
	"net"

	"github.com/jensneuse/abstractlogger"

	"github.com/graphmux/graphmux/pkg/execution"
	"github.com/graphmux/graphmux/pkg/subscription"
)

// Protocol defines the protocol names as type.
type Protocol string

// ProtocolGraphQLWS is the subprotocol negotiated during the upgrade.
const ProtocolGraphQLWS Protocol = "graphql-ws"

// Handle runs the subscription protocol over an upgraded connection until
// the peer disconnects or ctx is cancelled. It blocks; callers upgrade the
// connection first and invoke Handle from its own goroutine. The connection
// is closed and every subscription torn down before Handle returns.
func Handle(ctx context.Context, conn net.Conn, engine execution.Engine, options ...subscription.Option) {
	opts := subscription.Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = abstractlogger.Noop{}
	}

	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("websocket.Handle: on deferred connection close",
				abstractlogger.Error(err),
			)
		}
	}()

	client := NewClient(logger, conn)
	handler := subscription.NewHandler(client, engine, options...)
	handler.Handle(ctx) // Blocking
}
