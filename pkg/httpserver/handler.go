// Package httpserver handles GraphQL HTTP requests including WebSocket
// upgrades and the multipart file upload convention.
package httpserver

import (
	"context"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/jensneuse/abstractlogger"

	"github.com/graphmux/graphmux/pkg/execution"
	"github.com/graphmux/graphmux/pkg/graphql"
	"github.com/graphmux/graphmux/pkg/subscription"
	"github.com/graphmux/graphmux/pkg/subscription/websocket"
)

const defaultMultipartMaxMemory = 32 << 20 // 32 MB

// Options configures a GraphQLHTTPRequestHandler.
type Options struct {
	Logger         abstractlogger.Logger
	ContextBuilder execution.ContextBuilder
	ErrorFormatter graphql.ErrorFormatter
	// ErrorStatusCode is the status returned when the engine reports
	// errors on the unary path. Defaults to http.StatusOK.
	ErrorStatusCode int
	// GetHandler serves GET requests, typically an interactive console.
	// When nil, GET is answered with 405.
	GetHandler http.Handler
	// MultipartMaxMemory bounds the in-memory part of parsed multipart
	// bodies, in bytes.
	MultipartMaxMemory int64
	// SubscriptionOptions are passed through to every upgraded connection.
	SubscriptionOptions []subscription.Option
}

type Option func(opts *Options)

func WithLogger(logger abstractlogger.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func WithContextBuilder(builder execution.ContextBuilder) Option {
	return func(opts *Options) {
		opts.ContextBuilder = builder
	}
}

func WithErrorFormatter(formatter graphql.ErrorFormatter) Option {
	return func(opts *Options) {
		opts.ErrorFormatter = formatter
	}
}

func WithErrorStatusCode(statusCode int) Option {
	return func(opts *Options) {
		opts.ErrorStatusCode = statusCode
	}
}

func WithGetHandler(handler http.Handler) Option {
	return func(opts *Options) {
		opts.GetHandler = handler
	}
}

func WithMultipartMaxMemory(maxMemory int64) Option {
	return func(opts *Options) {
		opts.MultipartMaxMemory = maxMemory
	}
}

func WithSubscriptionOptions(options ...subscription.Option) Option {
	return func(opts *Options) {
		opts.SubscriptionOptions = append(opts.SubscriptionOptions, options...)
	}
}

// GraphQLHTTPRequestHandler serves the unary HTTP path and upgrades
// WebSocket requests into subscription protocol sessions.
type GraphQLHTTPRequestHandler struct {
	logger              abstractlogger.Logger
	engine              execution.Engine
	contextBuilder      execution.ContextBuilder
	errorFormatter      graphql.ErrorFormatter
	errorStatusCode     int
	getHandler          http.Handler
	multipartMaxMemory  int64
	subscriptionOptions []subscription.Option
	wsUpgrader          ws.HTTPUpgrader
}

// NewGraphQLHTTPRequestHandler creates a handler around an engine. The
// handler is stateless across requests and safe for concurrent use.
func NewGraphQLHTTPRequestHandler(engine execution.Engine, options ...Option) *GraphQLHTTPRequestHandler {
	opts := Options{
		Logger:             abstractlogger.Noop{},
		ContextBuilder:     execution.DefaultContextBuilder,
		ErrorStatusCode:    http.StatusOK,
		MultipartMaxMemory: defaultMultipartMaxMemory,
	}

	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = abstractlogger.Noop{}
	}
	if opts.ContextBuilder == nil {
		opts.ContextBuilder = execution.DefaultContextBuilder
	}
	if opts.ErrorStatusCode == 0 {
		opts.ErrorStatusCode = http.StatusOK
	}
	if opts.MultipartMaxMemory <= 0 {
		opts.MultipartMaxMemory = defaultMultipartMaxMemory
	}

	return &GraphQLHTTPRequestHandler{
		logger:              opts.Logger,
		engine:              engine,
		contextBuilder:      opts.ContextBuilder,
		errorFormatter:      opts.ErrorFormatter,
		errorStatusCode:     opts.ErrorStatusCode,
		getHandler:          opts.GetHandler,
		multipartMaxMemory:  opts.MultipartMaxMemory,
		subscriptionOptions: opts.SubscriptionOptions,
		wsUpgrader: ws.HTTPUpgrader{
			Protocol: func(protocol string) bool {
				return protocol == string(websocket.ProtocolGraphQLWS)
			},
		},
	}
}

func (g *GraphQLHTTPRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.isWebsocketUpgrade(r) {
		if err := g.upgradeWithNewGoroutine(w, r); err != nil {
			g.logger.Error("httpserver.GraphQLHTTPRequestHandler.ServeHTTP: on websocket upgrade",
				abstractlogger.Error(err),
			)
			w.WriteHeader(http.StatusBadRequest)
		}
		return
	}

	switch r.Method {
	case http.MethodPost:
		g.handleHTTP(w, r)
	case http.MethodGet:
		if g.getHandler == nil {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.getHandler.ServeHTTP(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *GraphQLHTTPRequestHandler) isWebsocketUpgrade(r *http.Request) bool {
	for _, header := range r.Header["Upgrade"] {
		if header == "websocket" {
			return true
		}
	}
	return false
}

// upgradeWithNewGoroutine upgrades the connection and hands it to the
// subscription protocol handler on its own goroutine; the protocol handler
// owns the connection from here on.
func (g *GraphQLHTTPRequestHandler) upgradeWithNewGoroutine(w http.ResponseWriter, r *http.Request) error {
	conn, _, _, err := g.wsUpgrader.Upgrade(r, w)
	if err != nil {
		return err
	}

	options := append([]subscription.Option{
		subscription.WithLogger(g.logger),
		subscription.WithContextBuilder(g.contextBuilder),
		subscription.WithErrorFormatter(g.errorFormatter),
		subscription.WithUpgradeRequest(r),
	}, g.subscriptionOptions...)

	go websocket.Handle(context.Background(), conn, g.engine, options...)
	return nil
}
