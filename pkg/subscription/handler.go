// Package subscription implements the server side of the graphql-ws
// subprotocol: a sequential per-connection message loop multiplexing any
// number of concurrently streaming subscriptions over one transport.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jensneuse/abstractlogger"

	"github.com/graphmux/graphmux/pkg/execution"
	"github.com/graphmux/graphmux/pkg/graphql"
)

const (
	MessageTypeConnectionInit      = "connection_init"
	MessageTypeConnectionAck       = "connection_ack"
	MessageTypeConnectionError     = "connection_error"
	MessageTypeConnectionTerminate = "connection_terminate"
	MessageTypeConnectionKeepAlive = "ka"
	MessageTypeStart               = "start"
	MessageTypeStop                = "stop"
	MessageTypeData                = "data"
	MessageTypeError               = "error"
	MessageTypeComplete            = "complete"

	DefaultKeepAliveInterval = 15 * time.Second
)

// ErrTransportClientClosedConnection is returned by transport clients when
// the peer is gone. It ends the message loop without surfacing an error.
var ErrTransportClientClosedConnection = errors.New("transport client: connection is closed")

// Message is a single graphql-ws frame in both directions.
type Message struct {
	Id      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client abstracts the bidirectional message transport of one connection.
type Client interface {
	ReadFromClient() (Message, error)
	WriteToClient(Message) error
	IsConnected() bool
	Disconnect() error
}

// InitFunc inspects the connection_init payload and decides whether to
// accept the connection. The returned context becomes the parent of every
// operation started on the connection.
type InitFunc func(ctx context.Context, payload json.RawMessage) (context.Context, error)

// Options configures a Handler.
type Options struct {
	Logger            abstractlogger.Logger
	ContextBuilder    execution.ContextBuilder
	ErrorFormatter    graphql.ErrorFormatter
	InitFunc          InitFunc
	KeepAliveInterval time.Duration
	// UpgradeRequest is the HTTP request the connection was upgraded from.
	// It is handed to the context builder for every started operation.
	UpgradeRequest *http.Request
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

func WithInitFunc(initFunc InitFunc) Option {
	return func(opts *Options) {
		opts.InitFunc = initFunc
	}
}

func WithKeepAliveInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.KeepAliveInterval = interval
	}
}

func WithUpgradeRequest(r *http.Request) Option {
	return func(opts *Options) {
		opts.UpgradeRequest = r
	}
}

// Handler runs the message loop for a single connection. Exactly one
// goroutine executes Handle; observer goroutines spawned per subscription
// only write outbound messages and touch the registry.
type Handler struct {
	logger            abstractlogger.Logger
	client            Client
	engine            execution.Engine
	contextBuilder    execution.ContextBuilder
	errorFormatter    graphql.ErrorFormatter
	initFunc          InitFunc
	keepAliveInterval time.Duration
	upgradeRequest    *http.Request

	// connCtx is the parent context of all operations. It, the stored
	// connection params and the keep-alive flag are touched only by the
	// message loop goroutine.
	connCtx          context.Context
	connectionParams json.RawMessage
	keepAliveStarted bool
	subscriptions    subscriptionCancellations
	observers        sync.WaitGroup
	writeMu          sync.Mutex
}

// NewHandler creates a Handler for one accepted connection.
func NewHandler(client Client, engine execution.Engine, options ...Option) *Handler {
	opts := Options{
		Logger:            abstractlogger.Noop{},
		ContextBuilder:    execution.DefaultContextBuilder,
		KeepAliveInterval: DefaultKeepAliveInterval,
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

	return &Handler{
		logger:            opts.Logger,
		client:            client,
		engine:            engine,
		contextBuilder:    opts.ContextBuilder,
		errorFormatter:    opts.ErrorFormatter,
		initFunc:          opts.InitFunc,
		keepAliveInterval: opts.KeepAliveInterval,
		upgradeRequest:    opts.UpgradeRequest,
		subscriptions:     newSubscriptionCancellations(),
	}
}

// Handle consumes messages until the connection closes or ctx is done. On
// return every producer has been cancelled and every observer has
// finished: no producer outlives its connection.
func (h *Handler) Handle(ctx context.Context) {
	h.connCtx = ctx

	defer func() {
		h.subscriptions.CancelAll()
		h.observers.Wait()
	}()

	for {
		if !h.client.IsConnected() {
			h.logger.Debug("subscription.Handler.Handle: on connection check",
				abstractlogger.String("message", "client has disconnected"),
			)
			return
		}

		message, err := h.client.ReadFromClient()
		if err != nil {
			if errors.Is(err, ErrTransportClientClosedConnection) {
				return
			}

			h.logger.Error("subscription.Handler.Handle: on message read",
				abstractlogger.Error(err),
			)
			h.sendConnectionError("could not read message from client")
		} else {
			switch message.Type {
			case MessageTypeConnectionInit:
				h.handleInit(ctx, message.Payload)
			case MessageTypeStart:
				h.handleStart(message.Id, message.Payload)
			case MessageTypeStop:
				h.handleStop(message.Id)
			case MessageTypeConnectionTerminate:
				h.handleConnectionTerminate()
				return
			default:
				h.sendConnectionError(fmt.Sprintf("unexpected message type: %s", message.Type))
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
			continue
		}
	}
}

// handleInit stores the connection params and acknowledges. A repeated init
// silently overwrites the stored params.
func (h *Handler) handleInit(ctx context.Context, payload json.RawMessage) {
	h.connectionParams = payload

	if h.initFunc != nil {
		initCtx, err := h.initFunc(ctx, payload)
		if err != nil {
			h.logger.Error("subscription.Handler.handleInit: on init func",
				abstractlogger.Error(err),
			)
			h.sendConnectionError("failed to accept the websocket connection")
			if err := h.client.Disconnect(); err != nil {
				h.logger.Error("subscription.Handler.handleInit: on disconnect",
					abstractlogger.Error(err),
				)
			}
			return
		}
		h.connCtx = initCtx
	}

	h.sendMessage(Message{Type: MessageTypeConnectionAck})

	if h.keepAliveInterval > 0 && !h.keepAliveStarted {
		h.keepAliveStarted = true
		go h.handleKeepAlive(h.connCtx)
	}
}

func (h *Handler) handleStart(id string, payload []byte) {
	var operation graphql.Request
	if err := json.Unmarshal(payload, &operation); err != nil {
		h.logger.Error("subscription.Handler.handleStart: on payload unmarshal",
			abstractlogger.Error(err),
			abstractlogger.ByteString("payload", payload),
		)
		h.sendError(id, graphql.RequestError{Message: "invalid start payload", Cause: err})
		return
	}

	operationCtx, generation, err := h.subscriptions.AddWithParent(id, withConnectionParams(h.connCtx, h.connectionParams))
	if err != nil {
		h.logger.Error("subscription.Handler.handleStart: on subscriber registration",
			abstractlogger.Error(err),
			abstractlogger.String("id", id),
		)
		h.sendError(id, graphql.RequestErrorFromError(err))
		return
	}

	executionCtx, err := h.contextBuilder(operationCtx, h.upgradeRequest)
	if err != nil {
		h.logger.Error("subscription.Handler.handleStart: on context building",
			abstractlogger.Error(err),
			abstractlogger.String("id", id),
		)
		h.subscriptions.Cancel(id)
		h.sendError(id, graphql.RequestErrorFromError(err))
		return
	}

	operationType, err := operation.OperationType()
	if err != nil {
		h.subscriptions.Cancel(id)
		h.sendError(id, graphql.RequestErrorFromError(err))
		return
	}

	if operationType == graphql.OperationTypeSubscription {
		h.startSubscription(executionCtx, id, generation, &operation)
		return
	}

	h.executeUnaryOperation(executionCtx, id, &operation)
}

// startSubscription asks the engine for a producer and hands it to a
// dedicated observer goroutine. The registry entry was already created by
// handleStart; it is removed again when the producer cannot be started.
func (h *Handler) startSubscription(ctx context.Context, id string, generation uint64, operation *graphql.Request) {
	stream, err := h.engine.Subscribe(ctx, operation)
	if err != nil {
		h.logger.Error("subscription.Handler.startSubscription: on engine subscribe",
			abstractlogger.Error(err),
			abstractlogger.String("id", id),
		)
		h.subscriptions.Cancel(id)
		h.sendError(id, graphql.RequestErrorsFromError(err)[0])
		return
	}

	h.observers.Add(1)
	go h.observeSubscription(id, generation, stream)
}

// observeSubscription forwards every produced result in arrival order.
// It is the only goroutine writing messages for its id, so per-id ordering
// holds. On producer exhaustion it retires its own registry generation
// before sending the final complete message: a client restarting the id
// after complete is never spuriously rejected, and an observer outliving a
// stop can never cancel a successor registered under the same id.
func (h *Handler) observeSubscription(id string, generation uint64, stream execution.Stream) {
	defer h.observers.Done()

	for result := range stream {
		h.logOriginalCauses(id, result.Errors)
		h.sendData(id, result)
	}

	h.subscriptions.CancelGeneration(id, generation)

	if h.client.IsConnected() {
		h.sendComplete(id)
	}
}

// executeUnaryOperation serves queries and mutations over the socket: one
// data message, no registry entry, no complete message.
func (h *Handler) executeUnaryOperation(ctx context.Context, id string, operation *graphql.Request) {
	defer h.subscriptions.Cancel(id)

	result, err := h.engine.Execute(ctx, operation)
	if err != nil {
		h.logger.Error("subscription.Handler.executeUnaryOperation: on engine execution",
			abstractlogger.Error(err),
			abstractlogger.String("id", id),
		)
		h.sendError(id, graphql.RequestErrorsFromError(err)[0])
		return
	}

	if !result.HasData() && result.HasErrors() {
		h.logOriginalCauses(id, result.Errors)
		h.sendError(id, result.Errors[0])
		return
	}

	h.logOriginalCauses(id, result.Errors)
	h.sendData(id, result)
}

func (h *Handler) handleStop(id string) {
	// No-op when the id is unknown: the producer may have completed in the
	// meantime and removed itself.
	h.subscriptions.Cancel(id)
}

func (h *Handler) handleConnectionTerminate() {
	if err := h.client.Disconnect(); err != nil {
		h.logger.Error("subscription.Handler.handleConnectionTerminate: on disconnect",
			abstractlogger.Error(err),
		)
	}
}

func (h *Handler) handleKeepAlive(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(h.keepAliveInterval):
			h.sendMessage(Message{Type: MessageTypeConnectionKeepAlive})
		}
	}
}

// ActiveSubscriptions reports the number of live producers.
func (h *Handler) ActiveSubscriptions() int {
	return h.subscriptions.Len()
}

func (h *Handler) sendData(id string, result *graphql.Response) {
	payload := dataPayload{Data: result.Data}
	if result.HasErrors() {
		payload.Errors = graphql.FormatErrors(result.Errors, h.errorFormatter)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("subscription.Handler.sendData: on payload marshal",
			abstractlogger.Error(err),
			abstractlogger.String("id", id),
		)
		return
	}

	h.sendMessage(Message{
		Id:      id,
		Type:    MessageTypeData,
		Payload: payloadBytes,
	})
}

type dataPayload struct {
	Data   json.RawMessage `json:"data"`
	Errors []interface{}   `json:"errors,omitempty"`
}

// sendError emits the single representative error for an operation.
func (h *Handler) sendError(id string, requestError graphql.RequestError) {
	formatter := h.errorFormatter
	if formatter == nil {
		formatter = graphql.DefaultErrorFormatter
	}

	payloadBytes, err := json.Marshal(formatter(requestError))
	if err != nil {
		h.logger.Error("subscription.Handler.sendError: on payload marshal",
			abstractlogger.Error(err),
			abstractlogger.String("id", id),
		)
		return
	}

	h.sendMessage(Message{
		Id:      id,
		Type:    MessageTypeError,
		Payload: payloadBytes,
	})
}

func (h *Handler) sendComplete(id string) {
	h.sendMessage(Message{
		Id:   id,
		Type: MessageTypeComplete,
	})
}

func (h *Handler) sendConnectionError(reason string) {
	payloadBytes, err := json.Marshal(reason)
	if err != nil {
		h.logger.Error("subscription.Handler.sendConnectionError: on payload marshal",
			abstractlogger.Error(err),
		)
		return
	}

	h.sendMessage(Message{
		Type:    MessageTypeConnectionError,
		Payload: payloadBytes,
	})
}

// sendMessage serializes outbound writes from the loop and all observers.
func (h *Handler) sendMessage(message Message) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if err := h.client.WriteToClient(message); err != nil {
		h.logger.Error("subscription.Handler.sendMessage: on message write",
			abstractlogger.Error(err),
			abstractlogger.String("type", message.Type),
			abstractlogger.String("id", message.Id),
		)
	}
}

// logOriginalCauses reports resolver errors that carry an underlying cause,
// so causes are never silently swallowed and never sent verbatim.
func (h *Handler) logOriginalCauses(id string, requestErrors graphql.RequestErrors) {
	for _, requestError := range requestErrors {
		if requestError.Cause == nil {
			continue
		}
		h.logger.Error("subscription.Handler: on result with original error",
			abstractlogger.Error(requestError.Cause),
			abstractlogger.String("id", id),
			abstractlogger.String("message", requestError.Message),
		)
	}
}
