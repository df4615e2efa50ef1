// Package websocket provides the WebSocket transport for the subscription
// protocol handler.
package websocket

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/jensneuse/abstractlogger"

	"github.com/graphmux/graphmux/pkg/subscription"
)

// Client reads and writes graphql-ws messages as JSON text frames over a
// WebSocket connection and tracks the connection state.
type Client struct {
	logger abstractlogger.Logger
	// clientConn holds the actual connection to the client.
	clientConn net.Conn
	// isClosedConnection indicates if the websocket connection is closed.
	isClosedConnection bool
	mu                 *sync.RWMutex
}

// NewClient will create a new websocket subscription client.
func NewClient(logger abstractlogger.Logger, clientConn net.Conn) *Client {
	if logger == nil {
		logger = abstractlogger.Noop{}
	}

	return &Client{
		logger:     logger,
		clientConn: clientConn,
		mu:         &sync.RWMutex{},
	}
}

// ReadFromClient reads and decodes the next message from the connection.
func (c *Client) ReadFromClient() (subscription.Message, error) {
	var message subscription.Message

	if !c.IsConnected() {
		return message, subscription.ErrTransportClientClosedConnection
	}

	data, opCode, err := wsutil.ReadClientData(c.clientConn)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
		c.changeConnectionStateToClosed()
		return message, subscription.ErrTransportClientClosedConnection
	} else if err != nil {
		if c.isClosedConnectionError(err) {
			return message, subscription.ErrTransportClientClosedConnection
		}

		c.logger.Error("websocket.Client.ReadFromClient: after reading from client",
			abstractlogger.Error(err),
			abstractlogger.Any("opCode", opCode),
		)
		return message, err
	}

	if err = json.Unmarshal(data, &message); err != nil {
		c.logger.Error("websocket.Client.ReadFromClient: on message unmarshal",
			abstractlogger.Error(err),
			abstractlogger.ByteString("data", data),
		)
		return message, err
	}

	return message, nil
}

// WriteToClient encodes and writes a message to the connection.
func (c *Client) WriteToClient(message subscription.Message) error {
	if !c.IsConnected() {
		return subscription.ErrTransportClientClosedConnection
	}

	data, err := json.Marshal(message)
	if err != nil {
		c.logger.Error("websocket.Client.WriteToClient: on message marshal",
			abstractlogger.Error(err),
			abstractlogger.String("type", message.Type),
		)
		return err
	}

	err = wsutil.WriteServerMessage(c.clientConn, ws.OpText, data)
	if errors.Is(err, io.ErrClosedPipe) {
		c.changeConnectionStateToClosed()
		return subscription.ErrTransportClientClosedConnection
	} else if err != nil {
		c.logger.Error("websocket.Client.WriteToClient: after writing to client",
			abstractlogger.Error(err),
			abstractlogger.ByteString("message", data),
		)
		return err
	}

	return nil
}

// IsConnected will indicate if the websocket connection is still established.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.isClosedConnection
}

// Disconnect will close the websocket connection.
func (c *Client) Disconnect() error {
	c.logger.Debug("websocket.Client.Disconnect: before disconnect",
		abstractlogger.String("message", "disconnecting client"),
	)
	c.changeConnectionStateToClosed()
	return c.clientConn.Close()
}

// isClosedConnectionError will indicate if the given error is a connection closed error.
func (c *Client) isClosedConnectionError(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var closedErr wsutil.ClosedError
	if errors.As(err, &closedErr) {
		c.isClosedConnection = true
	}
	return c.isClosedConnection
}

func (c *Client) changeConnectionStateToClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isClosedConnection = true
}

// Interface Guard
var _ subscription.Client = (*Client)(nil)
