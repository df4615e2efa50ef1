package websocket

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/jensneuse/abstractlogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmux/graphmux/pkg/subscription"
)

func TestClient_WriteToClient(t *testing.T) {
	t.Run("should write a message as a text frame", func(t *testing.T) {
		connToServer, connToClient := net.Pipe()
		websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)

		messageToClient := subscription.Message{
			Id:      "1",
			Type:    subscription.MessageTypeData,
			Payload: json.RawMessage(`{"data":null}`),
		}

		go func() {
			err := websocketClient.WriteToClient(messageToClient)
			assert.NoError(t, err)
		}()

		data, opCode, err := wsutil.ReadServerData(connToServer)
		require.NoError(t, err)
		require.Equal(t, ws.OpText, opCode)
		assert.JSONEq(t, `{"id":"1","type":"data","payload":{"data":null}}`, string(data))
	})

	t.Run("should report a closed connection on a closed pipe", func(t *testing.T) {
		connToServer, connToClient := net.Pipe()
		websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)
		require.NoError(t, connToServer.Close())

		err := websocketClient.WriteToClient(subscription.Message{Type: subscription.MessageTypeConnectionAck})
		assert.Equal(t, subscription.ErrTransportClientClosedConnection, err)
		assert.False(t, websocketClient.IsConnected())
	})
}

func TestClient_ReadFromClient(t *testing.T) {
	t.Run("should decode a message from a text frame", func(t *testing.T) {
		connToServer, connToClient := net.Pipe()
		websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)

		go func() {
			err := wsutil.WriteClientText(connToServer, []byte(`{"id":"1","type":"start","payload":{"query":"{ hello }"}}`))
			require.NoError(t, err)
		}()

		messageFromClient, err := websocketClient.ReadFromClient()
		assert.NoError(t, err)
		assert.Equal(t, "1", messageFromClient.Id)
		assert.Equal(t, subscription.MessageTypeStart, messageFromClient.Type)
		assert.Equal(t, `{"query":"{ hello }"}`, string(messageFromClient.Payload))
	})

	t.Run("should return an error on an invalid message", func(t *testing.T) {
		connToServer, connToClient := net.Pipe()
		websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)

		go func() {
			err := wsutil.WriteClientText(connToServer, []byte(`{"type":`))
			require.NoError(t, err)
		}()

		_, err := websocketClient.ReadFromClient()
		assert.Error(t, err)
	})

	t.Run("should detect a closed connection", func(t *testing.T) {
		t.Run("before read", func(t *testing.T) {
			_, connToClient := net.Pipe()
			websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)
			defer connToClient.Close()
			websocketClient.changeConnectionStateToClosed()

			_, err := websocketClient.ReadFromClient()
			assert.Equal(t, subscription.ErrTransportClientClosedConnection, err)
		})

		t.Run("on io.EOF", func(t *testing.T) {
			connToServer, connToClient := net.Pipe()
			websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)
			require.NoError(t, connToServer.Close())

			_, err := websocketClient.ReadFromClient()
			assert.Equal(t, subscription.ErrTransportClientClosedConnection, err)
			assert.False(t, websocketClient.IsConnected())
		})

		t.Run("on wrapped io.ErrClosedPipe", func(t *testing.T) {
			connToClient := &fakeConn{}
			connToClient.setReadReturns(0, fmt.Errorf("outside wrapper: %w", io.ErrClosedPipe))
			websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)

			_, err := websocketClient.ReadFromClient()
			assert.Equal(t, subscription.ErrTransportClientClosedConnection, err)
			assert.False(t, websocketClient.IsConnected())
		})

		t.Run("on io.ErrUnexpectedEOF", func(t *testing.T) {
			connToClient := &fakeConn{}
			connToClient.setReadReturns(0, io.ErrUnexpectedEOF)
			websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)

			_, err := websocketClient.ReadFromClient()
			assert.Equal(t, subscription.ErrTransportClientClosedConnection, err)
			assert.False(t, websocketClient.IsConnected())
		})
	})
}

func TestClient_IsConnected(t *testing.T) {
	_, connToClient := net.Pipe()
	websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)

	t.Run("should return true when a connection is established", func(t *testing.T) {
		assert.True(t, websocketClient.IsConnected())
	})

	t.Run("should return false after disconnecting", func(t *testing.T) {
		require.NoError(t, websocketClient.Disconnect())
		assert.False(t, websocketClient.IsConnected())
	})
}

func TestClient_isClosedConnectionError(t *testing.T) {
	_, connToClient := net.Pipe()

	t.Run("should keep the connection open on unrelated errors", func(t *testing.T) {
		websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)
		assert.False(t, websocketClient.isClosedConnectionError(fmt.Errorf("no closed connection err")))
		assert.True(t, websocketClient.IsConnected())
	})

	t.Run("should close the connection on a websocket close error", func(t *testing.T) {
		websocketClient := NewClient(abstractlogger.NoopLogger, connToClient)
		closedErr := wsutil.ClosedError{Code: ws.StatusNormalClosure, Reason: "Normal Closure"}
		assert.True(t, websocketClient.isClosedConnectionError(closedErr))
		assert.False(t, websocketClient.IsConnected())
	})
}

type fakeConn struct {
	readReturnN   int
	readReturnErr error
}

func (f *fakeConn) setReadReturns(n int, err error) {
	f.readReturnN = n
	f.readReturnErr = err
}

func (f *fakeConn) Read(b []byte) (n int, err error) {
	return f.readReturnN, f.readReturnErr
}

func (f *fakeConn) Write(b []byte) (n int, err error) {
	return len(b), nil
}

func (f *fakeConn) Close() error {
	return nil
}

func (f *fakeConn) LocalAddr() net.Addr {
	panic("implement me")
}

func (f *fakeConn) RemoteAddr() net.Addr {
	panic("implement me")
}

func (f *fakeConn) SetDeadline(t time.Time) error {
	panic("implement me")
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	panic("implement me")
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error {
	panic("implement me")
}
