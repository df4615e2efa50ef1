package subscription

import (
	"encoding/json"
	"sync"
)

// mockClient is a scriptable in-memory transport used by the handler tests.
type mockClient struct {
	mu       sync.Mutex
	inbound  chan Message
	outbound []Message
	done     chan struct{}
	once     sync.Once
}

func newMockClient() *mockClient {
	return &mockClient{
		inbound: make(chan Message, 16),
		done:    make(chan struct{}),
	}
}

func (c *mockClient) ReadFromClient() (Message, error) {
	select {
	case <-c.done:
		return Message{}, ErrTransportClientClosedConnection
	case message, ok := <-c.inbound:
		if !ok {
			return Message{}, ErrTransportClientClosedConnection
		}
		return message, nil
	}
}

func (c *mockClient) WriteToClient(message Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isConnected() {
		return ErrTransportClientClosedConnection
	}
	c.outbound = append(c.outbound, message)
	return nil
}

func (c *mockClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected()
}

func (c *mockClient) isConnected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *mockClient) Disconnect() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *mockClient) send(message Message) *mockClient {
	c.inbound <- message
	return c
}

func (c *mockClient) sendConnectionInit(payload json.RawMessage) *mockClient {
	return c.send(Message{Type: MessageTypeConnectionInit, Payload: payload})
}

func (c *mockClient) sendStart(id string, payload string) *mockClient {
	return c.send(Message{Id: id, Type: MessageTypeStart, Payload: json.RawMessage(payload)})
}

func (c *mockClient) sendStop(id string) *mockClient {
	return c.send(Message{Id: id, Type: MessageTypeStop})
}

func (c *mockClient) sendConnectionTerminate() *mockClient {
	return c.send(Message{Type: MessageTypeConnectionTerminate})
}

func (c *mockClient) receivedMessages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	received := make([]Message, len(c.outbound))
	copy(received, c.outbound)
	return received
}

func (c *mockClient) receivedMessagesForId(id string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var received []Message
	for _, message := range c.outbound {
		if message.Id == id {
			received = append(received, message)
		}
	}
	return received
}
