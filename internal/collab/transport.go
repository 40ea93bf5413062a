package collab

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrChannelClosed signals that the peer closed the underlying connection.
var ErrChannelClosed = errors.New("collab: channel closed")

// Channel is the duplex byte-frame contract a Room serves. A channel is a
// pure pass-through over one physical connection: no parsing, no buffering
// beyond the transport's own, no retries. Path identifies the document the
// channel belongs to.
type Channel interface {
	Path() string
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// WebsocketChannel adapts a gorilla websocket connection to the Channel
// contract using binary messages. Gorilla connections support at most one
// concurrent writer, so Send serializes callers; room fan-out reaches a
// channel from many sessions at once.
type WebsocketChannel struct {
	conn    *websocket.Conn
	path    string
	writeMu sync.Mutex
}

// NewWebsocketChannel wraps an established websocket connection.
func NewWebsocketChannel(conn *websocket.Conn, path string) *WebsocketChannel {
	return &WebsocketChannel{conn: conn, path: path}
}

// Path returns the document identifier the channel is bound to.
func (channel *WebsocketChannel) Path() string {
	return channel.path
}

// Send writes one binary frame to the connection. Concurrent senders are
// serialized.
func (channel *WebsocketChannel) Send(_ context.Context, frame []byte) error {
	channel.writeMu.Lock()
	err := channel.conn.WriteMessage(websocket.BinaryMessage, frame)
	channel.writeMu.Unlock()
	if err == nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return ErrChannelClosed
	}
	return err
}

// Receive blocks until the next binary frame arrives. A peer close is
// reported as ErrChannelClosed.
func (channel *WebsocketChannel) Receive(_ context.Context) ([]byte, error) {
	for {
		messageType, frame, err := channel.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, ErrChannelClosed
			}
			return nil, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return frame, nil
	}
}
