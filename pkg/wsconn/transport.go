package wsconn

import (
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds how long a single frame write may block.
const writeWait = 10 * time.Second

// Transport is the socket surface a Conn drives. The only real
// implementation wraps a gorilla *websocket.Conn; tests inject fakes so the
// state machine runs without a network.
type Transport interface {
	// WriteMessage writes one outbound frame.
	WriteMessage(data []byte) error
	// ReadMessage blocks until the next inbound frame or a socket error.
	ReadMessage() ([]byte, error)
	// Ping emits a protocol-level ping, bounded by the deadline.
	Ping(deadline time.Time) error
	// SetReadDeadline arms the read timeout used for pong enforcement.
	SetReadDeadline(t time.Time) error
	// SetPongHandler installs the pong callback.
	SetPongHandler(h func(string) error)
	// Close tears the socket down, unblocking any pending read.
	Close() error
}

type wsTransport struct {
	ws *websocket.Conn
}

// NewWebSocketTransport adapts a gorilla connection to the Transport
// interface. One text frame carries exactly one serialized message.
func NewWebSocketTransport(ws *websocket.Conn) Transport {
	return &wsTransport{ws: ws}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	if err := t.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := t.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
		// Binary frames are not part of the protocol; skip them.
	}
}

func (t *wsTransport) Ping(deadline time.Time) error {
	// WriteControl is safe to call concurrently with WriteMessage.
	return t.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

func (t *wsTransport) SetReadDeadline(deadline time.Time) error {
	return t.ws.SetReadDeadline(deadline)
}

func (t *wsTransport) SetPongHandler(h func(string) error) {
	t.ws.SetPongHandler(h)
}

func (t *wsTransport) Close() error {
	return t.ws.Close()
}
