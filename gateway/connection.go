package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps a single websocket to the gateway. It is the only
// thing in the package allowed to call the underlying library's read
// or write methods, enforcing the single-reader / single-writer
// discipline the rest of the package relies on: the Sender (its drain
// loop and its SendPriority path) is the sole caller of WriteText, and
// the connection lifecycle task is the sole caller of ReadFrame.
type Connection struct {
	ws   *websocket.Conn
	rmux sync.Mutex
	wmux sync.Mutex
}

// NewConnection wraps an already-dialled websocket connection.
func NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{ws: ws}
}

// WriteText sends a single already-serialised JSON payload as a text
// frame. Every outbound gateway message, whether queued or priority,
// passes through this one method.
func (c *Connection) WriteText(data string) error {
	c.wmux.Lock()
	defer c.wmux.Unlock()

	return c.ws.WriteMessage(websocket.TextMessage, []byte(data))
}

// ReadFrame reads a single inbound frame and reports whether it was a
// binary frame (zlib-stream transport) or a text frame (uncompressed
// transport); the caller feeds binary frames through its Decompressor
// and treats text frames as already-complete JSON.
func (c *Connection) ReadFrame() (data []byte, binary bool, err error) {
	c.rmux.Lock()
	defer c.rmux.Unlock()

	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, false, err
	}

	return data, messageType == websocket.BinaryMessage, nil
}

// SetReadDeadline arms the underlying connection's read deadline.
// Nothing in this package calls it; the session's read loop sets no
// deadline.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// CloseWithCode closes the connection with a gateway close code.
func (c *Connection) CloseWithCode(code int, reason string) error {
	c.wmux.Lock()
	defer c.wmux.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return c.ws.Close()
}
