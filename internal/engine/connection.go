package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fivetentaylor/pointy-sub000/internal/logging"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 256
)

// connection wraps one websocket session. Writes are serialized through a
// buffered send channel; reads run on their own pump.
type connection struct {
	ws        *websocket.Conn
	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	logger    *logging.Logger
}

func dial(ctx context.Context, url string) (*connection, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &connection{
		ws:        ws,
		sendChan:  make(chan []byte, sendBuffer),
		closeChan: make(chan struct{}),
		logger:    logging.NewLogger("connection"),
	}, nil
}

// start launches the pumps. onMessage runs on the read pump for every
// inbound frame; onClose runs once when the session ends for any reason.
func (c *connection) start(onMessage func([]byte), onClose func(error)) {
	var once sync.Once
	closed := func(err error) {
		once.Do(func() {
			c.close()
			onClose(err)
		})
	}

	go c.readPump(onMessage, closed)
	go c.writePump(closed)
}

func (c *connection) send(frame []byte) error {
	select {
	case <-c.closeChan:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendChan <- frame:
		return nil
	case <-c.closeChan:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.ws.Close()
	})
}

func (c *connection) readPump(onMessage func([]byte), closed func(error)) {
	c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", map[string]interface{}{
					"error": err.Error(),
				})
			}
			closed(err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		onMessage(data)
	}
}

func (c *connection) writePump(closed func(error)) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.sendChan:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				closed(err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				closed(err)
				return
			}

		case <-c.closeChan:
			return
		}
	}
}
