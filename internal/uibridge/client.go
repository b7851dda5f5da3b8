package uibridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/breeze-rmm/deskbridge/internal/logging"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 64 * 1024
	controlQueueSize = 32
)

// client is one connected UI. Frames and control messages use separate
// queues so a backlog of frames never delays a command response.
type client struct {
	id      string
	conn    *websocket.Conn
	srv     *Server
	frames  chan []byte
	control chan []byte
	done    chan struct{}
	once    sync.Once
}

func newClient(id string, conn *websocket.Conn, srv *Server, queueSize int) *client {
	return &client{
		id:      id,
		conn:    conn,
		srv:     srv,
		frames:  make(chan []byte, queueSize),
		control: make(chan []byte, controlQueueSize),
		done:    make(chan struct{}),
	}
}

// offerFrame queues a frame without blocking.
func (c *client) offerFrame(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.frames <- data:
		return true
	default:
		return false
	}
}

// sendControl queues a response or event without blocking. A client too
// slow to drain its control queue is disconnected.
func (c *client) sendControl(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.control <- data:
	default:
		log.Warn("control queue full, dropping client", logging.KeyClientID, c.id)
		c.close()
	}
}

func (c *client) reply(resp Response) {
	resp.Type = msgTypeResponse
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error("failed to marshal response", logging.KeyClientID, c.id, "command", resp.ID, logging.KeyError, err)
		return
	}
	c.sendControl(data)
}

// close signals both pumps to stop. writePump sends a close frame and
// releases the connection.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", logging.KeyClientID, c.id, logging.KeyError, err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			log.Warn("failed to parse request", logging.KeyClientID, c.id, logging.KeyError, err)
			c.reply(Response{OK: false, Error: &ErrorBody{Code: CodeBadRequest, Message: "malformed request"}})
			continue
		}
		c.srv.handle(c, req)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		// Control messages go first whenever both queues are ready.
		select {
		case msg := <-c.control:
			if !c.write(websocket.TextMessage, msg) {
				return
			}
			continue
		default:
		}

		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.control:
			if !c.write(websocket.TextMessage, msg) {
				return
			}
		case msg := <-c.frames:
			if !c.write(websocket.TextMessage, msg) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *client) write(kind int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(kind, msg); err != nil {
		log.Debug("write error", logging.KeyClientID, c.id, logging.KeyError, err)
		return false
	}
	return true
}
