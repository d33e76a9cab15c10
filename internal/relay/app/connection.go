package app

import (
	"encoding/json"
	"sync"
	"time"

	"chat_relay_service/internal/relay/domain"
	"chat_relay_service/pkg/logger"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// wsConnection Connection over a fiber websocket; all writes go through one pump goroutine
type wsConnection struct {
	id       string
	conn     *websocket.Conn
	verified string

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

func newWSConnection(conn *websocket.Conn, verified string, queueSize int) *wsConnection {
	c := &wsConnection{
		id:       uuid.New().String(),
		conn:     conn,
		verified: verified,
		outbound: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *wsConnection) ID() string { return c.id }

// VerifiedIdentity identity from the upgrade token, empty when auth is off
func (c *wsConnection) VerifiedIdentity() string { return c.verified }

// Send enqueue resp; ErrConnectionClosed when closed or the queue is full
func (c *wsConnection) Send(resp domain.WSResponse) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case c.outbound <- b:
		return nil
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
		// 對方收太慢, 直接視為送不到
		return domain.ErrConnectionClosed
	}
}

// Close stop the pump and close the socket, idempotent
func (c *wsConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection closed by server"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// ping write a ping frame, serialized with the pump
func (c *wsConnection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
}

func (c *wsConnection) writePump() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.outbound:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.TextMessage, b)
			c.writeMu.Unlock()
			if err != nil {
				logger.Log.Error("write message error", zap.String("conn", c.id), zap.Error(err))
				_ = c.Close()
				return
			}
		}
	}
}
