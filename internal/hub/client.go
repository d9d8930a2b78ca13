package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iurnickita/esbo/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8 * 1024
	sendBuffer     = 256
)

// События от клиента
const (
	EventAdminOnline    = "admin_online"
	EventCustomerActive = "customer_active"
)

// Message - кадр websocket в обе стороны
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client - одно websocket-подключение панели или страницы сайта
type Client struct {
	ID string

	// оператор из токена, nil для страниц клиентов
	operator *model.Operator

	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	zaplog *zap.Logger
}

func newClient(id string, operator *model.Operator, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:       id,
		operator: operator,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, sendBuffer),
		zaplog:   hub.zaplog.With(zap.String("clientId", id)),
	}
}

// ReadPump читает кадры клиента до закрытия соединения
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.zaplog.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(msg)
	}
}

// WritePump отправляет клиенту события хаба и пинги
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// хаб закрыл канал
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.zaplog.Warn("websocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Event {
	case EventAdminOnline:
		if c.operator == nil {
			c.zaplog.Warn("admin_online without operator token")
			return
		}
		c.hub.announce(presenceEvent{client: c, admin: true})

	case EventCustomerActive:
		c.hub.announce(presenceEvent{client: c})

	default:
		c.zaplog.Debug("unknown client event", zap.String("event", msg.Event))
	}
}

// trySend вызывается только из цикла хаба. При полном буфере кадр теряется
func (c *Client) trySend(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.zaplog.Warn("client send buffer full")
		return false
	}
}
