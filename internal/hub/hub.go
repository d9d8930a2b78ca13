// Package hub рассылает события заявок и банков в веб-панель по websocket.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iurnickita/esbo/internal/hub/config"
	"github.com/iurnickita/esbo/internal/metrics"
	"github.com/iurnickita/esbo/internal/model"
)

// События для панели
const (
	EventNewInvestment   = "new_investment_request"
	EventNewWithdrawal   = "new_withdrawal_request"
	EventStatusUpdated   = "request_status_updated"
	EventBankStatus      = "bank_status_updated"
	EventBankLimitFull   = "bank_limit_full_notification"
	EventActiveAdmins    = "update_active_admins"
	EventActiveCustomers = "update_active_customers"
)

const (
	defaultRedisChannel = "esbo:ws:broadcast"
	relayTimeout        = 2 * time.Second
)

// envelope - событие, готовое к рассылке. Через Redis передается целиком.
type envelope struct {
	Server string          `json:"server"`
	Admins bool            `json:"admins"`
	Frame  json.RawMessage `json:"frame"`
}

type presenceEvent struct {
	client *Client
	admin  bool
}

// OperatorVerifier извлекает оператора из токена подключения
type OperatorVerifier func(token string) (model.Operator, error)

type Hub struct {
	clients map[string]*Client
	mutex   sync.RWMutex

	broadcast  chan envelope
	relay      chan []byte
	register   chan *Client
	unregister chan *Client
	presenceCh chan presenceEvent
	done       chan struct{}

	presence *Presence
	redis    *redis.Client
	channel  string
	serverID string
	verify   OperatorVerifier
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	zaplog   *zap.Logger
}

// NewHub создает хаб. redisClient может быть nil: тогда события не выходят за пределы процесса.
func NewHub(cfg config.Config, redisClient *redis.Client, verify OperatorVerifier, m *metrics.Metrics, zaplog *zap.Logger) *Hub {
	channel := cfg.RedisChannel
	if channel == "" {
		channel = defaultRedisChannel
	}
	allowed := cfg.AllowedOrigin

	h := &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan envelope, 1000),
		relay:      make(chan []byte, 1000),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		presenceCh: make(chan presenceEvent, 100),
		done:       make(chan struct{}),
		presence:   NewPresence(),
		redis:      redisClient,
		channel:    channel,
		serverID:   uuid.NewString(),
		verify:     verify,
		metrics:    m,
		zaplog:     zaplog.Named("hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return allowed == "" || r.Header.Get("Origin") == allowed
		},
	}
	return h
}

// Run обслуживает подключения до отмены ctx
func (h *Hub) Run(ctx context.Context) {
	var remote <-chan *redis.Message
	if h.redis != nil {
		pubsub := h.redis.Subscribe(ctx, h.channel)
		defer pubsub.Close()
		remote = pubsub.Channel()
		go h.relayLoop(ctx)
	}

	h.zaplog.Info("websocket hub started", zap.String("serverId", h.serverID))

	for {
		select {
		case <-ctx.Done():
			h.zaplog.Info("websocket hub shutting down")
			close(h.done)
			h.closeAllClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case ev := <-h.presenceCh:
			h.handlePresence(ev)

		case env := <-h.broadcast:
			h.deliver(env)

		case msg, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
			h.handleRemote(msg.Payload)
		}
	}
}

// ServeWS переводит запрос в websocket.
// Токен оператора передается в параметре token или в заголовке Authorization.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var operator *model.Operator
	if tokenString := requestToken(r); tokenString != "" {
		op, err := h.verify(tokenString)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		operator = &op
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.zaplog.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), operator, conn, h)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func requestToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	h.clients[client.ID] = client
	total := len(h.clients)
	h.mutex.Unlock()

	h.metrics.SessionOpened()
	h.zaplog.Debug("client registered",
		zap.String("clientId", client.ID),
		zap.Bool("operator", client.operator != nil),
		zap.Int("total", total),
	)
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client.ID]
	if ok {
		delete(h.clients, client.ID)
		close(client.send)
	}
	total := len(h.clients)
	h.mutex.Unlock()

	if !ok {
		return
	}
	h.metrics.SessionClosed()
	h.zaplog.Debug("client unregistered", zap.String("clientId", client.ID), zap.Int("total", total))

	adminsChanged, customersChanged := h.presence.Remove(client.ID)
	if adminsChanged {
		h.deliverLocal(EventActiveAdmins, h.presence.Admins(), false)
	}
	if customersChanged {
		h.deliverLocal(EventActiveCustomers, h.presence.Customers(), true)
	}
}

func (h *Hub) handlePresence(ev presenceEvent) {
	h.mutex.RLock()
	_, ok := h.clients[ev.client.ID]
	h.mutex.RUnlock()
	if !ok {
		return
	}

	if !ev.admin {
		h.presence.AddCustomer(ev.client.ID)
		h.deliverLocal(EventActiveCustomers, h.presence.Customers(), true)
		return
	}

	h.presence.AddAdmin(ev.client.ID, *ev.client.operator)
	h.deliverLocal(EventActiveAdmins, h.presence.Admins(), false)
	// новая вкладка оператора сразу получает счетчик клиентов
	if frame, err := encode(EventActiveCustomers, h.presence.Customers()); err == nil {
		ev.client.trySend(frame)
	}
}

// deliver отправляет событие локальным подключениям
func (h *Hub) deliver(env envelope) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, client := range h.clients {
		if env.Admins && client.operator == nil {
			continue
		}
		client.trySend(env.Frame)
	}
}

func (h *Hub) deliverLocal(event string, data any, admins bool) {
	frame, err := encode(event, data)
	if err != nil {
		h.zaplog.Error("event encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(envelope{Server: h.serverID, Admins: admins, Frame: frame})
}

// relayLoop публикует события в Redis для остальных экземпляров
func (h *Hub) relayLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-h.relay:
			pubCtx, cancel := context.WithTimeout(ctx, relayTimeout)
			err := h.redis.Publish(pubCtx, h.channel, payload).Err()
			cancel()
			if err != nil {
				h.zaplog.Warn("relay publish failed", zap.Error(err))
			}
		}
	}
}

func (h *Hub) handleRemote(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		h.zaplog.Warn("bad relay payload", zap.Error(err))
		return
	}
	// свои события уже доставлены
	if env.Server == h.serverID {
		return
	}
	h.deliver(env)
}

func (h *Hub) closeAllClients() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, client := range h.clients {
		close(client.send)
		h.metrics.SessionClosed()
	}
	h.clients = make(map[string]*Client)
}

// Publish ставит событие в очередь рассылки и не ждет доставки.
// Публикация в Redis выполняется в relayLoop.
func (h *Hub) Publish(_ context.Context, event string, data any, admins bool) {
	frame, err := encode(event, data)
	if err != nil {
		h.zaplog.Error("event encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	env := envelope{Server: h.serverID, Admins: admins, Frame: frame}

	if h.redis != nil {
		h.enqueueRelay(event, env)
	}

	select {
	case h.broadcast <- env:
	case <-h.done:
	default:
		h.zaplog.Warn("broadcast queue full, event dropped", zap.String("event", event))
	}
}

func (h *Hub) enqueueRelay(event string, env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.zaplog.Error("relay encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case h.relay <- payload:
	default:
		h.zaplog.Warn("relay queue full, event not relayed", zap.String("event", event))
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) Presence() *Presence {
	return h.presence
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) announce(ev presenceEvent) {
	select {
	case h.presenceCh <- ev:
	case <-h.done:
	}
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data})
}
