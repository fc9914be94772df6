package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"accountsync/internal/models"
	"accountsync/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// outbound - сериализованное сообщение и счёт, к которому оно относится
type outbound struct {
	accountID string
	data      []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Раздаёт события движка подключенным дашбордам.
// Клиент может подписаться на один счёт (?account_id=...) или на все.
//
// Функции:
// - Регистрация и отмена регистрации клиентов
// - Неблокирующий broadcast: при переполнении сообщение теряется и учитывается
// - Отключение медленных клиентов
// - Потребление канала событий движка (Consume)
//
// Использование:
// 1. hub := NewHub(origins, log)
// 2. go hub.Run()
// 3. go hub.Consume(ctx, bus.Events())
// 4. router.HandleFunc("/ws/stream", hub.ServeWS)
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений клиентам
	broadcast chan outbound

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex

	dropped atomic.Int64
	origins *OriginChecker
	log     *utils.Logger
}

// NewHub создает новый Hub.
// Пустой список origins разрешает любой Origin.
func NewHub(allowedOrigins []string, log *utils.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    NewOriginChecker(allowedOrigins),
		log:        utils.OrGlobal(log).WithComponent("ws_hub"),
	}
}

// Run запускает главный цикл Hub до вызова Stop.
//
// Список клиентов копируется под RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected",
				utils.Int("clients", total),
				utils.AccountID(client.accountID),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", utils.Int("clients", total))

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if client.wants(msg.accountID) {
					clients = append(clients, client)
				}
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- msg.data:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("removed slow clients",
					utils.Int("removed", len(toRemove)),
					utils.Int("clients", total),
				)
			}
		}
	}
}

// Stop завершает Run и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и отправляет его подписчикам счёта.
// Пустой accountID - сообщение для всех клиентов.
func (h *Hub) Broadcast(accountID string, message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("marshal broadcast message", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Encode добавляет перевод строки
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(accountID, msgCopy)
}

// BroadcastRaw отправляет уже сериализованное сообщение без блокировки
func (h *Hub) BroadcastRaw(accountID string, data []byte) {
	select {
	case h.broadcast <- outbound{accountID: accountID, data: data}:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastEvent отправляет событие движка подписчикам его счёта
func (h *Hub) BroadcastEvent(ev models.Event) {
	h.Broadcast(ev.AccountID, NewEventMessage(ev))
}

// Consume читает события движка до отмены ctx или закрытия канала
func (h *Hub) Consume(ctx context.Context, events <-chan models.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.BroadcastEvent(ev)
		}
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число сообщений, потерянных при переполнении
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
