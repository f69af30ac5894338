package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"firisync/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// broadcastBufferSize - ёмкость очереди broadcast
const broadcastBufferSize = 256

// envelope - сериализованное сообщение и подключение, к которому оно относится
// uuid.Nil - сообщение для всех клиентов
type envelope struct {
	connectionID uuid.UUID
	data         []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Рассылает прогресс синхронизации дашбордам. Клиент, подписанный
// на конкретное подключение (?connection_id=...), получает только его
// сообщения; без подписки - все.
//
// Использование:
// 1. Создать hub: hub := NewHub(logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.BroadcastSyncProgress(...)
// 4. Остановить: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Очередь broadcast
	broadcast chan envelope

	register   chan *Client
	unregister chan *Client

	// Закрывается в Stop
	done     chan struct{}
	stopOnce sync.Once

	// Сообщения, отброшенные при переполненной очереди
	dropped atomic.Int64

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Список клиентов копируется под RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
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
			h.logger.Debug("client connected", zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", zap.Int("clients", total))

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if client.wants(msg.connectionID) {
					clients = append(clients, client)
				}
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- msg.data:
				default:
					// Клиент не успевает - удаляем
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
				h.logger.Warn("removed slow clients", zap.Int("removed", len(toRemove)), zap.Int("clients", total))
			}
		}
	}
}

// Stop останавливает Run и закрывает каналы клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast сериализует сообщение и ставит в очередь для всех клиентов
func (h *Hub) Broadcast(message interface{}) {
	h.broadcastTo(uuid.Nil, message)
}

// BroadcastRaw ставит в очередь уже сериализованное сообщение
// Не блокирует: при переполненной очереди сообщение отбрасывается.
func (h *Hub) BroadcastRaw(data []byte) {
	h.enqueue(envelope{data: data})
}

// BroadcastSyncProgress отправляет прогресс потока
func (h *Hub) BroadcastSyncProgress(connectionID uuid.UUID, stream models.Stream, progress models.StreamProgress) {
	h.broadcastTo(connectionID, NewSyncProgressMessage(connectionID, stream, progress))
}

// BroadcastSyncCompleted отправляет сводку завершённой синхронизации
func (h *Hub) BroadcastSyncCompleted(summary *models.SyncSummary) {
	if summary == nil {
		return
	}
	h.broadcastTo(summary.ConnectionID, NewSyncCompletedMessage(summary))
}

func (h *Hub) broadcastTo(connectionID uuid.UUID, message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	// Убираем trailing newline от Encode
	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	// Копия: буфер вернётся в пул
	msg := make([]byte, len(data))
	copy(msg, data)

	h.enqueue(envelope{connectionID: connectionID, data: msg})
}

func (h *Hub) enqueue(msg envelope) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
