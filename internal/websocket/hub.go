package websocket

import (
	"bytes"
	"log"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"papertrade/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ ОПТИМИЗАЦИЯ: sync.Pool для JSON буферов ============
// Убирает аллокации при каждом Broadcast

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast сообщений всем подключенным клиентам.
// Обеспечивает real-time поток событий движка на frontend без polling.
//
// Функции:
// - Регистрация новых WebSocket клиентов
// - Отмена регистрации отключенных клиентов
// - Broadcast сообщений всем активным клиентам
// - Очистка медленных/отключенных соединений
// - Потокобезопасная работа с клиентами (sync.RWMutex)
//
// Типы сообщений:
// - notification: событие движка (FILL, STOP_LOSS, REBALANCE, ...)
// - snapshot: снимок портфеля после шага
// - trade: исполненная сделка
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.BroadcastNotification(notif)
// 4. Остановить: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Сигнал остановки главного цикла
	stop     chan struct{}
	stopOnce sync.Once

	// Счётчик сообщений, отброшенных при переполнении broadcast канала
	dropped atomic.Int64

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Обрабатывает регистрацию, отмену регистрации и broadcast.
// Завершается после вызова Stop(), закрывая каналы всех клиентов.
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
			h.mu.Unlock()
			log.Printf("Client connected. Total clients: %d", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("Client disconnected. Total clients: %d", h.ClientCount())

		case message := <-h.broadcast:
			// Копируем список клиентов под коротким RLock
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			// Отправляем без блокировки (не задерживаем register/unregister)
			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает читать - помечаем для удаления
					toRemove = append(toRemove, client)
				}
			}

			// Удаляем медленных клиентов под Write Lock
			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
				log.Printf("Removed %d slow clients. Total clients: %d", len(toRemove), h.ClientCount())
			}
		}
	}
}

// Stop останавливает главный цикл Hub. Повторные вызовы безопасны.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Broadcast сериализует сообщение и отправляет его всем клиентам
// ОПТИМИЗАЦИЯ: использует sync.Pool для буферов (убирает аллокации)
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		log.Printf("Error marshaling broadcast message: %v", err)
		jsonBufferPool.Put(buf)
		return
	}

	// Убираем trailing newline от Encode
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Копируем данные (буфер вернётся в пул)
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw отправляет уже сериализованное сообщение без блокировки.
// При переполнении broadcast канала сообщение отбрасывается.
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastNotification отправляет событие движка
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(NewNotificationMessage(notif))
}

// BroadcastSnapshot отправляет снимок портфеля
func (h *Hub) BroadcastSnapshot(snap models.PortfolioSnapshot) {
	h.Broadcast(NewSnapshotMessage(snap))
}

// BroadcastTrade отправляет исполненную сделку
func (h *Hub) BroadcastTrade(trade models.Trade) {
	h.Broadcast(NewTradeMessage(trade))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число сообщений, отброшенных при переполнении
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
