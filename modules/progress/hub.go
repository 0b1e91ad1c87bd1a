package progress

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"bouquet-visualizer/modules/visualization"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// MessageTypeState - one state transition of a visualization request
const MessageTypeState = "state"

// Message pushed to subscribers of an order.
type Message struct {
	Type    string              `json:"type"`
	OrderID string              `json:"orderId"`
	From    visualization.State `json:"from"`
	To      visualization.State `json:"to"`
	At      time.Time           `json:"at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// progress is read-only and keyed by order id; any origin may watch
		return true
	},
}

// client is one websocket connection watching one order.
type client struct {
	id      string
	orderID string
	conn    *websocket.Conn
	send    chan []byte
}

// room holds the clients watching an order.
type room struct {
	clients map[string]*client
}

// Stats - counters for the metrics endpoint
type Stats struct {
	Rooms            int       `json:"rooms"`
	Clients          int       `json:"clients"`
	TotalConnections int       `json:"totalConnections"`
	Dropped          int       `json:"dropped"`
	StartTime        time.Time `json:"startTime"`
}

// Hub fans visualization transitions out to websocket subscribers, one room per order.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*room
	total  int
	drops  int
	start  time.Time
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		rooms:  make(map[string]*room),
		start:  time.Now(),
		logger: logger,
	}
}

// RegisterRoutes - websocket endpoint and stats
func (h *Hub) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.ServeWS)
	r.HandleFunc("/ws/stats", h.HandleStats).Methods("GET")
}

// OnTransition implements visualization.Observer. It never blocks: clients whose
// buffer is full are disconnected.
func (h *Hub) OnTransition(t visualization.Transition) {
	h.broadcast(t.OrderID, Message{Type: MessageTypeState, OrderID: t.OrderID, From: t.From, To: t.To, At: t.At})
}

func (h *Hub) broadcast(orderID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[orderID]
	if !ok {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal progress message", "err", err)
		return
	}
	for id, c := range rm.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow progress client", "order_id", orderID, "client", id)
			h.drops++
			h.removeLocked(c)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[c.orderID]
	if !ok {
		rm = &room{clients: make(map[string]*client)}
		h.rooms[c.orderID] = rm
	}
	rm.clients[c.id] = c
	h.total++
	h.logger.Debug("progress client joined", "order_id", c.orderID, "client", c.id, "clients", len(rm.clients))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes the client's send channel once and drops empty rooms.
func (h *Hub) removeLocked(c *client) {
	rm, ok := h.rooms[c.orderID]
	if !ok {
		return
	}
	if _, ok := rm.clients[c.id]; !ok {
		return
	}
	close(c.send)
	delete(rm.clients, c.id)
	if len(rm.clients) == 0 {
		delete(h.rooms, c.orderID)
	}
}

// Stats - current counters
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{Rooms: len(h.rooms), TotalConnections: h.total, Dropped: h.drops, StartTime: h.start}
	for _, rm := range h.rooms {
		st.Clients += len(rm.clients)
	}
	return st
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rm := range h.rooms {
		for _, c := range rm.clients {
			h.removeLocked(c)
		}
	}
}

// ServeWS - GET /ws?order=<id>
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order")
	if orderID == "" {
		http.Error(w, "order parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		id:      uuid.NewString(),
		orderID: orderID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
	}
	h.add(c)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only watches for the connection closing; clients do not send anything.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", "order_id", c.orderID, "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write error", "order_id", c.orderID, "err", err)
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

// HandleStats - GET /ws/stats
func (h *Hub) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Stats())
}
