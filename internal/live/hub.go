package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riverlevels/riverlevels/internal/monitor"
)

const (
	writeTimeout = 10 * time.Second

	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Alert is the wire form of a monitor.Alert.
type Alert struct {
	Key       string  `json:"key"`
	Name      string  `json:"name"`
	Direction string  `json:"direction"`
	Text      string  `json:"text"`
	Value     float64 `json:"value"`
	Delta     float64 `json:"delta"`
}

// Cycle describes one completed watch cycle.
type Cycle struct {
	At     time.Time `json:"at"`
	Alerts []Alert   `json:"alerts"`
	Error  string    `json:"error,omitempty"`
}

// NewCycle builds the Cycle for alerts raised at, or for the error that
// aborted the cycle.
func NewCycle(at time.Time, alerts []monitor.Alert, err error) Cycle {
	c := Cycle{At: at.UTC(), Alerts: make([]Alert, 0, len(alerts))}
	for _, a := range alerts {
		c.Alerts = append(c.Alerts, Alert{
			Key:       a.Key,
			Name:      a.Name,
			Direction: string(a.Direction),
			Text:      a.Text,
			Value:     a.Value,
			Delta:     a.Delta,
		})
	}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// Message is the envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  Cycle  `json:"data"`
}

// Hub tracks connected clients and fans cycle results out to them. New
// clients receive the most recent cycle on connect.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Publish sends c to every connected client. A client whose buffer is full
// is disconnected. Publish on a nil Hub does nothing.
func (h *Hub) Publish(c Cycle) {
	if h == nil {
		return
	}
	if c.Alerts == nil {
		c.Alerts = []Alert{}
	}
	data, err := json.Marshal(Message{Event: "cycle", Data: c})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for cl := range h.clients {
		select {
		case cl.send <- data:
		default:
			delete(h.clients, cl)
			close(cl.send)
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves the client until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; clients have nothing to say.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
