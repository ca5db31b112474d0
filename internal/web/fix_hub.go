package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"gnss-survey/internal/nmea"
)

// FixMessage is one websocket frame: either a parsed sentence or a link
// status change.
type FixMessage struct {
	Type      string    `json:"type"` // "fix" or "status"
	Fix       *nmea.Fix `json:"fix,omitempty"`
	Connected *bool     `json:"connected,omitempty"`
	At        string    `json:"at"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // survey UI is served from the device itself
	},
}

// FixHub fans fixes out to websocket clients. Slow clients drop frames
// instead of stalling the reader. New subscribers get the most recent fix.
type FixHub struct {
	mu       sync.RWMutex
	subs     map[int]chan FixMessage
	nextID   int
	last     FixMessage
	haveLast bool
}

func NewFixHub() *FixHub {
	return &FixHub{subs: make(map[int]chan FixMessage)}
}

func (h *FixHub) Subscribe(buffer int) (int, <-chan FixMessage) {
	if h == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan FixMessage, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	last := h.last
	have := h.haveLast
	h.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (h *FixHub) Unsubscribe(id int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *FixHub) Clients() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// PublishFix is a bus fix subscriber.
func (h *FixHub) PublishFix(fix nmea.Fix) {
	if h == nil {
		return
	}
	at := fix.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	h.publish(FixMessage{Type: "fix", Fix: &fix, At: at.Format(time.RFC3339Nano)}, fix.Valid)
}

// PublishConnection is a bus status subscriber.
func (h *FixHub) PublishConnection(connected bool) {
	if h == nil {
		return
	}
	h.publish(FixMessage{Type: "status", Connected: &connected, At: time.Now().UTC().Format(time.RFC3339Nano)}, false)
}

func (h *FixHub) publish(msg FixMessage, remember bool) {
	h.mu.Lock()
	if remember {
		h.last = msg
		h.haveLast = true
	}
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades to a websocket and streams FixMessages as JSON until
// the client goes away.
func (h *FixHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ch := h.Subscribe(32)
	defer h.Unsubscribe(id)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("fix websocket upgrade failed")
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Time{})

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("fix websocket closed")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
