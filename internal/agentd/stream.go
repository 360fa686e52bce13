package agentd

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tutu-network/agentcore/internal/domain"
)

// streamHub fans newly appended ledger events out to every connected
// /events/log/stream websocket client, mirroring the broad
// upgrade-loop-plus-fanout shape seen across the retrieval pack.
type streamHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan domain.Event
}

func newStreamHub() *streamHub {
	return &streamHub{clients: make(map[*websocket.Conn]chan domain.Event)}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *streamHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := make(chan domain.Event, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		close(ch)
		conn.Close()
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("[agentd] stream write failed: %v", err)
			return
		}
	}
}

// broadcast pushes ev to every connected client without blocking on a
// slow or stalled reader.
func (h *streamHub) broadcast(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}
