package pipeline

import "sync"

// hub fans updates out to subscribers. Each subscriber channel holds at
// most one update; a slow reader skips straight to the newest one.
type hub struct {
	mu     sync.Mutex
	latest *Update
	subs   map[int]chan Update
	nextID int
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Update)}
}

// subscribe returns a channel primed with the latest update, if any.
func (h *hub) subscribe() (<-chan Update, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Update, 1)
	if h.latest != nil {
		ch <- *h.latest
	}
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *hub) publish(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = &u
	for _, ch := range h.subs {
		select {
		case ch <- u:
		default:
			// Replace the unread update.
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) last() (Update, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return Update{}, false
	}
	return *h.latest, true
}
