package sidecar

import (
	"sync"

	"github.com/guseggert/sidecar/supervisor"
)

// outputHub fans child output out to a dynamic set of subscribers.
// Publishing never blocks the monitor loop: a subscriber that falls behind misses lines.
type outputHub struct {
	m      sync.Mutex
	nextID int
	subs   map[int]chan supervisor.OutputLine
}

func newOutputHub() *outputHub {
	return &outputHub{subs: map[int]chan supervisor.OutputLine{}}
}

func (h *outputHub) subscribe(buffer int) (<-chan supervisor.OutputLine, func()) {
	h.m.Lock()
	defer h.m.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan supervisor.OutputLine, buffer)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.m.Lock()
			defer h.m.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (h *outputHub) publish(line supervisor.OutputLine) {
	h.m.Lock()
	defer h.m.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
		}
	}
}
