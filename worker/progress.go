package worker

import (
	"sync"

	"pitchmail/models"
)

// Step and recipient states reported on the progress stream.
const (
	StatusStarted = models.StepInProgress
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusDone    = models.StepCompleted
)

type ProgressEvent struct {
	StepID  uint   `json:"step_id"`
	Email   string `json:"email,omitempty"`
	Status  string `json:"status"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// ProgressHub fans dispatch progress out to subscribers. Slow subscribers
// miss events rather than block a worker.
type ProgressHub struct {
	mu     sync.RWMutex
	subs   map[chan ProgressEvent]struct{}
	buffer int
}

func NewProgressHub(buffer int) *ProgressHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &ProgressHub{subs: make(map[chan ProgressEvent]struct{}), buffer: buffer}
}

// Subscribe returns a channel of events and a func that ends the subscription.
func (h *ProgressHub) Subscribe() (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *ProgressHub) Publish(ev ProgressEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *ProgressHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
