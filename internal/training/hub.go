package training

import "sync"

// ProgressEvent is one checkpoint emitted while a training run advances.
type ProgressEvent struct {
	RunID          string  `json:"runId"`
	ModelID        string  `json:"modelId"`
	OrganisationID string  `json:"organisationId"`
	Status         string  `json:"status"`
	Epoch          int     `json:"epoch"`
	TotalEpochs    int     `json:"totalEpochs"`
	Progress       float64 `json:"progress"`
	Loss           float64 `json:"loss"`
	Accuracy       float64 `json:"accuracy"`
	Error          string  `json:"error,omitempty"`
}

// hub fans progress events out to live subscribers. Slow subscribers drop
// events instead of stalling a training run.
type hub struct {
	mu   sync.Mutex
	subs map[chan ProgressEvent]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan ProgressEvent]struct{})}
}

func (h *hub) subscribe() (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *hub) publish(ev ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
