package pull

import "sync"

const subscriberBuffer = 64

// Progress publishes per-paste transfer fractions in [0,1].
type Progress struct {
	mu     sync.Mutex
	values map[int64]float64
	subs   map[int64][]chan float64
}

func NewProgress() *Progress {
	return &Progress{
		values: make(map[int64]float64),
		subs:   make(map[int64][]chan float64),
	}
}

// Progress subscribes to updates for id. The channel is closed when the
// transfer reaches a terminal state.
func (p *Progress) Progress(id int64) <-chan float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan float64, subscriberBuffer)
	if v, ok := p.values[id]; ok {
		ch <- v
	}
	p.subs[id] = append(p.subs[id], ch)
	return ch
}

// Update records completed/total and notifies subscribers. Slow
// subscribers miss intermediate values, never the channel close.
func (p *Progress) Update(id int64, completed, total int) {
	if total <= 0 {
		return
	}
	v := float64(completed) / float64(total)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[id] = v
	for _, ch := range p.subs[id] {
		select {
		case ch <- v:
		default:
		}
	}
}

func (p *Progress) Get(id int64) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[id]
	return v, ok
}

// Remove drops the state of id and closes its subscriptions.
func (p *Progress) Remove(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, id)
	for _, ch := range p.subs[id] {
		close(ch)
	}
	delete(p.subs, id)
}
