package marker

import (
	"sync"
	"time"
)

// Poller calls tick on a fixed interval until tick returns true. It can be
// started again after it stopped itself.
type Poller struct {
	interval time.Duration
	tick     func() (done bool)

	mu     sync.Mutex
	stopCh chan struct{}
	// gen counts Start calls so a tick that raced a Start does not stop the
	// loop the Start relied on.
	gen uint64
}

// NewPoller creates a stopped poller.
func NewPoller(interval time.Duration, tick func() (done bool)) *Poller {
	return &Poller{interval: interval, tick: tick}
}

// Start begins polling. It is a no-op while the poller is running.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	go p.run(p.stopCh)
}

// Stop halts polling. It does not wait for an in-progress tick.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
}

// Running reports whether the polling goroutine is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCh != nil
}

func (p *Poller) run(stopCh chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		gen := p.gen
		p.mu.Unlock()

		if !p.tick() {
			continue
		}

		p.mu.Lock()
		if p.stopCh == stopCh && p.gen == gen {
			p.stopCh = nil
			p.mu.Unlock()
			return
		}
		stopped := p.stopCh != stopCh
		p.mu.Unlock()
		if stopped {
			return
		}
	}
}
