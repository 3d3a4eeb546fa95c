package pipeline

import (
	"context"
	"time"

	"forgeline/internal/logging"
)

// HealthStatus is a snapshot of the daemon's state.
type HealthStatus struct {
	Running        bool      `json:"running"`
	LastCycle      time.Time `json:"last_cycle"`
	Cycles         int       `json:"cycles"`
	Accepted       int       `json:"accepted"`
	Rejected       int       `json:"rejected"`
	LoadFailed     int       `json:"load_failed"`
	ContentMissing int       `json:"content_missing"`
	Errors         int       `json:"errors"`
}

// StartWorker launches the background acceptance daemon. One cycle runs
// immediately, then every interval. Calling it while running is a no-op.
func (p *Pipeline) StartWorker(interval time.Duration) {
	p.healthMu.Lock()
	if p.stopCh != nil {
		p.healthMu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	p.stopCh = stop
	p.doneCh = done
	p.running = true
	p.healthMu.Unlock()

	logging.Pipeline("Acceptance daemon starting (interval=%v)", interval)
	go p.runWorker(stop, done, interval)
}

// StopWorker signals the daemon to stop and waits briefly for the in-flight
// cycle to finish. Stopping never interrupts an artifact mid-gate; the stop
// signal is observed between cycles.
func (p *Pipeline) StopWorker() {
	p.healthMu.Lock()
	stop := p.stopCh
	done := p.doneCh
	p.stopCh = nil
	p.doneCh = nil
	p.running = false
	p.healthMu.Unlock()

	if stop != nil {
		close(stop)
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logging.Get(logging.CategoryPipeline).Warn("Acceptance daemon did not stop within 5s")
		}
	}
}

func (p *Pipeline) runWorker(stop <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.workerCycle()
	for {
		select {
		case <-stop:
			logging.Pipeline("Acceptance daemon stopped")
			return
		case <-ticker.C:
			p.workerCycle()
		}
	}
}

func (p *Pipeline) workerCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := p.RunCycle(ctx); err != nil {
		logging.Get(logging.CategoryPipeline).Error("Pipeline cycle failed: %v", err)
		p.healthMu.Lock()
		p.errors++
		p.healthMu.Unlock()
	}
}

// Health returns the current daemon health snapshot.
func (p *Pipeline) Health() HealthStatus {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	return HealthStatus{
		Running:        p.running,
		LastCycle:      p.lastCycle,
		Cycles:         p.cycles,
		Accepted:       p.accepted,
		Rejected:       p.rejected,
		LoadFailed:     p.loadFailed,
		ContentMissing: p.contentMissing,
		Errors:         p.errors,
	}
}
