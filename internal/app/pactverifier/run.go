package pactverifier

import (
	"context"
	"sync"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/verification"
	"github.com/google/uuid"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one asynchronous verification of a pact submitted to the API.
type Run struct {
	mu       sync.RWMutex
	id       string
	consumer string
	provider string
	started  time.Time
	finished time.Time
	status   RunStatus
	report   *verification.Report
	cancel   context.CancelFunc
	done     chan struct{}
}

// RunDocument is the JSON view of a run.
type RunDocument struct {
	ID       string               `json:"id"`
	Consumer string               `json:"consumer"`
	Provider string               `json:"provider"`
	Status   RunStatus            `json:"status"`
	Started  time.Time            `json:"started"`
	Finished *time.Time           `json:"finished,omitempty"`
	Report   *verification.Report `json:"report,omitempty"`
}

func newRun(consumer, provider string, cancel context.CancelFunc) *Run {
	return &Run{
		id:       uuid.NewString(),
		consumer: consumer,
		provider: provider,
		started:  time.Now(),
		status:   RunRunning,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (r *Run) ID() string {
	return r.id
}

// complete records the report and wakes up waiters. A run stopped before every interaction was
// verified is marked cancelled.
func (r *Run) complete(report *verification.Report, cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RunRunning {
		return
	}
	r.report = report
	r.status = RunCompleted
	if cancelled {
		r.status = RunCancelled
	}
	r.finished = time.Now()
	close(r.done)
}

// Done reports whether the run has finished.
func (r *Run) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Run) Document() RunDocument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc := RunDocument{
		ID:       r.id,
		Consumer: r.consumer,
		Provider: r.provider,
		Status:   r.status,
		Started:  r.started,
		Report:   r.report,
	}
	if !r.finished.IsZero() {
		finished := r.finished
		doc.Finished = &finished
	}
	return doc
}
