package vault

import (
	"context"
	"log/slog"
	"sync"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

// JobKind separates snapshot work from restore work.
type JobKind int

const (
	JobSnapshot JobKind = iota
	JobRestore
)

// Priority orders drain behavior at shutdown: restores and high-priority
// snapshots are completed, low-priority snapshots are abandoned.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// Job is one unit of vault I/O.
type Job struct {
	Kind     JobKind
	Priority Priority

	// Snapshot fields.
	Path    string
	Reason  model.BackupReason
	PID     int32
	Process string

	// Restore fields.
	EntryID int64

	// Done receives the outcome when non-nil. Buffered by the submitter.
	Done chan JobResult
}

// JobResult is the outcome of one job.
type JobResult struct {
	Entry   model.BackupEntry
	Restore model.RestoreResult
	Err     error
}

// Pool runs vault jobs on a fixed set of workers fed by a bounded queue.
type Pool struct {
	vault  *Vault
	jobs   chan Job
	logger *slog.Logger
	wg     sync.WaitGroup

	draining chan struct{}
	once     sync.Once
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(v *Vault, workers, depth int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if depth <= 0 {
		depth = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		vault:    v,
		jobs:     make(chan Job, depth),
		logger:   logger,
		draining: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues a job. It blocks while the queue is full and returns false
// once the pool is draining or the context is done.
func (p *Pool) Submit(ctx context.Context, job Job) bool {
	select {
	case <-p.draining:
		return false
	default:
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.draining:
		return false
	case <-ctx.Done():
		return false
	}
}

// Drain stops intake, finishes restores and high-priority snapshots already
// queued, and waits for the workers to exit.
func (p *Pool) Drain() {
	p.once.Do(func() {
		close(p.draining)
		close(p.jobs)
	})
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		if p.drainingNow() && job.Kind == JobSnapshot && job.Priority == PriorityLow {
			p.finish(job, JobResult{Err: context.Canceled})
			continue
		}
		switch job.Kind {
		case JobSnapshot:
			entry, err := p.vault.Snapshot(job.Path, job.Reason, job.PID, job.Process)
			if err != nil {
				p.logger.Warn("snapshot job failed", "worker", id, "path", job.Path, "error", err)
			}
			p.finish(job, JobResult{Entry: entry, Err: err})
		case JobRestore:
			res := p.vault.Restore(job.EntryID)
			p.finish(job, JobResult{Restore: res})
		}
	}
}

func (p *Pool) drainingNow() bool {
	select {
	case <-p.draining:
		return true
	default:
		return false
	}
}

func (p *Pool) finish(job Job, res JobResult) {
	if job.Done == nil {
		return
	}
	select {
	case job.Done <- res:
	default:
	}
}
