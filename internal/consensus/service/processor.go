package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	consensusmetrics "vigil/internal/consensus/metrics"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/requestcontext"
)

// Evaluator is the engine call the processor drives.
type Evaluator interface {
	Evaluate(ctx context.Context, subject id.SubjectID) (*Evaluation, error)
}

// BatchReport summarizes one processor pass.
type BatchReport struct {
	Processed int
	Applied   int
	Stale     int
	Waiting   int
	Failed    int
	Escalated int
}

// Processor evaluates pending subjects on a fixed cadence. A failing subject
// never blocks the rest of its batch; it is requeued until its retry budget
// is spent and then escalated. A subject awaiting a vault trigger is parked
// and rechecked after waitRecheck, unless a trigger requeues it sooner.
type Processor struct {
	engine      Evaluator
	queue       *Queue
	logger      *slog.Logger
	metrics     *consensusmetrics.Metrics
	security    SecurityAuditor
	interval    time.Duration
	batchSize   int
	concurrency int
	retryBudget int
	waitRecheck time.Duration

	mu       sync.Mutex
	attempts map[id.SubjectID]int
	parked   map[id.SubjectID]time.Time
}

type ProcessorOption func(*Processor)

func WithInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithConcurrency(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithRetryBudget(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.retryBudget = n
		}
	}
}

// WithWaitRecheck sets how long a subject awaiting a vault trigger stays
// parked before it is evaluated again.
func WithWaitRecheck(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.waitRecheck = d
		}
	}
}

func WithProcessorMetrics(m *consensusmetrics.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

func WithEscalationAuditor(a SecurityAuditor) ProcessorOption {
	return func(p *Processor) { p.security = a }
}

func NewProcessor(engine Evaluator, queue *Queue, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		engine:      engine,
		queue:       queue,
		logger:      logger,
		interval:    30 * time.Second,
		batchSize:   100,
		concurrency: 8,
		retryBudget: 5,
		waitRecheck: time.Hour,
		attempts:    make(map[id.SubjectID]int),
		parked:      make(map[id.SubjectID]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes batches until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := p.RunOnce(ctx)
			if report.Processed > 0 {
				p.logger.Info("consensus batch processed",
					"processed", report.Processed,
					"applied", report.Applied,
					"stale", report.Stale,
					"waiting", report.Waiting,
					"failed", report.Failed,
					"escalated", report.Escalated,
				)
			}
		}
	}
}

// RunOnce evaluates up to one batch of subjects in insertion order with
// bounded concurrency. Parked subjects whose recheck is due go back on the
// queue first.
func (p *Processor) RunOnce(ctx context.Context) BatchReport {
	p.releaseDue(requestcontext.Now(ctx))
	batch := p.queue.PopBatch(p.batchSize)
	var (
		mu     sync.Mutex
		report = BatchReport{Processed: len(batch)}
	)
	if len(batch) == 0 {
		return report
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, subject := range batch {
		g.Go(func() error {
			outcome := p.process(ctx, subject)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeApplied:
				report.Applied++
			case outcomeStale:
				report.Stale++
			case outcomeWaiting:
				report.Waiting++
			case outcomeEscalated:
				report.Failed++
				report.Escalated++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	p.metrics.SetPending(p.queue.Len())
	return report
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeStale
	outcomeWaiting
	outcomeFailed
	outcomeEscalated
)

func (p *Processor) process(ctx context.Context, subject id.SubjectID) outcome {
	eval, err := p.engine.Evaluate(ctx, subject)
	switch {
	case err == nil && eval != nil && eval.AwaitingTrigger:
		p.reset(subject)
		p.park(subject, requestcontext.Now(ctx).Add(p.waitRecheck))
		return outcomeWaiting
	case err == nil:
		p.reset(subject)
		return outcomeApplied
	case dErrors.HasCode(err, dErrors.CodeConsensusStale):
		p.reset(subject)
		return outcomeStale
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		p.reset(subject)
		p.logger.Warn("pending subject has no events", "subject_id", subject.String())
		return outcomeFailed
	}

	attempts := p.fail(subject)
	if attempts < p.retryBudget {
		p.logger.Warn("consensus evaluation failed, requeued",
			"subject_id", subject.String(),
			"attempt", attempts,
			"error", err,
		)
		p.queue.Push(subject)
		return outcomeFailed
	}

	p.reset(subject)
	p.escalate(ctx, subject, attempts, err)
	return outcomeEscalated
}

func (p *Processor) escalate(ctx context.Context, subject id.SubjectID, attempts int, err error) {
	p.logger.Error("consensus evaluation escalated after retry budget",
		"subject_id", subject.String(),
		"attempts", attempts,
		"error", err,
	)
	p.metrics.IncEscalation()
	if p.security == nil {
		return
	}
	p.security.Emit(ctx, audit.SecurityEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject.String(),
		Action:    string(audit.EventConsensusEscalated),
		Reason:    string(dErrors.CodeOf(err)),
		Severity:  audit.SeverityCritical,
	})
}

func (p *Processor) fail(subject id.SubjectID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[subject]++
	return p.attempts[subject]
}

func (p *Processor) park(subject id.SubjectID, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parked[subject] = until
}

func (p *Processor) releaseDue(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for subject, until := range p.parked {
		if !now.Before(until) {
			delete(p.parked, subject)
			p.queue.Push(subject)
		}
	}
}

// Parked reports how many subjects are waiting on a vault trigger.
func (p *Processor) Parked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.parked)
}

func (p *Processor) reset(subject id.SubjectID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, subject)
	delete(p.parked, subject)
}
