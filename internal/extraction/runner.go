package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RunnerOptions size the background worker pool.
type RunnerOptions struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

// Runner executes extraction jobs on a fixed pool of workers fed by a
// bounded queue. Enqueueing never blocks.
type Runner struct {
	pipeline *Pipeline
	queue    chan Job
	workers  int
	logger   *slog.Logger
	wg       sync.WaitGroup
	once     sync.Once
}

// NewRunner creates a Runner. Call Start to launch the workers.
func NewRunner(pipeline *Pipeline, opts RunnerOptions) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		pipeline: pipeline,
		queue:    make(chan Job, opts.QueueSize),
		workers:  opts.Workers,
		logger:   opts.Logger,
	}
}

// Start launches the workers. They exit when ctx is cancelled; Wait blocks
// until they have.
func (r *Runner) Start(ctx context.Context) {
	r.once.Do(func() {
		for i := 0; i < r.workers; i++ {
			r.wg.Add(1)
			go r.work(ctx)
		}
	})
}

// Wait blocks until all workers have exited.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.queue:
			rep := r.pipeline.Run(ctx, job)
			if rep.Err != nil {
				r.logger.Warn("extraction job failed", "kind", job.Kind, "id", job.ID, "error", rep.Err)
			}
		}
	}
}

// ScheduleCall queues extraction of a finished call.
func (r *Runner) ScheduleCall(ctx context.Context, callLogID string) error {
	return r.enqueue(ctx, Job{Kind: JobCall, ID: callLogID})
}

// ScheduleReply queues extraction of a stored supplier reply.
func (r *Runner) ScheduleReply(ctx context.Context, replyID string) error {
	return r.enqueue(ctx, Job{Kind: JobReply, ID: replyID})
}

func (r *Runner) enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case r.queue <- job:
		return nil
	default:
		return fmt.Errorf("%s %s: %w", job.Kind, job.ID, ErrQueueFull)
	}
}

// RunAll processes jobs synchronously with at most Workers in flight and
// returns one report per job, in input order. A failing job never stops
// the others. onDone, if set, is called after each job.
func (r *Runner) RunAll(ctx context.Context, jobs []Job, onDone func(Report)) []Report {
	reports := make([]Report, len(jobs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			rep := r.pipeline.Run(gctx, job)
			reports[i] = rep
			if onDone != nil {
				mu.Lock()
				onDone(rep)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // failures are carried in each Report
	return reports
}
