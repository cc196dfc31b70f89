// Package maintenance runs the periodic housekeeping jobs: purging expired
// call state, re-queueing extraction work that never reached a worker and
// redelivering notifications whose webhook failed.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

// Redeliverer retries undelivered notifications.
type Redeliverer interface {
	Redeliver(ctx context.Context) (int, error)
}

// Options configure the Scheduler. Empty schedules disable their job.
type Options struct {
	PurgeSchedule     string
	RequeueSchedule   string
	RedeliverSchedule string
	// RequeueBatch caps how many calls and replies one sweep re-queues.
	RequeueBatch int
	Logger       *slog.Logger
}

// Scheduler owns the cron runner and the jobs it fires.
type Scheduler struct {
	states    callstate.Store
	quotes    *quotes.Store
	work      quotes.Scheduler
	redeliver Redeliverer
	opts      Options
	cron      *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

// New validates the schedules and registers the jobs. Nothing runs until
// Start is called.
func New(states callstate.Store, quoteStore *quotes.Store, work quotes.Scheduler, redeliver Redeliverer, opts Options) (*Scheduler, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequeueBatch <= 0 {
		opts.RequeueBatch = 100
	}
	logger := cronLogger{opts.Logger}
	s := &Scheduler{
		states:    states,
		quotes:    quoteStore,
		work:      work,
		redeliver: redeliver,
		opts:      opts,
		cron:      cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		ctx:       context.Background(),
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) (int, error)
	}{
		{"purge_states", opts.PurgeSchedule, s.PurgeStates},
		{"requeue_extractions", opts.RequeueSchedule, s.RequeueExtractions},
		{"redeliver_notifications", opts.RedeliverSchedule, s.RedeliverNotifications},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.wrap(j.name, j.run)); err != nil {
			return nil, fmt.Errorf("scheduling %s %q: %w", j.name, j.spec, err)
		}
	}
	return s, nil
}

// Start runs the jobs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}

// Stop halts the runner and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Jobs reports how many jobs are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) wrap(name string, run func(context.Context) (int, error)) func() {
	return func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		n, err := run(ctx)
		if err != nil {
			s.opts.Logger.Error("maintenance job failed", "job", name, "error", err)
			return
		}
		if n > 0 {
			s.opts.Logger.Info("maintenance job finished", "job", name, "count", n)
		}
	}
}

// PurgeStates removes expired call state and stale locks.
func (s *Scheduler) PurgeStates(ctx context.Context) (int, error) {
	n, err := s.states.Purge(ctx)
	if err != nil {
		return 0, fmt.Errorf("purging call state: %w", err)
	}
	return n, nil
}

// RequeueExtractions hands pending calls and replies back to the
// extraction workers. Work dropped on a full queue or lost in a restart is
// picked up here. A full queue ends the sweep early.
func (s *Scheduler) RequeueExtractions(ctx context.Context) (int, error) {
	calls, err := s.quotes.ListCallsByExtraction(ctx, quotes.ExtractionPending, s.opts.RequeueBatch)
	if err != nil {
		return 0, fmt.Errorf("listing pending calls: %w", err)
	}
	queued := 0
	for _, c := range calls {
		if err := s.work.ScheduleCall(ctx, c.ID); err != nil {
			s.opts.Logger.Warn("re-queueing call extraction", "call_id", c.ID, "error", err)
			return queued, nil
		}
		queued++
	}

	replies, err := s.quotes.ListPendingReplies(ctx, s.opts.RequeueBatch)
	if err != nil {
		return queued, fmt.Errorf("listing pending replies: %w", err)
	}
	for _, r := range replies {
		if err := s.work.ScheduleReply(ctx, r.ID); err != nil {
			s.opts.Logger.Warn("re-queueing reply extraction", "reply_id", r.ID, "error", err)
			return queued, nil
		}
		queued++
	}
	return queued, nil
}

// RedeliverNotifications retries notifications whose delivery failed.
func (s *Scheduler) RedeliverNotifications(ctx context.Context) (int, error) {
	if s.redeliver == nil {
		return 0, nil
	}
	n, err := s.redeliver.Redeliver(ctx)
	if err != nil {
		return n, fmt.Errorf("redelivering notifications: %w", err)
	}
	return n, nil
}

// cronLogger routes the cron runner's own logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
