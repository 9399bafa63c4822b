// Package fleet runs checkout tasks concurrently, one isolated session each.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/checkout"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/events"
)

const (
	MaxTasks       = 50
	DefaultStagger = 50 * time.Millisecond
)

const (
	StateWaiting = "waiting"
	StateRunning = "running"
	StateSuccess = "success"
	StateFailed  = "failed"
	StateStopped = "stopped"
)

var ErrTooManyTasks = fmt.Errorf("a fleet runs at most %d tasks", MaxTasks)

type Task struct {
	Index int
	Buyer checkout.Buyer

	// Proxy is the egress this task is bound to for its whole run. Optional.
	Proxy *url.URL
}

type Summary struct {
	Index    int           `json:"index"`
	User     string        `json:"user"`
	Success  bool          `json:"success"`
	Step     checkout.Step `json:"step"`
	DryRun   bool          `json:"dryRun"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	OrderURL string        `json:"orderUrl,omitempty"`
}

type Result struct {
	SuccessCount int       `json:"successCount"`
	FailCount    int       `json:"failCount"`
	Summaries    []Summary `json:"summaries"`
}

// Runner performs the checkout of one task. stop reports a fleet stop and must
// be checked by the runner at step boundaries.
type Runner func(ctx context.Context, task Task, log *events.Recorder, stop func() bool) *checkout.Outcome

type Config struct {
	Stagger time.Duration

	// StopOnFirstSuccess skips the tasks that have not started yet once one succeeded.
	StopOnFirstSuccess bool

	Sink events.Sink
}

type Fleet struct {
	cfg     Config
	run     Runner
	stopped atomic.Bool
	winner  atomic.Int32
}

func New(cfg Config, run Runner) *Fleet {
	if cfg.Stagger < 0 {
		cfg.Stagger = 0
	} else if cfg.Stagger == 0 {
		cfg.Stagger = DefaultStagger
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}

	f := &Fleet{cfg: cfg, run: run}
	f.winner.Store(-1)
	return f
}

// Stop asks every task to finish at its next step boundary.
func (f *Fleet) Stop() {
	f.stopped.Store(true)
}

func (f *Fleet) Stopped() bool {
	return f.stopped.Load()
}

// Winner is the index of the first successful task, or -1.
func (f *Fleet) Winner() int {
	return int(f.winner.Load())
}

func (f *Fleet) Launch(ctx context.Context, tasks []Task) (*Result, error) {
	if len(tasks) == 0 {
		return nil, errors.New("no tasks to launch")
	}
	if len(tasks) > MaxTasks {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyTasks, len(tasks))
	}

	summaries := make([]Summary, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		task.Index = i
		wg.Add(1)
		go func() {
			defer wg.Done()
			summaries[i] = f.runTask(ctx, task)
		}()
	}
	wg.Wait()

	result := &Result{Summaries: summaries}
	for _, s := range summaries {
		if s.Success {
			result.SuccessCount++
		} else {
			result.FailCount++
		}
	}

	slog.Info("fleet finished", "tasks", len(tasks), "successes", result.SuccessCount, "failures", result.FailCount)
	f.cfg.Sink(events.Event{
		Kind:      events.KindComplete,
		Task:      -1,
		Successes: result.SuccessCount,
		Failures:  result.FailCount,
	})

	return result, nil
}

// skip reports whether a task that has not started yet must not start.
func (f *Fleet) skip() bool {
	return f.stopped.Load() || (f.cfg.StopOnFirstSuccess && f.winner.Load() >= 0)
}

func (f *Fleet) runTask(ctx context.Context, task Task) (summary Summary) {
	log := events.NewRecorder(f.cfg.Sink, task.Index, task.Buyer.Email)
	summary = Summary{Index: task.Index, User: task.Buyer.Email}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			var err error
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("recover panic: %v", r)
			}
			log.Error("task crashed: %v", err)
			log.State(StateFailed)
			summary = Summary{
				Index:   task.Index,
				User:    task.Buyer.Email,
				Step:    checkout.StepFatal,
				Error:   err.Error(),
				Elapsed: time.Since(start),
			}
		}
	}()

	log.State(StateWaiting)
	if delay := time.Duration(task.Index) * f.cfg.Stagger; delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	if ctx.Err() != nil || f.skip() {
		log.State(StateStopped)
		summary.Step = checkout.StepStopped
		summary.Error = "not started: fleet stopped"
		return summary
	}

	log.State(StateRunning)
	out := f.run(ctx, task, log, f.Stopped)
	if out == nil {
		panic(errors.New("runner returned no outcome"))
	}

	summary.Success = out.Success
	summary.Step = out.Step
	summary.DryRun = out.DryRun
	summary.Error = out.Error
	summary.Elapsed = out.Elapsed
	summary.OrderURL = out.OrderURL

	switch {
	case out.Success:
		f.winner.CompareAndSwap(-1, int32(task.Index))
		log.State(StateSuccess)
	case out.Step == checkout.StepStopped:
		log.State(StateStopped)
	default:
		log.State(StateFailed)
	}

	return summary
}
