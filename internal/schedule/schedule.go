// Package schedule runs named jobs on cron expressions.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/namelens/domaincheck/internal/metrics"
)

var (
	// ErrTaskExists is returned when a task name is already registered.
	ErrTaskExists = errors.New("task already exists")
	// ErrTaskNotFound is returned for unknown task names.
	ErrTaskNotFound = errors.New("task not found")
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is the work performed on every tick.
type Job func(ctx context.Context) error

// Task is a snapshot of one registered job.
type Task struct {
	Name      string    `json:"name"`
	Spec      string    `json:"cron"`
	Enabled   bool      `json:"enabled"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
}

type task struct {
	Task
	id  cron.EntryID
	job Job
}

// Scheduler owns a cron runner and its named tasks. Overlapping runs of the
// same task are skipped.
type Scheduler struct {
	Logger *logging.Logger

	mu    sync.Mutex
	cron  *cron.Cron
	tasks map[string]*task
	ctx   context.Context
}

// New returns an idle scheduler.
func New(logger *logging.Logger) *Scheduler {
	return &Scheduler{
		Logger: logger,
		cron:   cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		tasks:  make(map[string]*task),
		ctx:    context.Background(),
	}
}

// ParseSpec validates a five-field cron expression or descriptor.
func ParseSpec(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return sched, nil
}

// Next returns the first activation of spec after from.
func Next(spec string, from time.Time) (time.Time, error) {
	sched, err := ParseSpec(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// Add registers an enabled task.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if job == nil {
		return errors.New("task job is required")
	}
	sched, err := ParseSpec(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, name)
	}
	t := &task{Task: Task{Name: name, Spec: spec, Enabled: true}, job: job}
	t.id = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(name) }))
	s.tasks[name] = t
	return nil
}

// Remove unregisters a task.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	s.cron.Remove(t.id)
	delete(s.tasks, name)
	return nil
}

// Enable resumes a disabled task.
func (s *Scheduler) Enable(name string) error {
	return s.setEnabled(name, true)
}

// Disable keeps a task registered but skips its ticks.
func (s *Scheduler) Disable(name string) error {
	return s.setEnabled(name, false)
}

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	t.Enabled = enabled
	return nil
}

// List returns task snapshots sorted by name.
func (s *Scheduler) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		snap := t.Task
		if entry := s.cron.Entry(t.id); entry.Valid() && !entry.Next.IsZero() {
			snap.NextRun = entry.Next
		} else if sched, err := ParseSpec(t.Spec); err == nil {
			snap.NextRun = sched.Next(time.Now())
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow executes a task immediately, regardless of whether it is enabled.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return s.execute(ctx, t)
}

// Run starts the cron loop and blocks until ctx is cancelled. Running jobs
// are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logInfo("Scheduler started", zap.Int("tasks", len(s.List())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logInfo("Scheduler stopped")
	return nil
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	ctx := s.ctx
	enabled := ok && t.Enabled
	s.mu.Unlock()
	if !enabled {
		return
	}
	_ = s.execute(ctx, t)
}

func (s *Scheduler) execute(ctx context.Context, t *task) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}

		s.mu.Lock()
		t.Runs++
		t.LastRun = start
		t.LastError = ""
		if err != nil {
			t.LastError = err.Error()
		}
		s.mu.Unlock()

		metrics.RecordScheduledRun(t.Name, err == nil)
		if err != nil {
			s.logError("Scheduled task failed", zap.String("task", t.Name), zap.Duration("duration", time.Since(start)), zap.Error(err))
			return
		}
		s.logInfo("Scheduled task completed", zap.String("task", t.Name), zap.Duration("duration", time.Since(start)))
	}()
	return t.job(ctx)
}

func (s *Scheduler) logInfo(msg string, fields ...zap.Field) {
	if s.Logger != nil {
		s.Logger.Info(msg, fields...)
	}
}

func (s *Scheduler) logError(msg string, fields ...zap.Field) {
	if s.Logger != nil {
		s.Logger.Error(msg, fields...)
	}
}
