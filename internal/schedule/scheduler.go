package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs named interval jobs. Every job has an identity, can be
// stopped individually, and StopAll waits for in-flight runs so shutdown
// is deterministic.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*job
	logger *zap.Logger
}

type job struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*job),
		logger: logger,
	}
}

// Every registers and starts a job that runs fn on the given interval.
// Job names are unique.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already scheduled", name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{name: name, cancel: cancel, done: make(chan struct{})}
	s.jobs[name] = j

	go func() {
		defer close(j.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	s.logger.Info("job scheduled",
		zap.String("job", name),
		zap.Duration("interval", interval),
	)

	return nil
}

// Stop cancels one job and waits for its current run to finish.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	j.cancel()
	<-j.done
	s.logger.Info("job stopped", zap.String("job", name))
}

// StopAll cancels every job and waits for them all.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
		<-j.done
	}
}
