// Package cron runs the scheduled event producers on independent timers.
// Each task is wrapped in its own error boundary: a failing or panicking
// cycle is logged and skipped, never fatal, and never blocks the others.
package cron

import (
	"context"
	"log"
	"sync"
	"time"

	"wastenav/internal/metrics"
)

// Task is one producer cycle. Errors mean "skip this cycle"; the task runs
// again on its next tick.
type Task func(ctx context.Context) error

type Scheduler struct {
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// now is swappable in tests
	now func() time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{stop: make(chan struct{}), now: time.Now}
}

// Every runs task on a fixed interval, first run one interval from now.
func (s *Scheduler) Every(name string, every time.Duration, task Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.runOnce(name, task)
			}
		}
	}()
}

// DailyAt runs task once per day at the given local hour.
func (s *Scheduler) DailyAt(name string, hour int, task Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			d := s.untilNext(hour)
			timer := time.NewTimer(d)
			select {
			case <-s.stop:
				timer.Stop()
				return
			case <-timer.C:
				s.runOnce(name, task)
			}
		}
	}()
}

func (s *Scheduler) untilNext(hour int) time.Duration {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// runOnce executes one cycle inside the task's error boundary.
func (s *Scheduler) runOnce(name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("cron %s: panic: %v", name, r)
			metrics.CronRuns.WithLabelValues(name, "panic").Inc()
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := task(ctx); err != nil {
		log.Printf("cron %s: %v", name, err)
		metrics.CronRuns.WithLabelValues(name, "error").Inc()
		return
	}
	metrics.CronRuns.WithLabelValues(name, "ok").Inc()
}

// Stop halts all timers and waits for in-flight cycles.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}
