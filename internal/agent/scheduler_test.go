package agent

import (
	"sync/atomic"
	"testing"
	"time"

	"fastsync/internal/logging"
)

func TestSchedulerIntervalJob(t *testing.T) {
	s, err := NewScheduler(logging.Discard())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer s.Stop()

	var runs atomic.Int64
	if err := s.AddIntervalJob("tick", 20*time.Millisecond, func() { runs.Add(1) }); err != nil {
		t.Fatalf("AddIntervalJob: %v", err)
	}
	s.Start()

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "tick" {
		t.Errorf("unexpected job list: %+v", jobs)
	}
	if jobs[0].Schedule != "20ms" {
		t.Errorf("schedule = %q", jobs[0].Schedule)
	}
}

func TestSchedulerRejectsDuplicateName(t *testing.T) {
	s, err := NewScheduler(logging.Discard())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer s.Stop()

	if err := s.AddIntervalJob("x", time.Hour, func() {}); err != nil {
		t.Fatalf("AddIntervalJob: %v", err)
	}
	if err := s.AddIntervalJob("x", time.Hour, func() {}); err == nil {
		t.Error("expected error for duplicate job name")
	}
}
