package scheduler

import "testing"

func TestSchedulerRegister(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	job := Job{Name: "noop", Cadence: "* * * * *", Run: func() {}}
	if err := s.Register(job); err != nil {
		t.Errorf("Expected no error registering job, got %v", err)
	}
}

func TestSchedulerRejectsBadCadence(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	job := Job{Name: "bad", Cadence: "not-a-cron-expr", Run: func() {}}
	if err := s.Register(job); err == nil {
		t.Error("Expected error for invalid cadence")
	}
}

func TestSchedulerRejectsNilHandler(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.Register(Job{Name: "empty", Cadence: "* * * * *"}); err == nil {
		t.Error("Expected error for nil handler")
	}
}
