// Copyright 2025 Settlenet

package resilience

import (
	"testing"
	"time"
)

func TestBrickMonitor_TripsOnConsecutiveFailures(t *testing.T) {
	b := NewBrickMonitor("settlement", 3, time.Minute, 10*time.Second, 0, nil, nil)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if err := b.Allow(); err != nil {
			t.Fatalf("unexpected trip after %d failures: %v", i+1, err)
		}
	}

	b.RecordFailure()
	if err := b.Allow(); err == nil {
		t.Fatal("expected circuit to be tripped after 3 consecutive failures")
	}
}

func TestBrickMonitor_TripsOnWindowedFailures(t *testing.T) {
	b := NewBrickMonitor("settlement", 100, time.Minute, 10*time.Second, 3, nil, nil)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	clock = clock.Add(10 * time.Second)
	b.RecordFailure()
	clock = clock.Add(10 * time.Second)
	b.RecordFailure()

	if err := b.Allow(); err == nil {
		t.Fatal("expected circuit to be tripped after 3 failures within the window")
	}
}

func TestBrickMonitor_WindowedFailuresExpire(t *testing.T) {
	b := NewBrickMonitor("settlement", 100, time.Minute, 10*time.Second, 3, nil, nil)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	clock = clock.Add(2 * time.Minute)
	b.RecordFailure()
	clock = clock.Add(2 * time.Minute)
	b.RecordFailure()

	if err := b.Allow(); err != nil {
		t.Fatalf("failures outside the window should not trip the circuit: %v", err)
	}
}

func TestBrickMonitor_CooldownThenProbe(t *testing.T) {
	b := NewBrickMonitor("settlement", 1, time.Minute, 10*time.Second, 0, nil, nil)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	if err := b.Allow(); err == nil {
		t.Fatal("expected circuit tripped")
	}

	clock = clock.Add(5 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("expected circuit still tripped before cooldown elapses")
	}

	clock = clock.Add(10 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe to be allowed after cooldown: %v", err)
	}

	b.RecordSuccess()
	if err := b.Allow(); err != nil {
		t.Fatalf("expected circuit closed after successful probe: %v", err)
	}
}

func TestBrickMonitor_FailedProbeReopensCooldown(t *testing.T) {
	b := NewBrickMonitor("settlement", 1, time.Minute, 10*time.Second, 0, nil, nil)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	clock = clock.Add(10 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe allowed: %v", err)
	}
	b.RecordFailure()

	if err := b.Allow(); err == nil {
		t.Fatal("expected circuit to remain tripped after a failed probe")
	}
}
