// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	fake := Fake(testEpoch)
	if got := fake.Now(); !got.Equal(testEpoch) {
		t.Errorf("Now = %v, want %v", got, testEpoch)
	}
	fake.Advance(time.Minute)
	if got := fake.Now(); !got.Equal(testEpoch.Add(time.Minute)) {
		t.Errorf("Now after Advance = %v, want %v", got, testEpoch.Add(time.Minute))
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fake := Fake(testEpoch)
	ch := fake.After(10 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(10 * time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(testEpoch.Add(10 * time.Second)) {
			t.Errorf("fired at %v, want %v", fired, testEpoch.Add(10*time.Second))
		}
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := Fake(testEpoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	fake := Fake(testEpoch)
	ticker := fake.NewTicker(time.Minute)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		fake.Advance(time.Minute)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}
}

func TestFakeTickerStop(t *testing.T) {
	fake := Fake(testEpoch)
	ticker := fake.NewTicker(time.Minute)
	ticker.Stop()

	fake.Advance(5 * time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
}

func TestFakeSleepBlocksUntilAdvance(t *testing.T) {
	fake := Fake(testEpoch)
	done := make(chan struct{})
	go func() {
		fake.Sleep(time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestPendingCount(t *testing.T) {
	fake := Fake(testEpoch)
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("PendingCount = %d, want 0", got)
	}
	fake.After(time.Minute)
	ticker := fake.NewTicker(time.Minute)
	if got := fake.PendingCount(); got != 2 {
		t.Fatalf("PendingCount = %d, want 2", got)
	}
	ticker.Stop()
	if got := fake.PendingCount(); got != 1 {
		t.Fatalf("PendingCount after Stop = %d, want 1", got)
	}
}
