package api

import (
	"sync"
	"testing"
)

func TestInflightLimiter_Basic(t *testing.T) {
	limiter := NewInflightLimiter(2)
	client := "192.168.1.1"

	if !limiter.Acquire(client) {
		t.Fatal("first acquire should succeed")
	}
	if !limiter.Acquire(client) {
		t.Fatal("second acquire should succeed")
	}
	if limiter.Acquire(client) {
		t.Error("third acquire should fail while two are running")
	}
	if got := limiter.Inflight(client); got != 2 {
		t.Errorf("expected 2 inflight, got %d", got)
	}

	limiter.Release(client)
	if !limiter.Acquire(client) {
		t.Error("acquire should succeed after a release")
	}
}

func TestInflightLimiter_ClientsAreIndependent(t *testing.T) {
	limiter := NewInflightLimiter(1)

	if !limiter.Acquire("10.0.0.1") {
		t.Fatal("client 1 should acquire")
	}
	if !limiter.Acquire("10.0.0.2") {
		t.Error("client 2 should not be affected by client 1")
	}
	if limiter.Acquire("10.0.0.1") {
		t.Error("client 1 should be at its limit")
	}
}

func TestInflightLimiter_ReleaseForgetsIdleClients(t *testing.T) {
	limiter := NewInflightLimiter(3)

	limiter.Acquire("a")
	limiter.Release("a")
	limiter.Release("a") // extra release must not go negative

	limiter.mu.Lock()
	n := len(limiter.byClient)
	limiter.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no tracked clients, got %d", n)
	}
	if got := limiter.Inflight("a"); got != 0 {
		t.Errorf("expected 0 inflight, got %d", got)
	}
}

func TestInflightLimiter_Disabled(t *testing.T) {
	limiter := NewInflightLimiter(0)
	for i := 0; i < 100; i++ {
		if !limiter.Acquire("x") {
			t.Fatalf("acquire %d should succeed when disabled", i)
		}
	}
	limiter.Release("x")
	if limiter.MaxInflight() != 0 {
		t.Error("expected max 0")
	}
}

func TestInflightLimiter_Concurrent(t *testing.T) {
	limiter := NewInflightLimiter(5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Acquire("shared") {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 5 {
		t.Errorf("expected exactly 5 acquisitions, got %d", acquired)
	}
}
