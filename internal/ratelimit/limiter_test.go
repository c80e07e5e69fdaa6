package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestAdmitWithinLimit(t *testing.T) {
	l := New(2, time.Second)

	d1 := l.Admit("10.0.0.1")
	if !d1.Allowed || d1.Remaining != 1 {
		t.Errorf("call 1: expected Allowed remaining=1, got %+v", d1)
	}
	d2 := l.Admit("10.0.0.1")
	if !d2.Allowed || d2.Remaining != 0 {
		t.Errorf("call 2: expected Allowed remaining=0, got %+v", d2)
	}
}

func TestAdmitOverLimitBlocksWithPenalty(t *testing.T) {
	l := New(2, time.Second)
	l.Admit("10.0.0.1")
	l.Admit("10.0.0.1")

	d := l.Admit("10.0.0.1")
	if d.Allowed {
		t.Fatal("call 3: expected Denied")
	}
	if d.RetryAfter != BlockPenalty {
		t.Errorf("expected retry-after %s, got %s", BlockPenalty, d.RetryAfter)
	}

	st := l.Status("10.0.0.1")
	if !st.Blocked {
		t.Error("expected client to be blocked after overrun")
	}
	if !st.BlockExpiry.After(time.Now()) {
		t.Error("expected block expiry in the future")
	}
}

func TestRemainingStrictlyDecreases(t *testing.T) {
	l := New(5, time.Second)
	prev := 5
	for i := 0; i < 5; i++ {
		d := l.Admit("client")
		if !d.Allowed {
			t.Fatalf("call %d: expected Allowed", i+1)
		}
		if d.Remaining != prev-1 {
			t.Errorf("call %d: expected remaining %d, got %d", i+1, prev-1, d.Remaining)
		}
		prev = d.Remaining
	}
	if d := l.Admit("client"); d.Allowed {
		t.Error("call 6: expected Denied")
	}
}

func TestWindowSlides(t *testing.T) {
	l := New(1, 30*time.Millisecond)

	if d := l.Admit("client"); !d.Allowed {
		t.Fatal("first call should be allowed")
	}
	time.Sleep(50 * time.Millisecond)
	if d := l.Admit("client"); !d.Allowed {
		t.Error("expected admission after the window slid past the first call")
	}
}

func TestAdministrativeBlockAndExpiry(t *testing.T) {
	l := New(10, time.Second)

	l.Block("client", 30*time.Millisecond)
	if d := l.Admit("client"); d.Allowed {
		t.Fatal("expected Denied while administratively blocked")
	}

	time.Sleep(50 * time.Millisecond)
	if d := l.Admit("client"); !d.Allowed {
		t.Error("expected Allowed after block expiry")
	}
}

func TestUnblockUnknownClientIsNoOp(t *testing.T) {
	l := New(10, time.Second)
	l.Unblock("never-seen")

	st := l.Status("never-seen")
	if st.Known || st.Blocked {
		t.Errorf("expected unknown unblocked client, got %+v", st)
	}
}

func TestUnblockClearsBlockAndWindow(t *testing.T) {
	l := New(1, time.Hour)
	l.Admit("client")
	l.Admit("client") // overruns, blocks

	l.Unblock("client")
	if d := l.Admit("client"); !d.Allowed {
		t.Error("expected Allowed immediately after unblock")
	}
}

func TestLimitZeroAlwaysDenied(t *testing.T) {
	l := New(0, time.Second)
	for i := 0; i < 3; i++ {
		if d := l.Admit("client"); d.Allowed {
			t.Fatalf("call %d: expected Denied with limit 0", i+1)
		}
	}

	l = New(-5, time.Second)
	if d := l.Admit("client"); d.Allowed {
		t.Error("expected Denied with negative limit")
	}
}

func TestZeroWindowAdmitsEachTick(t *testing.T) {
	l := New(1, 0)
	for i := 0; i < 3; i++ {
		if d := l.Admit("client"); !d.Allowed {
			t.Fatalf("call %d: expected Allowed with zero window", i+1)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClientsAreIndependent(t *testing.T) {
	l := New(1, time.Hour)

	if d := l.Admit("a"); !d.Allowed {
		t.Fatal("client a call 1 should be allowed")
	}
	if d := l.Admit("a"); d.Allowed {
		t.Fatal("client a call 2 should be denied")
	}
	if d := l.Admit("b"); !d.Allowed {
		t.Error("client b should be unaffected by client a's block")
	}
}

func TestSweepRemovesExpiredBlocks(t *testing.T) {
	l := New(1, time.Hour)
	l.Block("expired", 10*time.Millisecond)
	l.Block("active", time.Hour)

	time.Sleep(20 * time.Millisecond)
	removed := l.Sweep()
	if removed != 1 {
		t.Errorf("expected 1 client swept, got %d", removed)
	}
	if !l.Status("active").Blocked {
		t.Error("expected active block to survive the sweep")
	}
	if l.Status("expired").Known {
		t.Error("expected expired block to be removed")
	}
}

func TestSweepRemovesIdleClients(t *testing.T) {
	l := New(10, time.Second)
	l.idleExpiry = 10 * time.Millisecond

	l.Admit("idle")
	time.Sleep(25 * time.Millisecond)
	l.Admit("fresh")

	if removed := l.Sweep(); removed != 1 {
		t.Errorf("expected 1 idle client swept, got %d", removed)
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 tracked client, got %d", l.Len())
	}
	if !l.Status("fresh").Known {
		t.Error("expected fresh client to survive the sweep")
	}
}

func TestConcurrentAdmitSameClient(t *testing.T) {
	const calls = 100
	l := New(calls/2, time.Hour)

	var wg sync.WaitGroup
	allowed := make(chan bool, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Admit("shared").Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != calls/2 {
		t.Errorf("expected exactly %d admissions under concurrency, got %d", calls/2, count)
	}
}
