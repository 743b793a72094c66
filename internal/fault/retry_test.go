package fault

import "testing"

func drain(r *Retry) int {
	n := 0
	for {
		if _, ok := r.Tick(); !ok {
			return n
		}
		n++
	}
}

func TestRetryBackoff(t *testing.T) {
	var r Retry
	for i := 1; i <= RetryCounterBits; i++ {
		r.Arm(OverCurrent(0))
		want := uint32(1)<<i - 1
		if r.Timeout() != want {
			t.Fatalf("arm %d: timeout %d, want %d", i, r.Timeout(), want)
		}
		if int(r.Count()) != i {
			t.Fatalf("arm %d: count %d", i, r.Count())
		}
		drain(&r)
	}

	r.Arm(OverCurrent(0))
	if r.Timeout() != 1<<RetryCounterBits-1 || r.Count() != RetryCounterBits {
		t.Errorf("saturated: timeout %d count %d", r.Timeout(), r.Count())
	}
}

func TestRetryArmWhileRunning(t *testing.T) {
	var r Retry
	r.Arm(PinFault)
	r.Arm(PinFault)
	if r.Count() != 1 || r.Timeout() != 1 {
		t.Fatalf("second arm while running changed timer: count %d timeout %d", r.Count(), r.Timeout())
	}
	r.Tick()
	r.Arm(PinFault)
	if r.Count() != 2 || r.Timeout() != 3 {
		t.Errorf("arm after expiry: count %d timeout %d", r.Count(), r.Timeout())
	}
}

func TestRetryTickReturnsCode(t *testing.T) {
	var r Retry
	if _, ok := r.Tick(); ok {
		t.Fatal("idle timer should not tick")
	}
	r.Arm(LoadMissing(3))
	c, ok := r.Tick()
	if !ok || c != LoadMissing(3) {
		t.Errorf("tick: got %s, %v", c, ok)
	}
	if r.Code() != LoadMissing(3) {
		t.Errorf("Code: got %s", r.Code())
	}
}
