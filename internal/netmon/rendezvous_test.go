//go:build darwin || freebsd

package netmon

import (
	"sync"
	"testing"
	"time"

	"github.com/wesleywu/pfnetmon/internal/hostaddr"
)

func TestRendezvousDeliverWakesMatchingWaiter(t *testing.T) {
	r := newRendezvous()
	r.waitingSeq = 42

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.deliver(&rtMsghdr{seq: 42, errno: 0}, []byte("tail"))
	}()

	r.mu.Lock()
	deadline := time.Now().Add(time.Second)
	for !r.haveReply {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.mu.Unlock()
			t.Fatal("timed out waiting for deliver to post a reply")
		}
		waitWithTimeout(r.cond, remaining)
	}
	tail := string(r.replyTail)
	r.mu.Unlock()

	if tail != "tail" {
		t.Errorf("replyTail = %q, want %q", tail, "tail")
	}
}

func TestRendezvousDeliverIgnoresMismatchedSeq(t *testing.T) {
	r := newRendezvous()
	r.waitingSeq = 1

	r.deliver(&rtMsghdr{seq: 2}, nil)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.haveReply {
		t.Error("expected deliver to ignore a reply for a different sequence number")
	}
}

func TestWaitPredicateWakesOnBroadcast(t *testing.T) {
	r := newRendezvous()
	var ready bool
	var mu sync.Mutex

	go func() {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		ready = true
		mu.Unlock()
		r.wake()
	}()

	ok := r.waitPredicate(time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ready
	})
	if !ok {
		t.Fatal("waitPredicate returned false before its timeout elapsed")
	}
}

func TestWaitPredicateTimesOut(t *testing.T) {
	r := newRendezvous()
	ok := r.waitPredicate(20*time.Millisecond, func() bool { return false })
	if ok {
		t.Error("expected waitPredicate to time out when the predicate never becomes true")
	}
}

func TestSplitDefaultRoute(t *testing.T) {
	lower, upper := splitDefaultRoute(hostaddr.IPv4)
	if lower.prefix != 1 || upper.prefix != 1 {
		t.Errorf("expected both halves at /1, got %d and %d", lower.prefix, upper.prefix)
	}
	if !lower.addr.Equal(hostaddr.Zero(hostaddr.IPv4)) {
		t.Errorf("lower half = %v, want 0.0.0.0", lower.addr)
	}
	if !upper.addr.Equal(hostaddr.UpperHalf(hostaddr.IPv4)) {
		t.Errorf("upper half = %v, want 128.0.0.0", upper.addr)
	}
}

func TestNextSeqIsMonotonicAndUnique(t *testing.T) {
	r := newRendezvous()
	seen := map[int32]bool{}
	for i := 0; i < 100; i++ {
		seq := r.nextSeq()
		if seen[seq] {
			t.Fatalf("nextSeq produced a duplicate: %d", seq)
		}
		seen[seq] = true
	}
}
