package dedupe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cofers/txguard/internal/domain"
)

func newTestGate(t *testing.T, opts Options) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewGate(NewRedisStore(client), opts, zerolog.Nop()), mr
}

func TestGate_Admit_Idempotent(t *testing.T) {
	gate, _ := newTestGate(t, Options{})
	ctx := context.Background()

	first, err := gate.Admit(ctx, "abc123")
	if err != nil {
		t.Fatalf("first Admit failed: %v", err)
	}
	if first != Admitted {
		t.Fatalf("first Admit = %v, want Admitted", first)
	}

	second, err := gate.Admit(ctx, "abc123")
	if err != nil {
		t.Fatalf("second Admit failed: %v", err)
	}
	if second != AlreadySeen {
		t.Fatalf("second Admit = %v, want AlreadySeen", second)
	}
}

func TestGate_Admit_ConcurrentExclusivity(t *testing.T) {
	gate, _ := newTestGate(t, Options{})
	ctx := context.Background()

	const callers = 8
	decisions := make([]Decision, callers)
	errs := make([]error, callers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			decisions[i], errs[i] = gate.Admit(ctx, "contested")
		}(i)
	}
	start.Done()
	done.Wait()

	admitted := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d errored: %v", i, errs[i])
		}
		if decisions[i] == Admitted {
			admitted++
		}
	}
	if admitted != 1 {
		t.Fatalf("got %d Admitted decisions, want exactly 1 (decisions: %v)", admitted, decisions)
	}
}

func TestGate_Admit_LockContendedDrop(t *testing.T) {
	gate, mr := newTestGate(t, Options{Policy: PolicyDrop})
	ctx := context.Background()

	// Another admitter holds the lock for this checksum.
	mr.Set("lock:checksum:held", "1")

	decision, err := gate.Admit(ctx, "held")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if decision != LockContended {
		t.Fatalf("Admit = %v, want LockContended", decision)
	}
	if registered, _ := mr.IsMember("processed_checksums", "held"); registered {
		t.Fatal("contended checksum must not be registered")
	}
}

func TestGate_Admit_RetryPolicyWinsAfterRelease(t *testing.T) {
	gate, mr := newTestGate(t, Options{
		Policy:        PolicyRetry,
		RetryAttempts: 3,
		RetryBackoff:  5 * time.Millisecond,
	})
	ctx := context.Background()

	mr.Set("lock:checksum:busy", "1")
	go func() {
		time.Sleep(8 * time.Millisecond)
		mr.Del("lock:checksum:busy")
	}()

	decision, err := gate.Admit(ctx, "busy")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if decision != Admitted {
		t.Fatalf("Admit = %v, want Admitted after retry", decision)
	}
}

func TestGate_Admit_RecheckUnderLock(t *testing.T) {
	gate, mr := newTestGate(t, Options{Policy: PolicyRetry, RetryAttempts: 2, RetryBackoff: 5 * time.Millisecond})
	ctx := context.Background()

	// The competing admitter registered the checksum and released its lock
	// while we were waiting: the retry winner must see AlreadySeen, not
	// admit a second time.
	mr.Set("lock:checksum:raced", "1")
	go func() {
		time.Sleep(6 * time.Millisecond)
		mr.SetAdd("processed_checksums", "raced")
		mr.Del("lock:checksum:raced")
	}()

	decision, err := gate.Admit(ctx, "raced")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if decision != AlreadySeen {
		t.Fatalf("Admit = %v, want AlreadySeen", decision)
	}
}

func TestGate_FilterUnique(t *testing.T) {
	gate, mr := newTestGate(t, Options{})
	ctx := context.Background()

	mr.SetAdd("processed_checksums", "b")

	txs := []domain.Transaction{
		{Checksum: "a"},
		{Checksum: "b"},
		{Checksum: "c"},
		{Checksum: "a"}, // duplicate within the batch
	}

	unique, err := gate.FilterUnique(ctx, txs)
	if err != nil {
		t.Fatalf("FilterUnique failed: %v", err)
	}

	want := []string{"a", "c"}
	if len(unique) != len(want) {
		t.Fatalf("got %d unique transactions, want %d", len(unique), len(want))
	}
	for i, sum := range want {
		if unique[i].Checksum != sum {
			t.Errorf("unique[%d].Checksum = %q, want %q (order must be preserved)", i, unique[i].Checksum, sum)
		}
	}
}

func TestGate_LockReleasedAfterAdmit(t *testing.T) {
	gate, mr := newTestGate(t, Options{})
	ctx := context.Background()

	if _, err := gate.Admit(ctx, "xyz"); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if mr.Exists("lock:checksum:xyz") {
		t.Fatal("lock must be released after a successful admit")
	}
}
