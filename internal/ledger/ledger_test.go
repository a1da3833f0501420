package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nantokaworks/giveaway-draw/internal/clock"
	"github.com/nantokaworks/giveaway-draw/internal/localdb"
	"github.com/nantokaworks/giveaway-draw/internal/types"
	"github.com/nantokaworks/giveaway-draw/internal/window"
)

var testEpoch = time.Date(2025, 11, 28, 0, 0, 0, 0, time.UTC)

func setupLedger(t *testing.T, at time.Time, opts ...Option) (*Ledger, *localdb.Store, *clock.FakeClock) {
	t.Helper()

	store, err := localdb.Open(filepath.Join(t.TempDir(), "draws.db"), "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	clk := clock.Fake(at)
	l := New(store, window.NewResolver(testEpoch, window.DefaultLength), clk, opts...)
	return l, store, clk
}

func submission(origin string) Submission {
	return Submission{
		Origin:   origin,
		Identity: "12345",
		Profile:  types.Profile{Username: "alice", Phone: "555-0100", SecretQuestion: "pet", SecretAnswer: "cat"},
	}
}

func TestSubmit_Accepted(t *testing.T) {
	at := testEpoch.Add(2 * time.Minute)
	l, _, _ := setupLedger(t, at)
	ctx := context.Background()

	receipt, err := l.Submit(ctx, submission("10.0.0.1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if receipt.WindowID != "0001" {
		t.Fatalf("unexpected window: got=%s want=0001", receipt.WindowID)
	}
	if len(receipt.TicketNumber) != 15 {
		t.Fatalf("unexpected ticket length: got=%d want=15", len(receipt.TicketNumber))
	}
	if !receipt.SubmittedAt.Equal(at) {
		t.Fatalf("unexpected SubmittedAt: got=%s want=%s", receipt.SubmittedAt, at)
	}

	entries, err := l.EntriesFor(ctx, "0001")
	if err != nil {
		t.Fatalf("EntriesFor failed: %v", err)
	}
	if len(entries) != 1 || entries[0].TicketNumber != receipt.TicketNumber {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Profile.SecretAnswer != "cat" || entries[0].Identity != "12345" {
		t.Fatalf("profile not stored: %+v", entries[0])
	}
}

func TestSubmit_RejectsOutsideEntryState(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
	}{
		{name: "before epoch", at: testEpoch.Add(-time.Millisecond)},
		{name: "closed", at: testEpoch.Add(7 * time.Minute)},
		{name: "announcing", at: testEpoch.Add(8*time.Minute + 45*time.Second)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, store, _ := setupLedger(t, tc.at)

			if _, err := l.Submit(context.Background(), submission("10.0.0.1")); !errors.Is(err, ErrWindowClosed) {
				t.Fatalf("unexpected error: got=%v want=%v", err, ErrWindowClosed)
			}

			count, err := store.CountEntries(context.Background(), "0001")
			if err != nil {
				t.Fatalf("CountEntries failed: %v", err)
			}
			if count != 0 {
				t.Fatalf("no entry should be stored: got=%d", count)
			}
		})
	}
}

func TestSubmit_QuotaPerOrigin(t *testing.T) {
	l, _, clk := setupLedger(t, testEpoch.Add(time.Minute))
	ctx := context.Background()

	for i := 0; i < MaxPerOrigin; i++ {
		if _, err := l.Submit(ctx, submission("10.0.0.1")); err != nil {
			t.Fatalf("Submit #%d failed: %v", i+1, err)
		}
	}

	if _, err := l.Submit(ctx, submission("10.0.0.1")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrQuotaExceeded)
	}

	// 別オリジンは影響を受けない
	if _, err := l.Submit(ctx, submission("10.0.0.2")); err != nil {
		t.Fatalf("Submit from other origin failed: %v", err)
	}

	// 次のウィンドウではリセットされる
	clk.Advance(window.DefaultLength)
	receipt, err := l.Submit(ctx, submission("10.0.0.1"))
	if err != nil {
		t.Fatalf("Submit in next window failed: %v", err)
	}
	if receipt.WindowID != "0002" {
		t.Fatalf("unexpected window: got=%s want=0002", receipt.WindowID)
	}
}

func TestSubmit_ConcurrentSameOrigin(t *testing.T) {
	l, _, _ := setupLedger(t, testEpoch.Add(3*time.Minute))
	ctx := context.Background()

	const n = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
		others   []error
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Submit(ctx, submission("203.0.113.7"))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrQuotaExceeded):
				rejected++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if accepted != MaxPerOrigin {
		t.Fatalf("unexpected accepted count: got=%d want=%d", accepted, MaxPerOrigin)
	}
	if rejected != n-MaxPerOrigin {
		t.Fatalf("unexpected rejected count: got=%d want=%d", rejected, n-MaxPerOrigin)
	}

	count, err := l.CountFor(ctx, "0001")
	if err != nil {
		t.Fatalf("CountFor failed: %v", err)
	}
	if count != MaxPerOrigin {
		t.Fatalf("unexpected stored count: got=%d want=%d", count, MaxPerOrigin)
	}
}

func TestSubmit_RetriesTicketCollision(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	seq := []string{"000000000000001", "000000000000001", "000000000000001", "000000000000002"}
	source := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		ticket := seq[calls%len(seq)]
		calls++
		return ticket, nil
	}

	l, _, _ := setupLedger(t, testEpoch.Add(time.Minute), WithTicketSource(source))
	ctx := context.Background()

	first, err := l.Submit(ctx, submission("a"))
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	second, err := l.Submit(ctx, submission("b"))
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}

	if first.TicketNumber == second.TicketNumber {
		t.Fatalf("ticket numbers must be unique within a window: %s", first.TicketNumber)
	}
	if second.TicketNumber != "000000000000002" {
		t.Fatalf("unexpected second ticket: got=%s want=000000000000002", second.TicketNumber)
	}
}

func TestSubmit_TicketSpaceExhausted(t *testing.T) {
	source := func() (string, error) {
		return "000000000000777", nil
	}
	l, _, _ := setupLedger(t, testEpoch.Add(time.Minute), WithTicketSource(source), WithMaxAttempts(5))
	ctx := context.Background()

	if _, err := l.Submit(ctx, submission("a")); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if _, err := l.Submit(ctx, submission("b")); !errors.Is(err, ErrTicketSpaceExhausted) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrTicketSpaceExhausted)
	}

	count, err := l.CountFor(ctx, "0001")
	if err != nil {
		t.Fatalf("CountFor failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("unexpected count: got=%d want=1", count)
	}
}

func TestSubmit_TicketSourceError(t *testing.T) {
	boom := errors.New("entropy unavailable")
	l, _, _ := setupLedger(t, testEpoch.Add(time.Minute), WithTicketSource(func() (string, error) {
		return "", boom
	}))

	if _, err := l.Submit(context.Background(), submission("a")); !errors.Is(err, boom) {
		t.Fatalf("unexpected error: got=%v want=%v", err, boom)
	}
}

func TestSubmit_UniqueAcrossManyEntries(t *testing.T) {
	l, _, _ := setupLedger(t, testEpoch.Add(time.Minute))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if _, err := l.Submit(ctx, submission(fmt.Sprintf("origin-%d", i%5))); err != nil {
			t.Fatalf("Submit #%d failed: %v", i+1, err)
		}
	}

	entries, err := l.EntriesFor(ctx, "0001")
	if err != nil {
		t.Fatalf("EntriesFor failed: %v", err)
	}
	seen := map[string]bool{}
	perOrigin := map[string]int{}
	for _, e := range entries {
		if seen[e.TicketNumber] {
			t.Fatalf("duplicate ticket: %s", e.TicketNumber)
		}
		seen[e.TicketNumber] = true
		perOrigin[e.Origin]++
	}
	for origin, n := range perOrigin {
		if n > MaxPerOrigin {
			t.Fatalf("origin %s exceeded quota: got=%d", origin, n)
		}
	}
	if len(entries) != 50 {
		t.Fatalf("unexpected entries count: got=%d want=50", len(entries))
	}
}
