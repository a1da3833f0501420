package localdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nantokaworks/giveaway-draw/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "draws.db"), "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func insertEntry(t *testing.T, s *Store, windowID, ticket, origin string, at time.Time) {
	t.Helper()

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertEntry(context.Background(), &types.Entry{
			WindowID:     windowID,
			TicketNumber: ticket,
			Origin:       origin,
			Identity:     "user-" + ticket,
			Profile:      types.Profile{Username: "alice", Phone: "555"},
			SubmittedAt:  at,
		})
	})
	if err != nil {
		t.Fatalf("InsertEntry failed: %v", err)
	}
}

func TestEntriesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 11, 28, 0, 1, 2, 0, time.UTC)

	insertEntry(t, s, "0001", "000000000000042", "10.0.0.1", now)
	insertEntry(t, s, "0001", "000000000000007", "10.0.0.1", now.Add(time.Second))
	insertEntry(t, s, "0002", "000000000000042", "10.0.0.2", now)

	entries, err := s.EntriesFor(ctx, "0001")
	if err != nil {
		t.Fatalf("EntriesFor failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("unexpected entries count: got=%d want=2", len(entries))
	}
	if entries[0].TicketNumber != "000000000000042" || entries[1].TicketNumber != "000000000000007" {
		t.Fatalf("entries should be in insertion order: got=%s,%s", entries[0].TicketNumber, entries[1].TicketNumber)
	}
	if entries[0].ID == "" {
		t.Fatalf("entry id should be generated")
	}
	if !entries[0].SubmittedAt.Equal(now) {
		t.Fatalf("unexpected SubmittedAt: got=%s want=%s", entries[0].SubmittedAt, now)
	}
	if entries[0].Profile.Username != "alice" {
		t.Fatalf("unexpected username: got=%q want=alice", entries[0].Profile.Username)
	}

	count, err := s.CountEntries(ctx, "0002")
	if err != nil {
		t.Fatalf("CountEntries failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("unexpected CountEntries: got=%d want=1", count)
	}

	found, err := s.FindEntry(ctx, "0002", "000000000000042")
	if err != nil {
		t.Fatalf("FindEntry failed: %v", err)
	}
	if found.Origin != "10.0.0.2" {
		t.Fatalf("unexpected origin: got=%s want=10.0.0.2", found.Origin)
	}

	if _, err := s.FindEntry(ctx, "0002", "999999999999999"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound: got=%v", err)
	}
}

func TestTxOriginCountAndTicketExists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		insertEntry(t, s, "0005", fmt.Sprintf("%015d", i), "origin-a", now)
	}
	insertEntry(t, s, "0005", "000000000000099", "origin-b", now)

	err := s.WithTx(ctx, func(tx *Tx) error {
		n, err := tx.CountByOrigin(ctx, "0005", "origin-a")
		if err != nil {
			return err
		}
		if n != 3 {
			t.Fatalf("unexpected CountByOrigin: got=%d want=3", n)
		}

		exists, err := tx.TicketExists(ctx, "0005", "000000000000099")
		if err != nil {
			return err
		}
		if !exists {
			t.Fatalf("ticket should exist")
		}

		exists, err = tx.TicketExists(ctx, "0006", "000000000000099")
		if err != nil {
			return err
		}
		if exists {
			t.Fatalf("ticket should not exist in another window")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
}

func TestDuplicateTicketRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	insertEntry(t, s, "0001", "000000000000001", "a", time.Now())

	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertEntry(ctx, &types.Entry{
			WindowID:     "0001",
			TicketNumber: "000000000000001",
			Origin:       "b",
			Identity:     "x",
			SubmittedAt:  time.Now(),
		})
	})
	if err == nil {
		t.Fatalf("expected duplicate ticket to be rejected")
	}
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation: got=%v", err)
	}

	count, err := s.CountEntries(ctx, "0001")
	if err != nil {
		t.Fatalf("CountEntries failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("unexpected count after rollback: got=%d want=1", count)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sentinel := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.EnsureDraw(ctx, "0003", time.Now()); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("unexpected error: got=%v want=%v", err, sentinel)
	}

	if _, err := s.GetDraw(ctx, "0003"); !errors.Is(err, ErrDrawNotFound) {
		t.Fatalf("draw should not exist after rollback: got=%v", err)
	}
}

func TestCommitPickIsCompareAndSwap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pickedAt := time.Date(2025, 11, 28, 0, 8, 5, 0, time.UTC)

	commit := func(ticket string) error {
		return s.WithTx(ctx, func(tx *Tx) error {
			if err := tx.EnsureDraw(ctx, "0001", pickedAt); err != nil {
				return err
			}
			at := pickedAt
			return tx.CommitPick(ctx, types.DrawRecord{
				WindowID:      "0001",
				PickedAt:      &at,
				WinnerTicket:  ticket,
				WinnerDetails: &types.WinnerDetails{Username: "alice", Question: "q", Answer: "a"},
			})
		})
	}

	if err := commit("000000000000001"); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := commit("000000000000002"); !errors.Is(err, ErrAlreadyPicked) {
		t.Fatalf("second commit should fail: got=%v want=%v", err, ErrAlreadyPicked)
	}

	rec, err := s.GetDraw(ctx, "0001")
	if err != nil {
		t.Fatalf("GetDraw failed: %v", err)
	}
	if !rec.IsPicked() {
		t.Fatalf("record should be picked")
	}
	if rec.WinnerTicket != "000000000000001" {
		t.Fatalf("winner must not change: got=%s want=000000000000001", rec.WinnerTicket)
	}
	if rec.WinnerDetails == nil || rec.WinnerDetails.Username != "alice" {
		t.Fatalf("unexpected winner details: got=%+v", rec.WinnerDetails)
	}
	if !rec.PickedAt.Equal(pickedAt) {
		t.Fatalf("unexpected PickedAt: got=%s want=%s", rec.PickedAt, pickedAt)
	}
}

func TestListDrawsOrdersByNumericWindowID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"0009", "0010", "10000", "0002"} {
		err := s.WithTx(ctx, func(tx *Tx) error {
			return tx.EnsureDraw(ctx, id, now)
		})
		if err != nil {
			t.Fatalf("EnsureDraw failed: %v", err)
		}
	}

	records, err := s.ListDraws(ctx, 0, 3)
	if err != nil {
		t.Fatalf("ListDraws failed: %v", err)
	}
	got := []string{}
	for _, r := range records {
		got = append(got, r.WindowID)
	}
	want := []string{"10000", "0010", "0009"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected order: got=%v want=%v", got, want)
	}

	rest, err := s.ListDraws(ctx, 3, 3)
	if err != nil {
		t.Fatalf("ListDraws failed: %v", err)
	}
	if len(rest) != 1 || rest[0].WindowID != "0002" {
		t.Fatalf("unexpected second page: got=%+v", rest)
	}

	total, err := s.CountDraws(ctx)
	if err != nil {
		t.Fatalf("CountDraws failed: %v", err)
	}
	if total != 4 {
		t.Fatalf("unexpected CountDraws: got=%d want=4", total)
	}
}

func TestLastDrawCheck(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.LastDrawCheck(ctx); err != nil || ok {
		t.Fatalf("expected no last check: ok=%v err=%v", ok, err)
	}

	at := time.Date(2025, 11, 28, 0, 8, 10, 0, time.UTC)
	if err := s.SetLastDrawCheck(ctx, at); err != nil {
		t.Fatalf("SetLastDrawCheck failed: %v", err)
	}
	if err := s.SetLastDrawCheck(ctx, at.Add(10*time.Second)); err != nil {
		t.Fatalf("SetLastDrawCheck failed: %v", err)
	}

	got, ok, err := s.LastDrawCheck(ctx)
	if err != nil || !ok {
		t.Fatalf("LastDrawCheck failed: ok=%v err=%v", ok, err)
	}
	if want := at.Add(10 * time.Second); !got.Equal(want) {
		t.Fatalf("unexpected last check: got=%s want=%s", got, want)
	}
}

func TestDataSource(t *testing.T) {
	driver, source, err := dataSource("libsql://example.turso.io", "tok")
	if err != nil {
		t.Fatalf("dataSource failed: %v", err)
	}
	if driver != driverLibSQL || source != "libsql://example.turso.io?authToken=tok" {
		t.Fatalf("unexpected libsql source: driver=%s source=%s", driver, source)
	}

	driver, source, err = dataSource(":memory:", "")
	if err != nil {
		t.Fatalf("dataSource failed: %v", err)
	}
	if driver != driverSQLite || source != ":memory:?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate" {
		t.Fatalf("unexpected sqlite source: driver=%s source=%s", driver, source)
	}

	if _, _, err := dataSource("  ", ""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
