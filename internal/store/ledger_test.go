package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWriteRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.WriteRun(ctx, createTestBundle("run-a", 3))
	if err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.ID != "run-a" || got.Status != "partial" || got.Succeeded != 2 || got.Failed != 1 {
		t.Errorf("unexpected run: %+v", got)
	}
	if !got.StartedAt.Equal(testEpoch) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, testEpoch)
	}
	if got.Report != nil {
		t.Error("ListRuns should not load reports")
	}

	units, err := s.RunUnits(ctx, "run-a")
	if err != nil {
		t.Fatalf("RunUnits() failed: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("len(units) = %d, want 3", len(units))
	}
	for i, u := range units {
		if u.Index != i {
			t.Errorf("units[%d].Index = %d", i, u.Index)
		}
		if u.RunID != "run-a" {
			t.Errorf("units[%d].RunID = %q", i, u.RunID)
		}
		if !u.HeaderValid || u.HeaderVersion != "035" {
			t.Errorf("units[%d] header = %v/%q", i, u.HeaderValid, u.HeaderVersion)
		}
	}
	if units[1].Outcome != "failed" || units[1].Winner != "" {
		t.Errorf("units[1] = %+v", units[1])
	}

	attempts, err := s.RunAttempts(ctx, "run-a")
	if err != nil {
		t.Fatalf("RunAttempts() failed: %v", err)
	}
	wantOrder := []struct {
		unit     int
		strategy string
	}{{0, "jadx"}, {1, "jadx"}, {1, "cfr"}, {2, "jadx"}}
	if len(attempts) != len(wantOrder) {
		t.Fatalf("len(attempts) = %d, want %d", len(attempts), len(wantOrder))
	}
	for i, w := range wantOrder {
		if attempts[i].UnitIndex != w.unit || attempts[i].Strategy != w.strategy {
			t.Errorf("attempts[%d] = %d/%s, want %d/%s", i, attempts[i].UnitIndex, attempts[i].Strategy, w.unit, w.strategy)
		}
	}
	if attempts[2].Duration != 1500*time.Millisecond {
		t.Errorf("attempts[2].Duration = %v", attempts[2].Duration)
	}

	fetches, err := s.RunFetches(ctx, "run-a")
	if err != nil {
		t.Fatalf("RunFetches() failed: %v", err)
	}
	if len(fetches) != 1 || !fetches[0].Succeeded || fetches[0].StatusCode != 200 {
		t.Errorf("unexpected fetches: %+v", fetches)
	}
}

func TestWriteRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.WriteRun(ctx, createTestBundle("run-a", 2))
	if err != nil {
		t.Fatalf("first WriteRun() failed: %v", err)
	}
	second, err := s.WriteRun(ctx, createTestBundle("run-a", 5))
	if err != nil {
		t.Fatalf("second WriteRun() failed: %v", err)
	}
	if first != second {
		t.Errorf("seq changed on rewrite: %d then %d", first, second)
	}

	units, err := s.RunUnits(ctx, "run-a")
	if err != nil {
		t.Fatalf("RunUnits() failed: %v", err)
	}
	if len(units) != 2 {
		t.Errorf("rewrite replaced units: got %d, want 2", len(units))
	}
}

func TestWriteRun_FailedChildRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := createTestBundle("run-bad", 1)
	// Attempt for a unit that does not exist violates the foreign key.
	b.Attempts = append(b.Attempts, AttemptRecord{UnitIndex: 9, Strategy: "cfr", Outcome: "failed"})

	if _, err := s.WriteRun(ctx, b); err == nil {
		t.Fatal("expected WriteRun() to fail")
	}
	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("partial run persisted: %+v", runs)
	}
}

func TestListRuns_MostRecentFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if _, err := s.WriteRun(ctx, createTestBundle(id, 1)); err != nil {
			t.Fatalf("WriteRun(%s) failed: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("order = %s, %s; want run-c, run-b", runs[0].ID, runs[1].ID)
	}
	if runs[0].Seq != 3 {
		t.Errorf("runs[0].Seq = %d, want 3", runs[0].Seq)
	}
}

func TestListRuns_EmptyLedger(t *testing.T) {
	s := createTestStore(t)

	runs, err := s.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", runs)
	}
}

func TestRunReport(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteRun(ctx, createTestBundle("run-a", 1)); err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
	report, err := s.RunReport(ctx, "run-a")
	if err != nil {
		t.Fatalf("RunReport() failed: %v", err)
	}
	if string(report) != `{"run_id":"run-a"}` {
		t.Errorf("report = %s", report)
	}

	_, err = s.RunReport(ctx, "nope")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestUnitHistory_AcrossRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"run-a", "run-b"} {
		if _, err := s.WriteRun(ctx, createTestBundle(id, 2)); err != nil {
			t.Fatalf("WriteRun(%s) failed: %v", id, err)
		}
	}

	history, err := s.UnitHistory(ctx, "digest-1")
	if err != nil {
		t.Fatalf("UnitHistory() failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].RunID != "run-a" || history[1].RunID != "run-b" {
		t.Errorf("history order = %s, %s", history[0].RunID, history[1].RunID)
	}
}
