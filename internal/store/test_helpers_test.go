package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestBundle creates a run with n units, two attempts per odd unit
// and one per even unit, and a single fetch.
func createTestBundle(id string, n int) RunBundle {
	b := RunBundle{
		Run: RunRecord{
			ID:         id,
			Archive:    "app-release.apk",
			Dest:       "app/src/main/java/com/example",
			Status:     "partial",
			Total:      n,
			StartedAt:  testEpoch,
			FinishedAt: testEpoch.Add(90 * time.Second),
			Report:     []byte(`{"run_id":"` + id + `"}`),
		},
	}
	for i := 0; i < n; i++ {
		u := UnitRecord{
			Index:         i,
			Name:          fmt.Sprintf("classes%d.dex", i+1),
			Size:          int64(1000 * (i + 1)),
			Digest:        fmt.Sprintf("digest-%d", i),
			HeaderValid:   true,
			HeaderVersion: "035",
		}
		if i%2 == 0 {
			u.Outcome, u.Winner = "success", "jadx"
			b.Run.Succeeded++
			b.Attempts = append(b.Attempts, AttemptRecord{UnitIndex: i, Seq: 0, Strategy: "jadx", Outcome: "success", Evidence: "3 source files, exit 1", Duration: 2 * time.Second})
		} else {
			u.Outcome, u.Reason = "failed", "jadx: no usable output; cfr: no usable output"
			b.Run.Failed++
			b.Attempts = append(b.Attempts,
				AttemptRecord{UnitIndex: i, Seq: 0, Strategy: "jadx", Outcome: "failed", Duration: time.Second},
				AttemptRecord{UnitIndex: i, Seq: 1, Strategy: "cfr", Outcome: "failed", Duration: 1500 * time.Millisecond},
			)
		}
		b.Units = append(b.Units, u)
	}
	b.Fetches = []FetchRecord{{
		Seq:        0,
		Capability: "cfr",
		URL:        "https://www.benf.org/other/cfr/cfr.jar",
		Succeeded:  true,
		StatusCode: 200,
		Duration:   800 * time.Millisecond,
		At:         testEpoch.Add(time.Second),
	}}
	return b
}
