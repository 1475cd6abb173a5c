package recovery

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/srcrecover/internal/store"
)

// Bundle maps a report onto ledger records. The full report is stored as
// JSON alongside the rows.
func (r *Report) Bundle() (store.RunBundle, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return store.RunBundle{}, fmt.Errorf("encode report: %w", err)
	}

	b := store.RunBundle{
		Run: store.RunRecord{
			ID:         r.RunID,
			Archive:    r.Archive,
			Dest:       r.Dest,
			Status:     string(r.Summary.Status),
			Total:      r.Summary.Total,
			Succeeded:  r.Summary.Succeeded,
			Failed:     r.Summary.Failed,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Report:     raw,
		},
	}

	for _, u := range r.Units {
		rec := store.UnitRecord{
			RunID:   r.RunID,
			Index:   u.Index,
			Name:    u.Name,
			Size:    u.Size,
			Digest:  u.Digest,
			Outcome: string(u.Outcome),
			Winner:  u.Strategy,
			Reason:  u.Reason,
		}
		if u.Header != nil {
			rec.HeaderValid = u.HeaderError == ""
			rec.HeaderVersion = u.Header.Version
		}
		b.Units = append(b.Units, rec)

		for seq, a := range u.Attempts {
			b.Attempts = append(b.Attempts, store.AttemptRecord{
				RunID:     r.RunID,
				UnitIndex: u.Index,
				Seq:       seq,
				Strategy:  a.Strategy,
				Outcome:   string(a.Outcome),
				Evidence:  a.Evidence,
				Duration:  a.Duration,
			})
		}
	}

	for seq, f := range r.Fetches {
		b.Fetches = append(b.Fetches, store.FetchRecord{
			RunID:      r.RunID,
			Seq:        seq,
			Capability: f.Capability,
			URL:        f.URL,
			Succeeded:  f.Succeeded,
			StatusCode: f.StatusCode,
			Error:      f.Error,
			Duration:   f.Duration,
			At:         f.At,
		})
	}
	return b, nil
}
