package cases

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hrguard/hrguard/pkg/hr"
	"github.com/hrguard/hrguard/pkg/telemetry"
)

// MismatchKind classifies a disagreement between cache and store.
type MismatchKind string

const (
	MismatchCacheOnly      MismatchKind = "cache_only"
	MismatchStoreOnly      MismatchKind = "store_only"
	MismatchStatusDiverged MismatchKind = "status_diverged"
)

// AuditFailed is the Mismatches value reported when the sweep itself failed.
const AuditFailed = -1

// Mismatch is one disagreeing key.
type Mismatch struct {
	Key         hr.Key       `json:"key"`
	Kind        MismatchKind `json:"kind"`
	CacheStatus hr.Status    `json:"cache_status,omitempty"`
	StoreStatus hr.Status    `json:"store_status,omitempty"`
}

// Report is the result of a consistency sweep.
type Report struct {
	TotalChecked   int        `json:"total_checked"`
	Mismatches     int        `json:"mismatches"`
	MismatchedKeys []hr.Key   `json:"mismatched_keys"`
	Details        []Mismatch `json:"details,omitempty"`
	Error          string     `json:"error,omitempty"`
	CheckedAt      time.Time  `json:"checked_at"`
	Duration       string     `json:"duration"`
}

// Failed reports whether the sweep could not complete.
func (r *Report) Failed() bool {
	return r.Mismatches == AuditFailed
}

// CheckConsistency diffs a cache snapshot against every stored row. It never
// repairs anything. Its own failures are reported as Mismatches == -1 rather
// than returned.
func (s *Store) CheckConsistency(ctx context.Context) (report *Report) {
	start := s.now()
	report = &Report{CheckedAt: start, MismatchedKeys: []hr.Key{}}

	ctx, span := s.tracer.Start(ctx, "cases.check_consistency")
	defer func() {
		if p := recover(); p != nil {
			*report = Report{
				CheckedAt:      start,
				Mismatches:     AuditFailed,
				MismatchedKeys: []hr.Key{},
				Error:          fmt.Sprintf("panic: %v", p),
			}
		}
		report.Duration = s.now().Sub(start).String()

		var err error
		if report.Failed() {
			err = &hr.Error{Class: hr.ErrorClassAudit, Op: "check_consistency", Message: report.Error}
			s.metrics.RecordError(string(hr.ErrorClassAudit))
			s.logger.Error().Str("error", report.Error).Msg("Consistency sweep failed")
		}
		telemetry.EndSpan(span, err)
		s.metrics.RecordConsistency(report.TotalChecked, report.Mismatches)
	}()

	snapshot := s.cache.Snapshot()

	rows, err := s.repo.ListAll(ctx)
	if err != nil {
		report.Mismatches = AuditFailed
		report.Error = err.Error()
		return report
	}

	stored := make(map[hr.Key]hr.Status, len(rows))
	for _, rec := range rows {
		stored[rec.Key()] = rec.Status
	}

	seen := make(map[hr.Key]struct{}, len(rows)+len(snapshot))

	for key, cached := range snapshot {
		seen[key] = struct{}{}
		storeStatus, ok := stored[key]
		switch {
		case !ok:
			report.add(Mismatch{Key: key, Kind: MismatchCacheOnly, CacheStatus: cached.Status})
		case storeStatus != cached.Status:
			report.add(Mismatch{Key: key, Kind: MismatchStatusDiverged, CacheStatus: cached.Status, StoreStatus: storeStatus})
		}
	}

	for key, storeStatus := range stored {
		seen[key] = struct{}{}
		if _, ok := snapshot[key]; !ok {
			report.add(Mismatch{Key: key, Kind: MismatchStoreOnly, StoreStatus: storeStatus})
		}
	}

	report.TotalChecked = len(seen)
	sort.Slice(report.Details, func(i, j int) bool {
		return report.Details[i].Key.String() < report.Details[j].Key.String()
	})
	report.MismatchedKeys = report.MismatchedKeys[:0]
	for _, m := range report.Details {
		report.MismatchedKeys = append(report.MismatchedKeys, m.Key)
	}

	evt := s.logger.Info()
	if report.Mismatches > 0 {
		evt = s.logger.Warn()
	}
	evt.Int("checked", report.TotalChecked).Int("mismatches", report.Mismatches).Msg("Consistency sweep finished")

	return report
}

func (r *Report) add(m Mismatch) {
	r.Mismatches++
	r.Details = append(r.Details, m)
}
