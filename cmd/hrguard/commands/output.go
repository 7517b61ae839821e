package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/hrguard/hrguard/pkg/cases"
	"github.com/hrguard/hrguard/pkg/hr"
	"github.com/hrguard/hrguard/pkg/policy"
	"github.com/hrguard/hrguard/pkg/stores"
)

var (
	denyColor    = color.New(color.FgRed, color.Bold)
	confirmColor = color.New(color.FgYellow, color.Bold)
	allowColor   = color.New(color.FgGreen)
	faintColor   = color.New(color.FgHiBlack)
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func optTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func statusLabel(s hr.Status) string {
	switch s {
	case hr.StatusActive:
		return confirmColor.Sprint(s)
	case hr.StatusViolated:
		return denyColor.Sprint(s)
	case hr.StatusSafe:
		return allowColor.Sprint(s)
	}
	return faintColor.Sprint(s)
}

func verdictLabel(v policy.Verdict) string {
	switch v {
	case policy.VerdictDeny:
		return denyColor.Sprint(v)
	case policy.VerdictRequireConfirm:
		return confirmColor.Sprint(v)
	}
	return allowColor.Sprint(v)
}

func printCases(w io.Writer, records []*hr.CaseRecord, now time.Time) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Site", "Torrent", "Status", "Life", "Ratio", "Seeded h", "Remaining h", "Deadline"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	data := make([][]string, 0, len(records))
	for _, r := range records {
		data = append(data, []string{
			r.SiteKey,
			r.TorrentID,
			statusLabel(r.Status),
			string(r.LifeStatus),
			optFloat(r.CurrentRatio),
			optFloat(r.SeededHours),
			optFloat(r.HoursRemaining(now)),
			optTime(r.Deadline),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func printCase(w io.Writer, r *hr.CaseRecord, now time.Time) {
	fmt.Fprintf(w, "Case %s (id %d, site id %d)\n", r.Key(), r.ID, r.SiteID)
	fmt.Fprintf(w, "  status:        %s / %s\n", statusLabel(r.Status), r.LifeStatus)
	fmt.Fprintf(w, "  requirement:   ratio %s, %s hours\n", optFloat(r.RequirementRatio), optFloat(r.RequirementHours))
	fmt.Fprintf(w, "  progress:      seeded %s h, ratio %s, %s%%\n", optFloat(r.SeededHours), optFloat(r.CurrentRatio), optFloat(r.ProgressPercentage()))
	fmt.Fprintf(w, "  deadline:      %s (%s h remaining)\n", optTime(r.Deadline), optFloat(r.HoursRemaining(now)))
	fmt.Fprintf(w, "  entered:       %s\n", optTime(r.EnteredAt))
	fmt.Fprintf(w, "  seen:          %s .. %s\n", optTime(r.FirstSeenAt), optTime(r.LastSeenAt))
	if r.PenalizedAt != nil {
		fmt.Fprintf(w, "  penalized:     %s\n", optTime(r.PenalizedAt))
	}
	if r.DeletedAt != nil {
		fmt.Fprintf(w, "  deleted:       %s\n", optTime(r.DeletedAt))
	}
	if r.ResolvedAt != nil {
		fmt.Fprintf(w, "  resolved:      %s\n", optTime(r.ResolvedAt))
	}
	if r.Notes != "" {
		fmt.Fprintf(w, "  notes:\n%s\n", r.Notes)
	}
}

func printDecisions(w io.Writer, contexts []*policy.Context, decisions []*policy.Decision) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Action", "Site", "Torrent", "Decision", "Reason", "Message", "Alternative"})

	data := make([][]string, 0, len(decisions))
	for i, d := range decisions {
		var action, site, torrent string
		if c := contexts[i]; c != nil {
			action, site, torrent = string(c.Action), c.SiteKey, c.TorrentID
		}
		data = append(data, []string{
			action, site, torrent,
			verdictLabel(d.Verdict),
			string(d.ReasonCode),
			d.Message,
			d.SuggestedAlternative,
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func printReport(w io.Writer, r *cases.Report) error {
	if r.Failed() {
		fmt.Fprintf(w, "%s consistency sweep failed: %s\n", denyColor.Sprint("FAILED"), r.Error)
		return nil
	}
	label := allowColor.Sprint("OK")
	if r.Mismatches > 0 {
		label = denyColor.Sprint("MISMATCH")
	}
	fmt.Fprintf(w, "%s checked %d keys, %d mismatches (%s)\n", label, r.TotalChecked, r.Mismatches, r.Duration)
	if len(r.Details) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Key", "Kind", "Cache", "Store"})
	data := make([][]string, 0, len(r.Details))
	for _, m := range r.Details {
		data = append(data, []string{m.Key.String(), string(m.Kind), string(m.CacheStatus), string(m.StoreStatus)})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func printAuditEntries(w io.Writer, entries []*stores.AuditEntry) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Time", "Decision ID", "Action", "Site", "Torrent", "Initiator", "Decision", "Reason", "Confidence"})

	data := make([][]string, 0, len(entries))
	for _, e := range entries {
		data = append(data, []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.DecisionID,
			e.Action,
			e.SiteKey,
			e.TorrentID,
			e.Initiator,
			verdictLabel(policy.Verdict(e.Verdict)),
			e.ReasonCode,
			strconv.FormatFloat(e.Confidence, 'f', 2, 64),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}
