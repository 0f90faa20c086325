package history

import (
	"sort"
	"time"
)

// AnalyticsOptions parameterizes Analyze.
type AnalyticsOptions struct {
	Now                      time.Time
	Lookback                 time.Duration
	Location                 *time.Location
	SuspiciousThreshold      int
	SuspiciousWindow         time.Duration
	BusinessHoursStart       int
	BusinessHoursEnd         int
	AfterHoursShareThreshold float64
	RetentionDays            int
	// EntriesBeyondRetention is the number of ledger entries older than the
	// retention period, counted by the caller.
	EntriesBeyondRetention int64
	OldestEntryAt          *time.Time
}

// Analytics is the trend, pattern and compliance report for one tenant.
type Analytics struct {
	OrganizationID string     `json:"organization_id,omitempty"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	TotalChanges   int        `json:"total_changes"`
	Trends         []DayTrend `json:"trends"`
	Patterns       Patterns   `json:"patterns"`
	Compliance     Compliance `json:"compliance"`
}

// DayTrend counts changes on one calendar day.
type DayTrend struct {
	Date     string         `json:"date"`
	Total    int            `json:"total"`
	ByAction map[Action]int `json:"by_action"`
}

// RankedCount is one row of a top-N table.
type RankedCount struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Count int    `json:"count"`
}

// Patterns describes how changes are distributed.
type Patterns struct {
	ByAction  map[Action]int `json:"by_action"`
	BySource  map[Source]int `json:"by_source"`
	ByHour    [24]int        `json:"by_hour"`
	PeakHour  int            `json:"peak_hour"`
	TopRoles  []RankedCount  `json:"top_roles"`
	TopAdmins []RankedCount  `json:"top_admins"`
	TopUsers  []RankedCount  `json:"top_users"`
	BulkShare float64        `json:"bulk_share"`
}

// Compliance holds advisory audit signals.
type Compliance struct {
	// AuditTrailCoverage is the percentage of entries carrying both caller IP
	// and user agent.
	AuditTrailCoverage float64   `json:"audit_trail_coverage"`
	Retention          Retention `json:"retention"`
	AfterHoursShare    float64   `json:"after_hours_share"`
	Findings           []Finding `json:"findings,omitempty"`
}

// Retention reports the ledger against the configured retention period.
type Retention struct {
	Days                   int        `json:"days"`
	OldestEntryAt          *time.Time `json:"oldest_entry_at,omitempty"`
	EntriesBeyondRetention int64      `json:"entries_beyond_retention"`
	Compliant              bool       `json:"compliant"`
}

// FindingKind classifies a suspicious pattern.
type FindingKind string

const (
	FindingBurst      FindingKind = "burst"
	FindingAfterHours FindingKind = "after_hours"
)

// Finding is one suspicious-pattern signal. Findings are advisory.
type Finding struct {
	Kind        FindingKind `json:"kind"`
	AdminID     string      `json:"admin_id,omitempty"`
	Count       int         `json:"count"`
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
	Detail      string      `json:"detail"`
}

const topN = 5

// Analyze computes analytics over entries that already fall inside the
// lookback window.
func Analyze(entries []*Entry, opts AnalyticsOptions) *Analytics {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	a := &Analytics{
		Start:        opts.Now.Add(-opts.Lookback),
		End:          opts.Now,
		TotalChanges: len(entries),
		Patterns: Patterns{
			ByAction: make(map[Action]int),
			BySource: make(map[Source]int),
		},
	}

	days := make(map[string]*DayTrend)
	roles := make(map[string]*RankedCount)
	admins := make(map[string]*RankedCount)
	users := make(map[string]*RankedCount)
	var withTrail, afterHours, bulk int

	for _, e := range entries {
		at := e.CreatedAt.In(loc)

		date := at.Format(time.DateOnly)
		d, ok := days[date]
		if !ok {
			d = &DayTrend{Date: date, ByAction: make(map[Action]int)}
			days[date] = d
		}
		d.Total++
		d.ByAction[e.Action]++

		a.Patterns.ByAction[e.Action]++
		a.Patterns.BySource[e.Context.Source]++
		a.Patterns.ByHour[at.Hour()]++
		if e.Context.BatchID != "" {
			bulk++
		}
		if !e.RoleID.IsNil() {
			bump(roles, e.RoleID.String(), e.Role.Name)
		}
		if e.AdminID != "" {
			bump(admins, e.AdminID, e.Admin.Name)
		}
		if e.UserID != "" {
			bump(users, e.UserID, e.User.Name)
		}
		if e.HasAuditTrail() {
			withTrail++
		}
		if !withinHours(at, opts.BusinessHoursStart, opts.BusinessHoursEnd) {
			afterHours++
		}
	}

	for _, d := range days {
		a.Trends = append(a.Trends, *d)
	}
	sort.Slice(a.Trends, func(i, j int) bool { return a.Trends[i].Date < a.Trends[j].Date })

	for h, n := range a.Patterns.ByHour {
		if n > a.Patterns.ByHour[a.Patterns.PeakHour] {
			a.Patterns.PeakHour = h
		}
	}
	a.Patterns.TopRoles = top(roles)
	a.Patterns.TopAdmins = top(admins)
	a.Patterns.TopUsers = top(users)

	a.Compliance.Retention = Retention{
		Days:                   opts.RetentionDays,
		OldestEntryAt:          opts.OldestEntryAt,
		EntriesBeyondRetention: opts.EntriesBeyondRetention,
		Compliant:              opts.EntriesBeyondRetention == 0,
	}
	if len(entries) == 0 {
		a.Compliance.AuditTrailCoverage = 100
		return a
	}

	total := float64(len(entries))
	a.Patterns.BulkShare = float64(bulk) / total
	a.Compliance.AuditTrailCoverage = float64(withTrail) / total * 100
	a.Compliance.AfterHoursShare = float64(afterHours) / total

	a.Compliance.Findings = detectBursts(entries, opts.SuspiciousThreshold, opts.SuspiciousWindow)
	if opts.AfterHoursShareThreshold > 0 && a.Compliance.AfterHoursShare > opts.AfterHoursShareThreshold {
		a.Compliance.Findings = append(a.Compliance.Findings, Finding{
			Kind:        FindingAfterHours,
			Count:       afterHours,
			WindowStart: a.Start,
			WindowEnd:   a.End,
			Detail:      "share of changes outside business hours exceeds threshold",
		})
	}
	return a
}

func bump(m map[string]*RankedCount, key, label string) {
	rc, ok := m[key]
	if !ok {
		rc = &RankedCount{ID: key, Label: label}
		m[key] = rc
	}
	rc.Count++
}

func top(m map[string]*RankedCount) []RankedCount {
	out := make([]RankedCount, 0, len(m))
	for _, rc := range m {
		out = append(out, *rc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// withinHours reports whether t falls in [start, end). A start after end
// describes a window that wraps midnight.
func withinHours(t time.Time, start, end int) bool {
	if start == end {
		return true
	}
	h := t.Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// detectBursts flags each administrator whose changes inside any rolling
// window exceed threshold. One finding is reported per administrator, for
// the densest window.
func detectBursts(entries []*Entry, threshold int, window time.Duration) []Finding {
	if threshold <= 0 || window <= 0 {
		return nil
	}
	byAdmin := make(map[string][]time.Time)
	for _, e := range entries {
		if e.AdminID == "" {
			continue
		}
		byAdmin[e.AdminID] = append(byAdmin[e.AdminID], e.CreatedAt)
	}

	var findings []Finding
	for admin, times := range byAdmin {
		if len(times) <= threshold {
			continue
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		best, bestStart := 0, 0
		lo := 0
		for hi := range times {
			for times[hi].Sub(times[lo]) >= window {
				lo++
			}
			if n := hi - lo + 1; n > best {
				best, bestStart = n, lo
			}
		}
		if best > threshold {
			findings = append(findings, Finding{
				Kind:        FindingBurst,
				AdminID:     admin,
				Count:       best,
				WindowStart: times[bestStart],
				WindowEnd:   times[bestStart].Add(window),
				Detail:      "changes by one administrator within a rolling window exceed threshold",
			})
		}
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].AdminID < findings[j].AdminID })
	return findings
}
