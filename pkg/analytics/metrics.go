package analytics

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/glimpse/pkg/ledger"
)

const (
	topPagesLimit       = 5
	recentActivityLimit = 5
)

// Metrics is the derived dashboard view of the ledger.
type Metrics struct {
	TotalVisitors     int          `json:"totalVisitors"`
	PageViews         int          `json:"pageViews"`
	AvgSessionSeconds int64        `json:"avgSessionSeconds"`
	AvgSession        string       `json:"avgSession"`
	BounceRatePercent int          `json:"bounceRatePercent"`
	BounceRate        string       `json:"bounceRate"`
	TopPages          []PageStat   `json:"topPages"`
	DeviceStats       []DeviceStat `json:"deviceStats"`
	RecentEvents      []Activity   `json:"recentEvents"`
	ComputedAt        time.Time    `json:"computedAt"`
}

// PageStat is one row of the top pages table.
type PageStat struct {
	Path       string `json:"path"`
	Views      int    `json:"views"`
	Percentage int    `json:"percentage"`
}

// DeviceStat is one row of the device distribution.
type DeviceStat struct {
	Device     string `json:"device"`
	Percentage int    `json:"percentage"`
}

// Activity is one entry of the recent activity feed.
type Activity struct {
	Time      string    `json:"time"`
	Event     string    `json:"event"`
	Page      string    `json:"page"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

type sessionSpan struct {
	start, end time.Time
	pages      int
}

// Compute derives Metrics from snap as of now. Every ratio treats an empty
// denominator as 0.
func Compute(snap ledger.Snapshot, now time.Time) Metrics {
	total := len(snap.PageViews)

	spans := make(map[string]*sessionSpan)
	for _, pv := range snap.PageViews {
		s, ok := spans[pv.SessionID]
		if !ok {
			spans[pv.SessionID] = &sessionSpan{start: pv.Timestamp, end: pv.Timestamp, pages: 1}
			continue
		}
		if pv.Timestamp.Before(s.start) {
			s.start = pv.Timestamp
		}
		if pv.Timestamp.After(s.end) {
			s.end = pv.Timestamp
		}
		s.pages++
	}
	visitors := len(spans)

	var sum time.Duration
	bounced := 0
	for _, s := range spans {
		sum += s.end.Sub(s.start)
		if s.pages == 1 {
			bounced++
		}
	}
	avg := sum / time.Duration(max(visitors, 1))
	avgSeconds := int64(avg / time.Second)

	bounceRate := 0
	if visitors > 0 {
		bounceRate = roundHalfUp(float64(bounced) / float64(visitors) * 100)
	}

	return Metrics{
		TotalVisitors:     visitors,
		PageViews:         total,
		AvgSessionSeconds: avgSeconds,
		AvgSession:        FormatDuration(avgSeconds),
		BounceRatePercent: bounceRate,
		BounceRate:        formatPercent(bounceRate),
		TopPages:          topPages(snap.PageViews),
		DeviceStats:       deviceStats(snap.PageViews),
		RecentEvents:      recentActivity(snap, now),
		ComputedAt:        now,
	}
}

func topPages(pvs []ledger.PageView) []PageStat {
	counts := make(map[string]int)
	var order []string
	for _, pv := range pvs {
		if _, seen := counts[pv.Path]; !seen {
			order = append(order, pv.Path)
		}
		counts[pv.Path]++
	}

	stats := make([]PageStat, 0, len(order))
	for _, path := range order {
		stats = append(stats, PageStat{
			Path:       path,
			Views:      counts[path],
			Percentage: percentOf(counts[path], len(pvs)),
		})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Views > stats[j].Views })
	if len(stats) > topPagesLimit {
		stats = stats[:topPagesLimit]
	}
	return stats
}

func deviceStats(pvs []ledger.PageView) []DeviceStat {
	counts := make(map[string]int)
	var order []string
	for _, pv := range pvs {
		d := pv.DeviceType
		if d == "" {
			d = "unknown"
		}
		if _, seen := counts[d]; !seen {
			order = append(order, d)
		}
		counts[d]++
	}

	stats := make([]DeviceStat, 0, len(order))
	for _, d := range order {
		stats = append(stats, DeviceStat{
			Device:     capitalize(d),
			Percentage: percentOf(counts[d], len(pvs)),
		})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Percentage > stats[j].Percentage })
	return stats
}

// recentActivity merges page views ahead of events so that equal
// timestamps keep page views first.
func recentActivity(snap ledger.Snapshot, now time.Time) []Activity {
	items := make([]Activity, 0, len(snap.PageViews)+len(snap.Events))
	for _, pv := range snap.PageViews {
		items = append(items, Activity{
			Event:     "Page view",
			Page:      orRoot(pv.Path),
			Location:  orUnknown(pv.Country),
			Timestamp: pv.Timestamp,
		})
	}
	for _, ev := range snap.Events {
		label := ev.Name
		if label == "" {
			label = "Page view"
		}
		items = append(items, Activity{
			Event:     label,
			Page:      orRoot(ev.Path),
			Location:  "Unknown",
			Timestamp: ev.Timestamp,
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp.After(items[j].Timestamp) })
	if len(items) > recentActivityLimit {
		items = items[:recentActivityLimit]
	}
	for i := range items {
		items[i].Time = FormatTimeAgo(now.Sub(items[i].Timestamp))
	}
	return items
}

func percentOf(n, total int) int {
	if total == 0 {
		return 0
	}
	return roundHalfUp(float64(n) / float64(total) * 100)
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
