// Package analytics derives dashboard metrics from the event ledger.
//
// # Overview
//
// Compute is a pure function of a ledger snapshot and the current time. It
// never writes to the ledger, so it can run on its own goroutine while
// captures continue.
//
// Derived figures:
//   - Unique visitors (distinct session ids among page views)
//   - Total page views
//   - Average session duration, from raw page-view timestamps
//   - Bounce rate (sessions with exactly one page view)
//   - Top five pages and the device distribution
//   - The five most recent page views and events
//
// # Usage Example
//
//	snap, err := ledger.Snapshot(ctx)
//	if err != nil {
//		return err
//	}
//	m := analytics.Compute(snap, time.Now())
//	fmt.Printf("Visitors: %d, Bounce: %s\n", m.TotalVisitors, m.BounceRate)
//
// # Polling
//
// Poller recomputes once when Run starts and then on every tick:
//
//	p := analytics.NewPoller(ledger, analytics.PollerConfig{}, quartz.NewReal(), logger, metrics)
//	go p.Run(ctx)
//	latest, ok := p.Latest()
//
// # Related Packages
//
//   - pkg/ledger: the record collections read here
//   - pkg/observability: aggregation timing and ledger size gauges
package analytics
