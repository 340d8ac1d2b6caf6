package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/platinummonkey/glimpse/pkg/analytics"
)

func newReportCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "report",
		Description: "Print the derived dashboard metrics",
		Flags:       flag.NewFlagSet("report", flag.ContinueOnError),
		Out:         out,
	}

	agent := addAgentFlags(cmd.Flags)
	refresh := cmd.Flags.Bool("refresh", false, "Recompute before printing")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), *agent.timeout)
		defer cancel()

		m, err := agent.client().Metrics(ctx, *refresh)
		if err != nil {
			return fmt.Errorf("failed to fetch metrics: %w", err)
		}
		return printReport(cmd.Out, m)
	}

	return cmd
}

func printReport(out io.Writer, m analytics.Metrics) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Visitors\t%d\n", m.TotalVisitors)
	fmt.Fprintf(tw, "Page views\t%d\n", m.PageViews)
	fmt.Fprintf(tw, "Avg. session\t%s\n", m.AvgSession)
	fmt.Fprintf(tw, "Bounce rate\t%s\n", m.BounceRate)

	fmt.Fprintf(tw, "\nTop pages\n")
	if len(m.TopPages) == 0 {
		fmt.Fprintf(tw, "  (none)\n")
	}
	for _, p := range m.TopPages {
		fmt.Fprintf(tw, "  %s\t%d\t%d%%\n", p.Path, p.Views, p.Percentage)
	}

	fmt.Fprintf(tw, "\nDevices\n")
	if len(m.DeviceStats) == 0 {
		fmt.Fprintf(tw, "  (none)\n")
	}
	for _, d := range m.DeviceStats {
		fmt.Fprintf(tw, "  %s\t%d%%\n", d.Device, d.Percentage)
	}

	fmt.Fprintf(tw, "\nRecent activity\n")
	if len(m.RecentEvents) == 0 {
		fmt.Fprintf(tw, "  (none)\n")
	}
	for _, a := range m.RecentEvents {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", a.Time, a.Event, a.Page, a.Location)
	}

	return tw.Flush()
}
