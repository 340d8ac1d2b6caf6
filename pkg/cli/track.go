package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/platinummonkey/glimpse/pkg/api"
)

func newTrackCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "track",
		Description: "Capture a page view (--path) or custom event (--event)",
		Flags:       flag.NewFlagSet("track", flag.ContinueOnError),
		Out:         out,
	}

	agent := addAgentFlags(cmd.Flags)
	path := cmd.Flags.String("path", "", "Page path")
	title := cmd.Flags.String("title", "", "Page title")
	event := cmd.Flags.String("event", "", "Event name")
	data := cmd.Flags.String("data", "", "Event payload as a JSON object")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *path == "" && *event == "" {
			return fmt.Errorf("either --path or --event is required")
		}

		ctx, cancel := context.WithTimeout(context.Background(), *agent.timeout)
		defer cancel()
		client := agent.client()

		var (
			res CaptureResult
			err error
		)
		if *event != "" {
			req := api.TrackEventRequest{Name: *event, Path: *path}
			if *data != "" {
				if err := json.Unmarshal([]byte(*data), &req.Data); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}
			res, err = client.TrackEvent(ctx, req)
		} else {
			res, err = client.TrackPageView(ctx, api.TrackPageViewRequest{Path: *path, Title: *title})
		}
		if err != nil {
			return fmt.Errorf("failed to capture: %w", err)
		}

		return printCapture(cmd.Out, res)
	}

	return cmd
}

func printCapture(out io.Writer, res CaptureResult) error {
	if res.Suppressed {
		fmt.Fprintln(out, "Suppressed: analytics consent has not been granted.")
		return nil
	}
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(res.Record, &rec); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	if res.Warning != "" {
		fmt.Fprintf(out, "Captured %s (not persisted: %s)\n", rec.ID, res.Warning)
		return nil
	}
	fmt.Fprintf(out, "Captured %s\n", rec.ID)
	return nil
}

func newNavigateCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "navigate",
		Description: "Drive navigation (push, replace, back, forward, notify)",
		Flags:       flag.NewFlagSet("navigate", flag.ContinueOnError),
		Out:         out,
	}

	agent := addAgentFlags(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		rest := cmd.Flags.Args()
		if len(rest) == 0 {
			return fmt.Errorf("usage: navigate <push|replace|back|forward|notify> [path]")
		}
		req := api.NavigationRequest{Action: rest[0]}
		if len(rest) > 1 {
			req.Path = rest[1]
		}

		ctx, cancel := context.WithTimeout(context.Background(), *agent.timeout)
		defer cancel()

		resp, err := agent.client().Navigate(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to navigate: %w", err)
		}
		fmt.Fprintf(cmd.Out, "%s -> %s\n", resp.Action, resp.Location)
		return nil
	}

	return cmd
}
