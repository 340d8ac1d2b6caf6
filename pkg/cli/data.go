package cli

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/natefinch/atomic"
)

func newExportCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "export",
		Description: "Download all stored records (json, ndjson, csv)",
		Flags:       flag.NewFlagSet("export", flag.ContinueOnError),
		Out:         out,
	}

	agent := addAgentFlags(cmd.Flags)
	format := cmd.Flags.String("format", "json", "Export format")
	file := cmd.Flags.String("out", "", "Write to this file instead of stdout")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), *agent.timeout)
		defer cancel()

		data, err := agent.client().Export(ctx, *format)
		if err != nil {
			return fmt.Errorf("failed to export: %w", err)
		}

		if *file == "" {
			_, err := cmd.Out.Write(data)
			return err
		}
		if err := atomic.WriteFile(*file, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to write %s: %w", *file, err)
		}
		fmt.Fprintf(cmd.Out, "Wrote %d bytes to %s\n", len(data), *file)
		return nil
	}

	return cmd
}

func newEraseCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "erase",
		Description: "Clear all stored analytics data (consent is kept)",
		Flags:       flag.NewFlagSet("erase", flag.ContinueOnError),
		Out:         out,
	}

	agent := addAgentFlags(cmd.Flags)
	yes := cmd.Flags.Bool("yes", false, "Confirm erasure")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if !*yes {
			return fmt.Errorf("refusing to erase without --yes")
		}
		ctx, cancel := context.WithTimeout(context.Background(), *agent.timeout)
		defer cancel()

		if err := agent.client().Erase(ctx); err != nil {
			return fmt.Errorf("failed to erase: %w", err)
		}
		fmt.Fprintln(cmd.Out, "All analytics data cleared.")
		return nil
	}

	return cmd
}

func newStatusCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "status",
		Description: "Show consent and the live session",
		Flags:       flag.NewFlagSet("status", flag.ContinueOnError),
		Out:         out,
	}

	agent := addAgentFlags(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), *agent.timeout)
		defer cancel()
		client := agent.client()

		status, err := client.Consent(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch consent: %w", err)
		}
		switch {
		case status.Decision == nil:
			fmt.Fprintln(cmd.Out, "Consent:  not decided")
		case status.Decision.Analytics:
			fmt.Fprintln(cmd.Out, "Consent:  analytics allowed")
		default:
			fmt.Fprintln(cmd.Out, "Consent:  analytics rejected")
		}

		s, err := client.Session(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch session: %w", err)
		}
		if s == nil {
			fmt.Fprintln(cmd.Out, "Session:  none")
			return nil
		}
		fmt.Fprintf(cmd.Out, "Session:  %s (%s)\n", s.SessionID, s.State)
		fmt.Fprintf(cmd.Out, "Pages:    %d\n", s.PageCount)
		fmt.Fprintf(cmd.Out, "Bounce:   %t\n", s.IsBounce)
		fmt.Fprintf(cmd.Out, "Duration: %ds\n", s.DurationSeconds)
		return nil
	}

	return cmd
}
