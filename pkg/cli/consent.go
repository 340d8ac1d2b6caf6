package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/platinummonkey/glimpse/pkg/api"
)

func newConsentCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "consent",
		Description: "Show or record consent (show, accept-all, reject-all, set)",
		Flags:       flag.NewFlagSet("consent", flag.ContinueOnError),
		Out:         out,
	}

	agent := addAgentFlags(cmd.Flags)
	analytics := cmd.Flags.Bool("analytics", false, "Allow analytics (with set)")
	marketing := cmd.Flags.Bool("marketing", false, "Allow marketing (with set)")

	cmd.Run = func(args []string) error {
		action := "show"
		if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
			action, args = args[0], args[1:]
		}
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		var req api.ConsentRequest
		switch action {
		case "show":
		case "accept-all":
			req = api.ConsentRequest{Analytics: true, Marketing: true}
		case "reject-all":
		case "set":
			req = api.ConsentRequest{Analytics: *analytics, Marketing: *marketing}
		default:
			return fmt.Errorf("unknown consent action: %s", action)
		}

		ctx, cancel := context.WithTimeout(context.Background(), *agent.timeout)
		defer cancel()
		client := agent.client()

		if action == "show" {
			status, err := client.Consent(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch consent: %w", err)
			}
			if status.Decision == nil {
				fmt.Fprintln(cmd.Out, "No consent decision recorded; the visitor will be prompted.")
				return nil
			}
			fmt.Fprintf(cmd.Out, "necessary=%t analytics=%t marketing=%t\n",
				status.Decision.Necessary, status.Decision.Analytics, status.Decision.Marketing)
			return nil
		}

		resp, err := client.SetConsent(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to record consent: %w", err)
		}
		if resp.Warning != "" {
			fmt.Fprintf(cmd.Out, "Warning: %s\n", resp.Warning)
		}
		fmt.Fprintf(cmd.Out, "Recorded consent %s (analytics=%t marketing=%t)\n",
			resp.Record.ID, resp.Record.Analytics, resp.Record.Marketing)
		return nil
	}

	return cmd
}
