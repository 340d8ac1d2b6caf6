package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultAgentURL is used when neither --agent nor GLIMPSE_AGENT_URL is set.
const DefaultAgentURL = "http://127.0.0.1:7480"

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
	Out         io.Writer
}

// NewRootCommand creates the root command
func NewRootCommand(out io.Writer) *Command {
	if out == nil {
		out = os.Stdout
	}
	root := &Command{
		Name:        "glimpse-cli",
		Description: "glimpse - privacy-gated telemetry agent CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("glimpse-cli", flag.ContinueOnError),
		Out:         out,
	}

	// Add subcommands
	root.Subcommands["report"] = newReportCommand(out)
	root.Subcommands["consent"] = newConsentCommand(out)
	root.Subcommands["track"] = newTrackCommand(out)
	root.Subcommands["navigate"] = newNavigateCommand(out)
	root.Subcommands["export"] = newExportCommand(out)
	root.Subcommands["erase"] = newEraseCommand(out)
	root.Subcommands["status"] = newStatusCommand(out)

	return root
}

// Execute runs the subcommand named by args[0].
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		err := subcmd.Run(args[1:])
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(c.Out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.Out, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.Out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// agentFlags are shared by every subcommand.
type agentFlags struct {
	url      *string
	timeout  *time.Duration
	logLevel *string
}

func addAgentFlags(fs *flag.FlagSet) *agentFlags {
	def := os.Getenv("GLIMPSE_AGENT_URL")
	if def == "" {
		def = DefaultAgentURL
	}
	return &agentFlags{
		url:      fs.String("agent", def, "Agent base URL"),
		timeout:  fs.Duration("timeout", 10*time.Second, "Request timeout"),
		logLevel: fs.String("log-level", "warn", "Log level (debug, info, warn, error)"),
	}
}

func (a *agentFlags) client() *Client {
	return NewClient(*a.url, *a.timeout, newLogger(*a.logLevel))
}

func newLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)

	return logger
}
