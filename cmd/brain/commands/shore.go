package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/config"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/printer"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/shore"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

var (
	shoreRedisURL string
	shoreVehicle  string
	shoreLink     string
	shoreOutput   string
	shoreSendType string
)

var shoreCmd = &cobra.Command{
	Use:   "shore",
	Short: "Inspect and command a vehicle through its Redis mirror",
	Long: `Shore-station tools for a vehicle running with --redis-url.

Examples:
  # Last value of every mirrored field
  brain shore snapshot --redis-url redis://localhost:6379

  # Stream telemetry as JSON
  brain shore watch --output=json > telemetry.jsonl

  # Start the mission remotely
  brain shore send cmdline start`,
}

var shoreSnapshotCmd = &cobra.Command{
	Use:   "snapshot [FIELD]",
	Short: "Print the last value of every mirrored field",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShoreSnapshot,
}

var shoreWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream telemetry as it is sent",
	Args:  cobra.NoArgs,
	RunE:  runShoreWatch,
}

var shoreSendCmd = &cobra.Command{
	Use:   "send FIELD VALUE",
	Short: "Publish one field to the vehicle",
	Long: `Publish one field on the link's commands channel. The vehicle applies it
on its next receive. Arrays are comma-separated.

Types: b (bool), i (int), i[] (int array), d (double), d[] (double array),
s (string).`,
	Args: cobra.ExactArgs(2),
	RunE: runShoreSend,
}

func init() {
	pf := shoreCmd.PersistentFlags()
	pf.StringVar(&shoreRedisURL, "redis-url", "redis://localhost:6379/0", "Shore Redis URL")
	pf.StringVar(&shoreVehicle, "vehicle", config.DefaultVehicle, "Vehicle name")
	pf.StringVar(&shoreLink, "link", config.DefaultShoreLink, "Link id")

	shoreSnapshotCmd.Flags().StringVarP(&shoreOutput, "output", "o", "default", "Output format (default or json)")
	shoreWatchCmd.Flags().StringVarP(&shoreOutput, "output", "o", "default", "Output format (default or json)")
	shoreSendCmd.Flags().StringVarP(&shoreSendType, "type", "t", "s", "Type code of VALUE")

	shoreCmd.AddCommand(shoreSnapshotCmd, shoreWatchCmd, shoreSendCmd)
	rootCmd.AddCommand(shoreCmd)
}

func connectShore(ctx context.Context, p *printer.Printer) (*shore.Client, error) {
	opts, err := redis.ParseURL(shoreRedisURL)
	if err != nil {
		return nil, p.Error(
			"invalid redis url",
			fmt.Sprintf("Error: %v", err),
			[]string{"Use the form redis://host:port/db"},
		)
	}
	client, err := shore.NewClient(ctx, opts, shoreVehicle, shoreLink)
	if err != nil {
		return nil, p.Error(
			"shore redis unreachable",
			fmt.Sprintf("Error: %v", err),
			[]string{"Check the server is running:\n  redis-cli -u " + shoreRedisURL + " ping"},
		)
	}
	return client, nil
}

func parseShoreOutput(p *printer.Printer) (shore.OutputFormat, error) {
	format, err := shore.ParseOutputFormat(shoreOutput)
	if err != nil {
		return "", p.Error("invalid output format", err.Error(), []string{"Valid formats: default, json"})
	}
	return format, nil
}

func runShoreSnapshot(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	format, err := parseShoreOutput(p)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	client, err := connectShore(ctx, p)
	if err != nil {
		return err
	}
	defer client.Close()

	var fields []shore.Field
	if len(args) == 1 {
		f, err := client.Get(ctx, args[0])
		if shore.IsNotFound(err) {
			return p.Error(
				"field not found",
				err.Error(),
				[]string{"List every field:\n  brain shore snapshot"},
			)
		}
		if err != nil {
			return fmt.Errorf("failed to read field: %w", err)
		}
		fields = []shore.Field{f}
	} else {
		fields, err = client.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to read mirror: %w", err)
		}
	}

	if format == shore.OutputFormatJSON {
		return shore.FormatJSONL(cmd.OutOrStdout(), fields)
	}
	shore.FormatTable(cmd.OutOrStdout(), fields, client.Vehicle(), client.Link())
	return nil
}

func runShoreWatch(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	format, err := parseShoreOutput(p)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connectShore(ctx, p)
	if err != nil {
		return err
	}
	defer client.Close()

	if format == shore.OutputFormatDefault {
		p.Step("watching %s/%s (Ctrl+C to stop)\n", client.Vehicle(), client.Link())
	}
	return client.Watch(ctx, func(f shore.Field) error {
		return shore.FormatEvent(cmd.OutOrStdout(), f, format)
	})
}

func runShoreSend(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	field, raw := args[0], args[1]

	_, v, err := comms.DecodeLine(comms.Prefix + field + comms.Separator + shoreSendType + comms.Separator + raw)
	if err != nil {
		return p.Error(
			fmt.Sprintf("cannot send %s", field),
			fmt.Sprintf("Error: %v", err),
			[]string{"Check --type matches VALUE, e.g. --type d 1050.5"},
		)
	}

	ctx := cmd.Context()
	client, err := connectShore(ctx, p)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Send(ctx, field, v); err != nil {
		return p.Error(
			fmt.Sprintf("failed to send %s", field),
			fmt.Sprintf("Error: %v", err),
			[]string{fmt.Sprintf("Check the vehicle is running with --redis-url and --vehicle %s", client.Vehicle())},
		)
	}
	p.Success("sent %s=%s to %s/%s\n", field, raw, client.Vehicle(), client.Link())
	return nil
}
