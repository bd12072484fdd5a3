package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudvault-io/cvapi/pkg/cvapi"
	"github.com/cloudvault-io/cvapi/pkg/cvclient"
)

// NewEventsCommand creates the events command group.
func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow server event streams",
		Long:  "Follow the user event stream or the enterprise admin log",
	}

	cmd.AddCommand(newEventsListenCommand())
	cmd.AddCommand(newEventsAdminCommand())

	return cmd
}

func newEventsListenCommand() *cobra.Command {
	var (
		position string
		count    int
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Follow the user event stream",
		Long:  "Long-poll the user event stream and print events as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient()
			if err != nil {
				return err
			}

			var options []cvclient.EventStreamOption
			if position != "" {
				options = append(options, cvclient.WithStartingPosition(position))
			}

			stream := client.EventStream(options...)

			for delivered := 0; count <= 0 || delivered < count; {
				event, err := stream.Next(cmd.Context())
				if err != nil {
					if cvapi.IsExpiredAuth(err) {
						return err
					}

					fmt.Fprintf(os.Stderr, "stream error, resuming: %v\n", err)

					continue
				}

				if printErr := printObject(event); printErr != nil {
					return printErr
				}

				delivered++
			}

			fmt.Fprintf(os.Stderr, "stream position: %s\n", stream.Position())

			return nil
		},
	}

	cmd.Flags().StringVar(&position, "position", "", "stream position to resume from (default: current end of the log)")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many events (0 = run until interrupted)")

	return cmd
}

func newEventsAdminCommand() *cobra.Command {
	var (
		position  string
		startDate string
		follow    bool
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Read the enterprise admin log",
		Long:  "Poll the enterprise admin log from a cursor or start date and print the events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient()
			if err != nil {
				return err
			}

			options := []cvclient.EnterpriseEventStreamOption{
				cvclient.WithDateRange(startDate, ""),
			}

			if position != "" {
				options = append(options, cvclient.WithStreamState(cvclient.StreamState{Position: position}))
			}

			if follow {
				options = append(options, cvclient.WithPollingInterval(interval))
			} else {
				options = append(options, cvclient.WithPollingInterval(0))
			}

			stream := client.EnterpriseEventStream(options...)

			var events []cvapi.Event

			for {
				event, err := stream.Next(cmd.Context())
				if err != nil {
					if errors.Is(err, cvapi.ErrStreamEnded) {
						break
					}

					return err
				}

				if follow {
					if printErr := printObject(event); printErr != nil {
						return printErr
					}

					continue
				}

				events = append(events, *event)
			}

			if !follow {
				if renderErr := renderEvents(events); renderErr != nil {
					return renderErr
				}
			}

			fmt.Fprintf(os.Stderr, "stream position: %s\n", stream.Position())

			return nil
		},
	}

	cmd.Flags().StringVar(&position, "position", "", "admin-log cursor to resume from")
	cmd.Flags().StringVar(&startDate, "start-date", "", "RFC 3339 lower bound when no cursor is given")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep polling for new events instead of stopping at the end of the log")
	cmd.Flags().DurationVar(&interval, "interval", 60*time.Second, "polling interval with --follow")

	return cmd
}

func renderEvents(events []cvapi.Event) error {
	if viper.GetString("output") != "table" {
		return printObject(events)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Event ID", "Type", "Created", "Actor")

	for _, event := range events {
		actor := ""
		if name, ok := event.CreatedBy["name"].(string); ok {
			actor = name
		}

		_ = table.Append(event.EventID, event.EventType, event.CreatedAt, actor)
	}

	return table.Render()
}
