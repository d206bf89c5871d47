package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewCommand returns the "queue" command operating on the registry.
func NewCommand(registry *Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and operate job queues",
	}
	cmd.AddCommand(
		newCountsCommand(registry),
		newPauseCommand(registry, true),
		newPauseCommand(registry, false),
		newFlushCommand(registry),
		newReloadCommand(registry),
		newAddCommand(registry),
	)
	return cmd
}

func newCountsCommand(registry *Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Print job counts of every queue as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := registry.Counts(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(counts)
		},
	}
}

func newPauseCommand(registry *Registry, pause bool) *cobra.Command {
	use, short := "resume <queue>", "Resume dispatching of a queue"
	if pause {
		use, short = "pause <queue>", "Stop dispatching of a queue"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			if pause {
				return q.Pause(cmd.Context())
			}
			return q.Resume(cmd.Context())
		},
	}
}

func newFlushCommand(registry *Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "flush <queue> <channel>",
		Short: "Drop every job of a channel (waiting, delayed, reserved or failed)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, err := brokerDriver(registry, args[0])
			if err != nil {
				return err
			}
			return driver.Flush(cmd.Context(), args[1])
		},
	}
}

func newReloadCommand(registry *Registry) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "reload <queue>",
		Short: "Move jobs of a channel back to waiting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, err := brokerDriver(registry, args[0])
			if err != nil {
				return err
			}
			n, err := driver.Reload(cmd.Context(), channel)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d jobs reloaded\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "failed", "channel to reload (failed, delayed or reserved)")
	return cmd
}

func newAddCommand(registry *Registry) *cobra.Command {
	var (
		attempts int
		delay    time.Duration
		jobID    string
	)
	cmd := &cobra.Command{
		Use:   "add <queue> <json payload>",
		Short: "Enqueue a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			var data Payload
			if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
				return errors.Wrap(err, "decode payload")
			}
			opts := []JobOption{Attempts(attempts), Delay(delay)}
			if jobID != "" {
				opts = append(opts, JobID(jobID))
			}
			job, err := q.Add(cmd.Context(), data, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", job)
			return nil
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 1, "maximum number of attempts")
	cmd.Flags().DurationVar(&delay, "delay", 0, "postpone the first attempt")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job id, adding a known id is a no-op")
	return cmd
}

func brokerDriver(registry *Registry, name string) (Driver, error) {
	q, err := registry.Get(name)
	if err != nil {
		return nil, err
	}
	b, ok := q.(*BrokerQueue)
	if !ok {
		return nil, errors.Errorf("queue %s has no broker", name)
	}
	return b.Driver(), nil
}
