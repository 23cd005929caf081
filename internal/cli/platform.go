package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/rube/connections"
	"github.com/PipeOpsHQ/rube/platform"
)

func newToolkitsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toolkits",
		Short: "List the platform's toolkits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newPlatformClient(opts.cfg, opts.logger, nil, nil)
			page, err := client.ListToolkits(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tNAME\tTOOLS")
			for _, tk := range page.Items {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", tk.Slug, tk.Name, humanize.Comma(int64(tk.Meta.ToolsCount)))
			}
			return tw.Flush()
		},
	}
}

func newConnectionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Inspect connected accounts",
	}
	cmd.AddCommand(newConnectionsListCmd(opts), newConnectionsWaitCmd(opts))
	return cmd
}

func newConnectionsListCmd(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's connected accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newPlatformClient(opts.cfg, opts.logger, nil, nil)
			registry := connections.NewRegistry(client,
				connections.WithDetailConcurrency(opts.cfg.Connections.DetailConcurrency),
				connections.WithRegistryLogger(opts.logger.Named("registry")),
			)
			accounts, err := registry.List(cmd.Context(), user)
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no connected accounts for %s\n", user)
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tAPP\tSTATUS\tCREATED")
			for _, acc := range accounts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", acc.ID, acc.AppName, acc.Status, createdAgo(acc.CreatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "platform user id, normally the user's email (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newConnectionsWaitCmd(opts *rootOptions) *cobra.Command {
	var (
		attempts int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait <connected-account-id>",
		Short: "Poll a connected account until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newPlatformClient(opts.cfg, opts.logger, nil, nil)
			registry := connections.NewRegistry(client)
			controller := connections.NewController(client, connections.NewAuthConfigs(client, nil), registry,
				connections.WithWaitDefaults(connections.WaitOptions{
					MaxAttempts: opts.cfg.Connections.WaitMaxAttempts,
					Interval:    opts.cfg.Connections.WaitInterval,
				}),
				connections.WithControllerLogger(opts.logger.Named("connections")),
			)
			res, err := controller.WaitForActive(cmd.Context(), args[0], connections.WaitOptions{
				MaxAttempts: attempts,
				Interval:    interval,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s after %d %s\n", res.Status, res.Attempts, pluralize(res.Attempts, "poll"))
			if res.Status != platform.StatusActive {
				return fmt.Errorf("connection %s is %s", args[0], res.Status)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 0, "maximum polls (default from config)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "delay between polls (default from config)")
	return cmd
}

func createdAgo(raw string) string {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return dash(raw)
	}
	return humanize.Time(t)
}

func pluralize(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
