package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/rube/auth"
	authsqlite "github.com/PipeOpsHQ/rube/auth/sqlite"
)

func newKeysCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newKeysCreateCmd(opts), newKeysListCmd(opts), newKeysDisableCmd(opts))
	return cmd
}

func openKeys(opts *rootOptions) (*authsqlite.Store, error) {
	store, err := authsqlite.New(opts.cfg.Store.AuthPath)
	if err != nil {
		return nil, fmt.Errorf("open api key store: %w", err)
	}
	return store, nil
}

func newKeysCreateCmd(opts *rootOptions) *cobra.Command {
	var email, label string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openKeys(opts)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			key, err := store.CreateKey(cmd.Context(), email, label)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created key %s for %s\n", key.ID, key.Email)
			fmt.Fprintf(out, "secret: %s\n", key.Secret)
			fmt.Fprintln(out, "store the secret now; it cannot be shown again")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "owner email (required)")
	cmd.Flags().StringVar(&label, "label", "", "free-form label")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newKeysListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openKeys(opts)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			keys, err := store.ListKeys(cmd.Context())
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no api keys")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tLABEL\tCREATED\tLAST USED\tSTATE")
			for _, k := range keys {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					k.ID, k.Email, dash(k.Label), humanize.Time(k.CreatedAt), lastUsed(k), keyState(k))
			}
			return tw.Flush()
		},
	}
}

func newKeysDisableCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <key-id>",
		Short: "Disable an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKeys(opts)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.DisableKey(cmd.Context(), strings.TrimSpace(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "disabled key %s\n", args[0])
			return nil
		},
	}
}

func lastUsed(k auth.APIKey) string {
	if k.LastUsedAt == nil {
		return "never"
	}
	return humanize.Time(*k.LastUsedAt)
}

func keyState(k auth.APIKey) string {
	if k.DisabledAt != nil {
		return "disabled"
	}
	return "active"
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
