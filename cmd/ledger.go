package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trybeacon/bridge/internal/auth"
	"github.com/trybeacon/bridge/internal/config"
	"github.com/trybeacon/bridge/internal/storage"
)

// openStore loads the config named by s and opens its database.
func openStore(s *settings) (*storage.SQLiteStore, *config.Config, error) {
	layout, err := s.layout()
	if err != nil {
		return nil, nil, err
	}
	cfg, _, err := s.load(layout)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(layout.DataDir, 0o755); err != nil {
		return nil, nil, err
	}
	store, err := storage.NewSQLiteStore(storagePath(cfg.Storage.Path, layout.DataDir), zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func newAuditCmd() *cobra.Command {
	var (
		s     settings
		limit int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the file manager audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(cmd.Context(), &s, limit, cmd.OutOrStdout())
		},
	}
	s.bind(cmd)
	cmd.Flags().IntVar(&limit, "limit", 50, "Number of entries to show; 0 shows all")
	return cmd
}

func runAudit(ctx context.Context, s *settings, limit int, stdout io.Writer) error {
	store, _, err := openStore(s)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.ListFileAudit(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No file actions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tPATH\tRESULT")
	for _, e := range entries {
		result := "ok"
		if !e.OK {
			result = "failed: " + e.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.Action, e.Path, result)
	}
	return w.Flush()
}

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage outstanding panel login tokens",
	}
	cmd.AddCommand(newTokensListCmd(), newTokensRevokeCmd())
	return cmd
}

func newTokensListCmd() *cobra.Command {
	var s settings
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List panel tokens that have not expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTokensList(cmd.Context(), &s, cmd.OutOrStdout())
		},
	}
	s.bind(cmd)
	return cmd
}

func runTokensList(ctx context.Context, s *settings, stdout io.Writer) error {
	store, _, err := openStore(s)
	if err != nil {
		return err
	}
	defer store.Close()

	active, err := store.ActivePanelTokens(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(active) == 0 {
		fmt.Fprintln(stdout, "No active panel tokens.")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLAYER\tUUID\tEXPIRES")
	for _, tok := range active {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tok.ID, tok.PlayerName, tok.PlayerUUID, tok.ExpiresAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func newTokensRevokeCmd() *cobra.Command {
	var (
		s  settings
		id string
	)
	cmd := &cobra.Command{
		Use:   "revoke [token]",
		Short: "Revoke a panel token",
		Long: `Revoke a panel token before it expires. Pass the token from the login link,
or --id with an ID from "beacon tokens list".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			}
			if (token == "") == (id == "") {
				return fmt.Errorf("pass either a token or --id")
			}
			return runTokensRevoke(cmd.Context(), &s, token, id, cmd.OutOrStdout())
		},
	}
	s.bind(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Ledger ID of the token")
	return cmd
}

func runTokensRevoke(ctx context.Context, s *settings, token, id string, stdout io.Writer) error {
	store, _, err := openStore(s)
	if err != nil {
		return err
	}
	defer store.Close()

	if id != "" {
		if err := store.DeletePanelToken(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Revoked token %s\n", id)
		return nil
	}

	// Redeeming consumes the token, so the panel can no longer use it.
	tok, err := auth.NewIssuer(auth.Options{Ledger: store}).Redeem(ctx, token)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Revoked token %s (%s)\n", tok.ID, tok.PlayerName)
	return nil
}
