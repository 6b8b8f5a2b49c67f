package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trybeacon/bridge/internal/auth"
	"github.com/trybeacon/bridge/internal/hostloop"
	"github.com/trybeacon/bridge/internal/supervisor"
)

type panelOptions struct {
	settings
	playerUUID string
	playerName string
	qr         bool
	timeout    time.Duration
}

func newPanelCmd() *cobra.Command {
	var o panelOptions
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Issue a panel login link for a player",
		Long: `Connect to the backend, issue a panel login token for the given player and
print the login link. The player is treated as a server operator.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPanel(cmd.Context(), &o, cmd.OutOrStdout())
		},
	}
	o.bind(cmd)
	f := cmd.Flags()
	f.StringVar(&o.playerUUID, "player-uuid", "", "Player UUID")
	f.StringVar(&o.playerName, "player-name", "", "Player name")
	f.BoolVar(&o.qr, "qr", false, "Also print the link as a QR code")
	f.DurationVar(&o.timeout, "timeout", 10*time.Second, "How long to wait for the backend")
	cmd.MarkFlagRequired("player-uuid")
	cmd.MarkFlagRequired("player-name")
	return cmd
}

func runPanel(ctx context.Context, o *panelOptions, stdout io.Writer) error {
	store, cfg, err := openStore(&o.settings)
	if err != nil {
		return err
	}
	defer store.Close()
	logger := zap.NewNop()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	loop := hostloop.New(hostloop.TickInterval, logger)
	go loop.Run(ctx)

	sup := supervisor.New(supervisor.Options{
		Endpoint: cfg.Backend.WebSocketURL,
		Loop:     loop,
		Logger:   logger,
	})
	defer sup.Shutdown()
	sup.Connect()
	if err := waitOpen(ctx, sup); err != nil {
		return fmt.Errorf("backend at %s is not reachable: %w", cfg.Backend.WebSocketURL, err)
	}

	issuer := auth.NewIssuer(auth.Options{
		Ledger: store,
		Sender: sup,
		Expiry: cfg.TokenExpiry,
		Link:   cfg.PanelLink,
		Logger: logger,
	})
	g, err := issuer.Issue(ctx, auth.Player{UUID: o.playerUUID, Name: o.playerName, Operator: true})
	if err != nil {
		return err
	}
	DisplayPanelLink(stdout, g, o.qr)
	return nil
}

func waitOpen(ctx context.Context, sup *supervisor.Supervisor) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for !sup.IsOpen() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// DisplayPanelLink prints the login link, optionally preceded by a QR code.
func DisplayPanelLink(w io.Writer, g auth.Grant, withQR bool) {
	if withQR {
		// Medium error correction keeps the code small enough for a terminal.
		qr, err := qrcode.New(g.Link, qrcode.Medium)
		if err != nil {
			fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		} else {
			fmt.Fprintln(w, "")
			fmt.Fprint(w, qr.ToSmallString(false))
		}
	}
	fmt.Fprintln(w, "Open your Beacon panel:")
	fmt.Fprintf(w, "  %s\n", g.Link)
	fmt.Fprintf(w, "  Expires: %s\n", g.ExpiresAt.Format("15:04:05"))
}
