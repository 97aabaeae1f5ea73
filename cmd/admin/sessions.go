package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"handoffdesk/backend/internal/models"

	"github.com/spf13/cobra"
)

func newWaitingCmd(open deskOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "waiting",
		Short: "List sessions waiting for an agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd, open, func(ctx context.Context, d *desk) error {
				sessions, err := d.svc.ListWaiting(ctx)
				if err != nil {
					return err
				}
				printSessions(cmd.OutOrStdout(), sessions, d.svc.Timeout(), time.Now().UTC())
				return nil
			})
		},
	}
}

func newSessionsCmd(open deskOpener) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the most recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd, open, func(ctx context.Context, d *desk) error {
				sessions, err := d.svc.ListSessions(ctx, status)
				if err != nil {
					return err
				}
				printSessions(cmd.OutOrStdout(), sessions, d.svc.Timeout(), time.Now().UTC())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (waiting, connected, ended, timeout)")
	return cmd
}

func newAcceptCmd(open deskOpener) *cobra.Command {
	var adminID, adminName string
	cmd := &cobra.Command{
		Use:   "accept <sessionId>",
		Short: "Accept a waiting session on behalf of an admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd, open, func(ctx context.Context, d *desk) error {
				s, err := d.svc.AcceptSession(ctx, args[0], adminID, adminName)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s connected to %s (%s)\n", s.ID, s.AdminName, s.AdminIDValue())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&adminID, "admin-id", "", "accepting admin id (required)")
	cmd.Flags().StringVar(&adminName, "admin-name", "", "display name shown to the requester")
	_ = cmd.MarkFlagRequired("admin-id")
	return cmd
}

func newEndCmd(open deskOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "end <sessionId>",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd, open, func(ctx context.Context, d *desk) error {
				s, err := d.svc.EndSession(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s is %s\n", s.ID, s.Status)
				return nil
			})
		},
	}
}

func newExpireCmd(open deskOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Time out waiting sessions past their acceptance window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd, open, func(ctx context.Context, d *desk) error {
				n, err := d.svc.ExpireOverdue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d session(s)\n", n)
				return nil
			})
		},
	}
}

func printSessions(out io.Writer, sessions []models.HandoffSession, timeout time.Duration, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONVERSATION\tSTATUS\tADMIN\tREQUESTED\tREMAINING")
	for _, s := range sessions {
		remaining := "-"
		if s.Status == models.StatusWaiting {
			remaining = s.Remaining(now, timeout).Round(time.Second).String()
		}
		admin := s.AdminName
		if admin == "" {
			admin = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.ConversationID, s.Status, admin, s.RequestedAt.Format(time.RFC3339), remaining)
	}
	w.Flush()
}
