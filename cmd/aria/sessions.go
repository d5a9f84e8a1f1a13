package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ariavoice/aria/internal/adapters/postgres"
	"github.com/ariavoice/aria/internal/domain"
)

// sessionsCmd lists recent sessions for a user
func sessionsCmd() *cobra.Command {
	var userID string
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent voice sessions",
		Long:  `List a user's recent sessions with their turn counts and latency aggregates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pool, err := initDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := postgres.NewSessionRepository(pool)

			sessions, err := repo.ListByUserID(ctx, userID, limit, 0)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}

			if len(sessions) == 0 {
				fmt.Printf("No sessions found for %s.\n", userID)
				return nil
			}

			if active, err := repo.CountActive(ctx); err == nil {
				fmt.Printf("Active sessions (all users): %d\n\n", active)
			}

			fmt.Printf("%-24s %-8s %-17s %6s %8s %8s %s\n",
				"ID", "Status", "Started", "Turns", "Avg ms", "P95 ms", "Quality")
			fmt.Println(strings.Repeat("-", 90))

			for _, s := range sessions {
				quality := s.ConnectionQuality
				if quality == "" {
					quality = "-"
				}
				fmt.Printf("%-24s %-8s %-17s %6d %8d %8d %s\n",
					s.ID, s.Status, s.StartedAt.Format("2006-01-02 15:04"),
					s.TotalTurns, s.AvgLatencyMs, s.P95LatencyMs, quality)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "default-user", "User whose sessions to list")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of sessions to list")

	return cmd
}

// showCmd shows one session's full record
func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sessionID := args[0]

			pool, err := initDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := postgres.NewSessionRepository(pool)

			sess, err := repo.GetByID(ctx, sessionID)
			if err != nil {
				if errors.Is(err, domain.ErrSessionNotFound) {
					return fmt.Errorf("session not found: %s", sessionID)
				}
				return fmt.Errorf("failed to get session: %w", err)
			}

			fmt.Printf("Session: %s\n", sess.ID)
			fmt.Printf("  User:     %s\n", sess.UserID)
			fmt.Printf("  Agent:    %s\n", sess.AgentID)
			if sess.RoomID != "" {
				fmt.Printf("  Room:     %s\n", sess.RoomID)
			}
			if sess.ParticipantID != "" {
				fmt.Printf("  Peer:     %s\n", sess.ParticipantID)
			}
			fmt.Printf("  Status:   %s\n", sess.Status)
			fmt.Printf("  Started:  %s\n", sess.StartedAt.Format("2006-01-02 15:04:05"))
			if sess.EndedAt != nil {
				fmt.Printf("  Ended:    %s\n", sess.EndedAt.Format("2006-01-02 15:04:05"))
			}
			if sess.DurationS != nil {
				fmt.Printf("  Duration: %.1fs\n", *sess.DurationS)
			}
			fmt.Printf("  Turns:    %d\n", sess.TotalTurns)
			fmt.Printf("  Latency:  avg %d ms, p95 %d ms, p99 %d ms\n",
				sess.AvgLatencyMs, sess.P95LatencyMs, sess.P99LatencyMs)
			fmt.Printf("  Dropped:  %d frames\n", sess.FramesDropped)
			if sess.ConnectionQuality != "" {
				fmt.Printf("  Quality:  %s\n", sess.ConnectionQuality)
			}

			return nil
		},
	}
}
