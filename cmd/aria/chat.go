package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ariavoice/aria/internal/adapters/postgres"
	"github.com/ariavoice/aria/internal/adapters/pulsarlog"
	"github.com/ariavoice/aria/internal/application/usecases"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/llm"
	"github.com/ariavoice/aria/pkg/otel"
)

// chatCmd creates the chat command for interactive text conversations
func chatCmd() *cobra.Command {
	var userID string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive text chat with the agent",
		Long: `Start an interactive chat session against the local reasoning
pipeline. Each turn persists to PostgreSQL and becomes retrieval context
for later turns, exactly as voice turns do.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger := slog.New(otel.NewPrettyHandler(slog.LevelWarn))

			pool, err := initDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.EnsureSchema(ctx, pool, cfg.Embedding.Dimensions); err != nil {
				return fmt.Errorf("failed to ensure schema: %w", err)
			}

			// Producers dial lazily; a down broker degrades turn events
			// to warnings instead of blocking the REPL.
			durableLog, err := pulsarlog.New(cfg.Bus.DurableURL, cfg.Service.Name, cfg.Bus.RedeliverMax, logger)
			if err != nil {
				return fmt.Errorf("failed to set up durable log: %w", err)
			}
			defer durableLog.Close()

			turnRepo := postgres.NewTurnRepository(pool, cfg.Embedding.Dimensions)
			llmService := llm.NewService(llmClient, cfg.Embedding.Dimensions).
				WithEmbeddingClient(embedClient)
			reason := usecases.NewReason(turnRepo, llmService, llmService, durableLog, logger)

			count, err := turnRepo.CountByUser(ctx, userID)
			if err == nil && count > 0 {
				fmt.Printf("Chatting as %s (%d prior turns on record).\n", userID, count)
			} else {
				fmt.Printf("Chatting as %s.\n", userID)
			}
			fmt.Println("Type your message and press Enter. Type 'exit' or 'quit' to leave.")
			fmt.Println(strings.Repeat("-", 80))
			fmt.Println()

			scanner := bufio.NewScanner(os.Stdin)

			for {
				fmt.Print("You: ")
				if !scanner.Scan() {
					break
				}

				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
					fmt.Println("\nGoodbye!")
					break
				}

				state := models.NewReasoningState(userID, cfg.Service.AgentID, input)
				state.MaxTokens = cfg.LLM.MaxTokens
				state.Temperature = float32(cfg.LLM.Temperature)

				result, err := reason.Execute(ctx, state)
				if err != nil {
					return fmt.Errorf("reasoning failed: %w", err)
				}

				fmt.Printf("Aria: %s\n", result.Reply)
				if verbose {
					notes := fmt.Sprintf("turn %d, %d ms, context %d", result.TurnIndex, result.LatencyMs, result.ContextSize)
					if result.ReasoningDegraded {
						notes += ", degraded"
					}
					if result.PersistDeferred {
						notes += ", persist deferred"
					}
					fmt.Printf("  (%s)\n", notes)
				}
				fmt.Println()
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "default-user", "User to chat as")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show per-turn latency and context stats")

	return cmd
}
