package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ariavoice/aria/internal/config"
	"github.com/ariavoice/aria/shared/llm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "aria",
		Short: "Aria - real-time voice agent core",
		Long: `Aria is the conversational core of a real-time voice agent.
One process serves the voice turn loop, the synchronous /chat lane and
the bus-facing brain worker.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			llmClient = llm.NewClient(
				cfg.LLM.URL,
				cfg.LLM.APIKey,
				llm.WithModel(cfg.LLM.Model),
				llm.WithEmbeddingModel(cfg.Embedding.Model),
				llm.WithMaxTokens(cfg.LLM.MaxTokens),
			)

			embedClient = llmClient
			if cfg.Embedding.URL != "" {
				embedClient = llm.NewClient(
					cfg.Embedding.URL,
					cfg.LLM.APIKey,
					llm.WithEmbeddingModel(cfg.Embedding.Model),
				)
			}

			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		chatCmd(),
		sessionsCmd(),
		showCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("Service:")
			fmt.Printf("  Name:        %s\n", cfg.Service.Name)
			fmt.Printf("  Agent ID:    %s\n", cfg.Service.AgentID)
			fmt.Printf("  Environment: %s\n", cfg.Service.Environment)
			fmt.Println()

			fmt.Println("Buses:")
			fmt.Printf("  Ephemeral (NATS):  %s\n", cfg.Bus.EphemeralURL)
			fmt.Printf("  Durable (Pulsar):  %s\n", cfg.Bus.DurableURL)
			fmt.Printf("  Redeliver Max:     %d\n", cfg.Bus.RedeliverMax)
			fmt.Println()

			fmt.Println("Database:")
			fmt.Printf("  URL: %s\n", maskSecret(cfg.Database.URL))
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API Key:     %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			fmt.Println("Embedding:")
			fmt.Printf("  URL:        %s\n", cfg.EmbeddingURL())
			fmt.Printf("  Model:      %s\n", cfg.Embedding.Model)
			fmt.Printf("  Dimensions: %d\n", cfg.Embedding.Dimensions)
			fmt.Println()

			fmt.Println("STT (Speech Recognition):")
			fmt.Printf("  URL:     %s\n", cfg.STT.URL)
			fmt.Printf("  Model:   %s\n", cfg.STT.Model)
			fmt.Printf("  VAD:     %s\n", vadStatus(cfg.STT.VADModelPath))
			fmt.Printf("  API Key: %s\n", maskSecret(cfg.STT.APIKey))
			fmt.Printf("  Status:  %s\n", boolStatus(cfg.STT.URL != ""))
			fmt.Println()

			fmt.Println("TTS (Text-to-Speech):")
			fmt.Printf("  URL:     %s\n", cfg.TTS.URL)
			fmt.Printf("  Model:   %s\n", cfg.TTS.Model)
			fmt.Printf("  Voice:   %s\n", cfg.TTS.Voice)
			fmt.Printf("  Slots:   %d\n", cfg.TTS.MaxConcurrent)
			fmt.Printf("  API Key: %s\n", maskSecret(cfg.TTS.APIKey))
			fmt.Printf("  Status:  %s\n", boolStatus(cfg.TTS.URL != ""))
			fmt.Println()

			fmt.Println("Voice deadlines:")
			fmt.Printf("  Turn:            %s\n", cfg.Voice.TurnTimeout)
			fmt.Printf("  Reasoning:       %s\n", cfg.Voice.ReasonTimeout)
			fmt.Printf("  STT final:       %s\n", cfg.Voice.STTTimeout)
			fmt.Printf("  TTS first chunk: %s\n", cfg.Voice.TTSFirstChunk)
			fmt.Println()

			fmt.Println("Server:")
			fmt.Printf("  Listen: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  SERVICE_NAME, AGENT_ID, ENVIRONMENT")
			fmt.Println("  BUS_EPHEMERAL_URL, BUS_DURABLE_URL, REDELIVER_MAX, MAX_RECONNECT")
			fmt.Println("  DB_URL")
			fmt.Println("  LLM_URL, LLM_API_KEY, LLM_MODEL, LLM_MAX_TOKENS, LLM_TEMPERATURE")
			fmt.Println("  EMBEDDING_URL, EMBEDDING_MODEL, EMBEDDING_DIM")
			fmt.Println("  STT_URL, STT_API_KEY, STT_MODEL, VAD_MODEL_PATH")
			fmt.Println("  TTS_URL, TTS_API_KEY, TTS_MODEL, TTS_VOICE, MAX_CONCURRENT_TTS")
			fmt.Println("  T_TURN_MS, T_REASON_MS, T_STT_MS, T_TTS_FIRST_CHUNK_MS")
			fmt.Println("  HTTP_HOST, HTTP_PORT, OTEL_ENDPOINT, LOG_LEVEL")

			return nil
		},
	}
}

func vadStatus(modelPath string) string {
	if modelPath == "" {
		return "energy gate"
	}
	return "silero (" + modelPath + ")"
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Aria %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
