package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/agentchat/clients/go/agentchat"
	"github.com/eldtechnologies/agentchat/internal/agent"
)

type options struct {
	agentsFile string
	serverURL  string
	llmURL     string
	debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "agentchat-agent ROOM AGENT",
		Short: "Run a language model as a participant of an agentchat room",
		Long: `Run a language model as a participant of an agentchat room.

AGENT names an entry of the agents file. The agent greets the room once,
answers every chat message and every @mention, and reconnects when the
server goes away. The OpenAI-compatible endpoint is authenticated with
OPENAI_API_KEY, which may also come from a .env file.

Example:
  agentchat-agent planning analyst --agents-file agents.yml`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVar(&opts.agentsFile, "agents-file", "agents.yml", "agents configuration file")
	cmd.Flags().StringVar(&opts.serverURL, "server-url", envOr("AGENTCHAT_URL", agentchat.DefaultBaseURL), "chat server address (env AGENTCHAT_URL)")
	cmd.Flags().StringVar(&opts.llmURL, "llm-url", os.Getenv("OPENAI_BASE_URL"), "OpenAI-compatible API base URL (env OPENAI_BASE_URL)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "log every answered message")

	return cmd
}

func run(parent context.Context, room, name string, opts *options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	level := zerolog.InfoLevel
	if opts.debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()

	file, err := agent.LoadFile(opts.agentsFile)
	if err != nil {
		return err
	}
	cfg, err := file.Agent(name)
	if err != nil {
		return errors.Wrap(err, opts.agentsFile)
	}

	a := agent.New(agent.Options{
		Room:    room,
		Config:  cfg,
		Common:  file.CommonSettings,
		Speaker: agent.NewOpenAISpeaker(os.Getenv("OPENAI_API_KEY"), opts.llmURL),
		Logger:  logger,
	})

	client := agentchat.NewClient(opts.serverURL)
	client.Agent = cfg.Name

	logger.Info().Str("room", a.Room()).Str("model", cfg.Model).Msgf("%s joining %s", cfg.Name, opts.serverURL)
	return a.Serve(ctx, client.Dialer())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
